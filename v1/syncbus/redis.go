package syncbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
)

const redisBusTimeout = 5 * time.Second

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("syncbus: closed")

// RedisBus implements Bus using Redis pub/sub.
type RedisBus struct {
	client    *redis.Client
	channel   string
	fan       *fanout
	dedup     dedup
	published atomic.Uint64

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisBus returns a RedisBus publishing on channel. An empty channel
// selects DefaultChannel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel, fan: newFanout()}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	if !b.dedup.begin(key) {
		return nil
	}
	defer b.dedup.end(key)
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.channel, key).Err(); err != nil {
		return warperrors.Translate(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first call opens the Redis
// subscription and waits for the server to confirm it.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan string, error) {
	b.mu.Lock()
	if b.pubsub == nil {
		ps := b.client.Subscribe(ctx, b.channel)
		if _, err := ps.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = ps.Close()
			return nil, warperrors.Translate(err)
		}
		b.pubsub = ps
		go b.dispatch(ps)
	}
	b.mu.Unlock()
	ch, ok := b.fan.add(ctx)
	if !ok {
		return nil, ErrBusClosed
	}
	return ch, nil
}

func (b *RedisBus) dispatch(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		b.fan.deliver(msg.Payload)
	}
}

// Close implements Bus.Close.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()
	b.fan.close()
	if ps != nil {
		return ps.Close()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.fan.delivered.Load(),
	}
}
