package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus using a NATS subject.
type NATSBus struct {
	conn      *nats.Conn
	subject   string
	fan       *fanout
	dedup     dedup
	published atomic.Uint64

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection. An empty
// subject selects DefaultChannel.
func NewNATSBus(conn *nats.Conn, subject string) *NATSBus {
	if subject == "" {
		subject = DefaultChannel
	}
	return &NATSBus{conn: conn, subject: subject, fan: newFanout()}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	if !b.dedup.begin(key) {
		return nil
	}
	defer b.dedup.end(key)
	if err := b.conn.Publish(b.subject, []byte(key)); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan string, error) {
	b.mu.Lock()
	if b.sub == nil {
		sub, err := b.conn.Subscribe(b.subject, func(m *nats.Msg) {
			b.fan.deliver(string(m.Data))
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if err := b.conn.Flush(); err != nil {
			_ = sub.Unsubscribe()
			b.mu.Unlock()
			return nil, err
		}
		b.sub = sub
	}
	b.mu.Unlock()
	ch, ok := b.fan.add(ctx)
	if !ok {
		return nil, ErrBusClosed
	}
	return ch, nil
}

// Close implements Bus.Close. The connection stays open.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	b.fan.close()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.fan.delivered.Load(),
	}
}
