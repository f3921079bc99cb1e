// Package syncbus propagates cache invalidations between processes. Every bus
// carries the invalidated keys on a single channel, topic or subject, so a
// subscriber sees every key published by any peer, itself included.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultChannel is the channel, subject or topic used when none is given.
const DefaultChannel = "seckill.invalidate"

const subscriberBuffer = 64

// Bus publishes invalidated keys and delivers them to subscribers.
type Bus interface {
	Publish(ctx context.Context, key string) error
	// Subscribe returns a channel receiving published keys. The channel is
	// closed when ctx is done or the bus is closed.
	Subscribe(ctx context.Context) (<-chan string, error)
	Close() error
}

// Metrics reports bus activity.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// fanout multiplexes received keys onto local subscriber channels. Slow
// subscribers miss keys instead of blocking the transport.
type fanout struct {
	mu        sync.Mutex
	subs      map[chan string]struct{}
	closed    bool
	delivered atomic.Uint64
}

func newFanout() *fanout {
	return &fanout{subs: make(map[chan string]struct{})}
}

func (f *fanout) add(ctx context.Context) (<-chan string, bool) {
	ch := make(chan string, subscriberBuffer)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, false
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.remove(ch)
	}()
	return ch, true
}

func (f *fanout) remove(ch chan string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *fanout) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fanout) deliver(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- key:
			f.delivered.Add(1)
		default:
		}
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

// dedup drops a publish for a key that is already being published.
type dedup struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func (d *dedup) begin(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		d.pending = make(map[string]struct{})
	}
	if _, ok := d.pending[key]; ok {
		return false
	}
	d.pending[key] = struct{}{}
	return true
}

func (d *dedup) end(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// InMemoryBus is a local implementation of Bus mainly for testing.
type InMemoryBus struct {
	fan       *fanout
	dedup     dedup
	published atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{fan: newFanout()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	if !b.dedup.begin(key) {
		return nil
	}
	defer b.dedup.end(key)
	b.published.Add(1)
	b.fan.deliver(key)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context) (<-chan string, error) {
	ch, ok := b.fan.add(ctx)
	if !ok {
		return nil, ErrBusClosed
	}
	return ch, nil
}

// Close implements Bus.Close.
func (b *InMemoryBus) Close() error {
	b.fan.close()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.fan.delivered.Load(),
	}
}
