package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockBus struct {
	publishFunc func(ctx context.Context, key string) error
	*InMemoryBus
}

func (m *mockBus) Publish(ctx context.Context, key string) error {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, key)
	}
	return m.InMemoryBus.Publish(ctx, key)
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(mb, 2, timeout)

	ctx := context.Background()
	failErr := errors.New("fail")

	if !cb.IsHealthy() {
		t.Fatal("expected healthy initially")
	}

	mb.publishFunc = func(ctx context.Context, key string) error { return failErr }
	if err := cb.Publish(ctx, "key"); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after 1 failure (threshold 2)")
	}
	if err := cb.Publish(ctx, "key"); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected open after threshold reached")
	}
	if err := cb.Publish(ctx, "key"); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(timeout + 10*time.Millisecond)

	mb.publishFunc = nil
	if err := cb.Publish(ctx, "key"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.failures != 0 {
		t.Fatalf("expected failures=0, got %d", cb.failures)
	}

	mb.publishFunc = func(ctx context.Context, key string) error { return failErr }
	_ = cb.Publish(ctx, "key")
	_ = cb.Publish(ctx, "key")
	time.Sleep(timeout + 10*time.Millisecond)
	if err := cb.Publish(ctx, "key"); err != failErr {
		t.Fatalf("expected failErr from half-open probe, got %v", err)
	}
	if err := cb.Publish(ctx, "key"); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
}

func TestCircuitBreakerPassthrough(t *testing.T) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	cb := NewCircuitBreaker(mb, 5, time.Minute)
	ctx := context.Background()

	sub, err := cb.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := cb.Publish(ctx, "cache:shop:1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case key := <-sub:
		if key != "cache:shop:1" {
			t.Fatalf("unexpected key %q", key)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on underlying bus")
	}
}
