package syncbus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client, "")
	t.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
		mr.Close()
	})
	return bus, mr, context.Background()
}

func TestRedisBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus, _, ctx := newRedisBus(t)
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "cache:shop:7"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectKey(t, ch, "cache:shop:7")
	metrics := bus.Metrics()
	if metrics.Published != 1 {
		t.Fatalf("expected published 1 got %d", metrics.Published)
	}
	if metrics.Delivered != 1 {
		t.Fatalf("expected delivered 1 got %d", metrics.Delivered)
	}
}

func TestRedisBusPeersShareChannel(t *testing.T) {
	bus, mr, ctx := newRedisBus(t)
	peerClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	peer := NewRedisBus(peerClient, "")
	t.Cleanup(func() {
		_ = peer.Close()
		_ = peerClient.Close()
	})
	ch, err := peer.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "cache:shop:1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectKey(t, ch, "cache:shop:1")
}

func TestRedisBusContextBasedUnsubscribe(t *testing.T) {
	bus, _, _ := newRedisBus(t)
	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	expectClosed(t, ch)
	if n := bus.fan.size(); n != 0 {
		t.Fatalf("subscription still present after context cancel")
	}
}

func TestRedisBusPublishError(t *testing.T) {
	bus, _, ctx := newRedisBus(t)
	_ = bus.client.Close()
	if err := bus.Publish(ctx, "key"); err == nil {
		t.Fatal("expected publish error")
	}
	if m := bus.Metrics(); m.Published != 0 {
		t.Fatalf("expected published 0 got %d", m.Published)
	}
}
