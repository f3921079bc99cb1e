package cache

import (
	"context"
	"testing"
	"time"
)

func TestGobCodecClient(t *testing.T) {
	mr, client := newTestRedis(t)
	c := newShopClient(t, client, WithCodec(GobCodec{}))
	l := &shopLoader{known: map[int64]shop{1: {ID: 1, Name: "tea"}}}
	ctx := context.Background()

	if _, err := c.QueryWithPassThrough(ctx, shopPrefix, 1, l.load, time.Minute); err != nil {
		t.Fatalf("query: %v", err)
	}
	raw, err := mr.Get("cache:shop:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if raw == "" || raw[0] == '{' {
		t.Fatalf("expected gob payload, got %q", raw)
	}
	got, err := c.QueryWithPassThrough(ctx, shopPrefix, 1, l.load, time.Minute)
	if err != nil || got.Name != "tea" {
		t.Fatalf("unexpected %+v err %v", got, err)
	}
	if n := l.calls.Load(); n != 1 {
		t.Fatalf("expected 1 loader call, got %d", n)
	}
}

func TestNearCacheServesWithoutRedis(t *testing.T) {
	mr, client := newTestRedis(t)
	c := newShopClient(t, client, WithNearCache(time.Minute, nil))
	l := &shopLoader{known: map[int64]shop{1: {ID: 1, Name: "tea"}}}
	ctx := context.Background()

	if _, err := c.QueryWithPassThrough(ctx, shopPrefix, 1, l.load, time.Minute); err != nil {
		t.Fatalf("query: %v", err)
	}
	mr.Del("cache:shop:1")
	got, err := c.QueryWithPassThrough(ctx, shopPrefix, 1, l.load, time.Minute)
	if err != nil || got.Name != "tea" {
		t.Fatalf("unexpected %+v err %v", got, err)
	}
	if n := l.calls.Load(); n != 1 {
		t.Fatalf("expected near cache hit, loader called %d times", n)
	}
}
