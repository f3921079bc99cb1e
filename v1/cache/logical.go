package cache

import (
	"context"
	"time"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

// Entry wraps a value stored without a physical ttl together with the
// instant after which it should be refreshed.
type Entry[T any] struct {
	Data     T         `json:"data"`
	ExpireAt time.Time `json:"expireTime"`
}

// Expired reports whether e should be refreshed at now.
func (e Entry[T]) Expired(now time.Time) bool {
	return !now.Before(e.ExpireAt)
}

// SetWithLogicalExpiry stores value under key without a physical ttl. Readers
// consider it stale ttl from now.
func (c *Client[ID, T]) SetWithLogicalExpiry(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := c.opts.codec.Marshal(Entry[T]{Data: value, ExpireAt: c.opts.now().Add(ttl)})
	if err != nil {
		return warperrors.Wrapf(err, "encode %s", key)
	}
	return c.store.set(ctx, key, string(data), 0)
}

// Warm loads id and stores it with a logical expiry. Hot keys must be warmed
// before QueryWithLogicalExpiry can serve them.
func (c *Client[ID, T]) Warm(ctx context.Context, prefix string, id ID, loader Loader[ID, T], ttl time.Duration) error {
	v, found, err := loader(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return warperrors.ErrNotFound
	}
	return c.SetWithLogicalExpiry(ctx, Key(prefix, id), v, ttl)
}

func (c *Client[ID, T]) readEntry(ctx context.Context, key string) (Entry[T], bool, error) {
	var e Entry[T]
	raw, st, err := c.store.get(ctx, key)
	if err != nil || st != statePresent {
		return e, false, err
	}
	if err := c.opts.codec.Unmarshal([]byte(raw), &e); err != nil {
		return e, false, warperrors.Wrapf(err, "decode %s", key)
	}
	return e, true, nil
}

// QueryWithLogicalExpiry serves warmed keys without ever blocking on the
// loader. A stale entry is returned as is while one caller schedules its
// refresh on the worker pool. Keys that were never warmed yield
// errors.ErrNotFound.
func (c *Client[ID, T]) QueryWithLogicalExpiry(ctx context.Context, prefix string, id ID, loader Loader[ID, T], ttl time.Duration) (v T, err error) {
	key := Key(prefix, id)
	ctx, span, start := c.startSpan(ctx, "Cache.QueryWithLogicalExpiry", key)
	defer func() { c.endSpan(span, "logical_expiry", start, err) }()

	var zero T
	e, ok, err := c.readEntry(ctx, key)
	if err != nil {
		return zero, err
	}
	if !ok {
		metrics.CacheMissCounter.Inc()
		return zero, warperrors.ErrNotFound
	}
	metrics.CacheHitCounter.Inc()
	if !e.Expired(c.opts.now()) {
		return e.Data, nil
	}

	h, locked, err := c.locker.TryLock(ctx, lockPrefix+key, c.opts.lockLease)
	if err != nil {
		c.opts.logger.Warn("seckill: rebuild lock failed", "key", key, "error", err)
		return e.Data, nil
	}
	if !locked {
		return e.Data, nil
	}
	// The previous holder may have refreshed it already.
	if fresh, ok, err := c.readEntry(ctx, key); err == nil && ok && !fresh.Expired(c.opts.now()) {
		c.unlock(h)
		return fresh.Data, nil
	}
	accepted := c.opts.pool.TrySubmit(func(jctx context.Context) {
		defer c.unlock(h)
		c.rebuild(jctx, key, id, loader, ttl)
	})
	if !accepted {
		c.unlock(h)
		metrics.CacheRebuildCounter.WithLabelValues("dropped").Inc()
		c.opts.logger.Warn("seckill: rebuild queue full", "key", key)
	}
	return e.Data, nil
}

func (c *Client[ID, T]) rebuild(ctx context.Context, key string, id ID, loader Loader[ID, T], ttl time.Duration) {
	v, found, err := loader(ctx, id)
	if err != nil {
		metrics.CacheRebuildCounter.WithLabelValues("error").Inc()
		c.opts.logger.Warn("seckill: rebuild load failed", "key", key, "error", err)
		return
	}
	if !found {
		metrics.CacheRebuildCounter.WithLabelValues("removed").Inc()
		if err := c.store.del(ctx, key); err != nil {
			c.opts.logger.Warn("seckill: rebuild delete failed", "key", key, "error", err)
		}
		return
	}
	if err := c.SetWithLogicalExpiry(ctx, key, v, ttl); err != nil {
		metrics.CacheRebuildCounter.WithLabelValues("error").Inc()
		c.opts.logger.Warn("seckill: rebuild write failed", "key", key, "error", err)
		return
	}
	metrics.CacheRebuildCounter.WithLabelValues("ok").Inc()
}
