package cache

import (
	"context"
	"time"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/lock"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

// QueryWithMutex behaves like QueryWithPassThrough but lets a single caller
// across all processes rebuild a missing key. Callers in the same process
// share one rebuild; callers in other processes poll the store every retry
// interval until the rebuild lands. errors.ErrLockBusy is returned once the
// retries are exhausted. The shared rebuild is bounded by the lock lease and
// keeps running when the caller that started it gives up.
func (c *Client[ID, T]) QueryWithMutex(ctx context.Context, prefix string, id ID, loader Loader[ID, T], ttl time.Duration) (v T, err error) {
	key := Key(prefix, id)
	ctx, span, start := c.startSpan(ctx, "Cache.QueryWithMutex", key)
	defer func() { c.endSpan(span, "mutex", start, err) }()

	var zero T
	if v, done, err := c.resolve(ctx, key); done || err != nil {
		return v, err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.lockLease)
		defer cancel()
		return c.rebuildLocked(rctx, key, id, loader, ttl)
	})
	select {
	case <-ctx.Done():
		return zero, warperrors.Translate(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ = res.Val.(T)
		return v, nil
	}
}

// resolve answers from the cache. done is false on a miss.
func (c *Client[ID, T]) resolve(ctx context.Context, key string) (T, bool, error) {
	var zero T
	v, st, err := c.cached(ctx, key)
	switch {
	case err != nil:
		return zero, true, err
	case st == statePresent:
		metrics.CacheHitCounter.Inc()
		return v, true, nil
	case st == stateAbsent:
		metrics.CacheNullHitCounter.Inc()
		return zero, true, warperrors.ErrNotFound
	}
	return zero, false, nil
}

func (c *Client[ID, T]) rebuildLocked(ctx context.Context, key string, id ID, loader Loader[ID, T], ttl time.Duration) (T, error) {
	var zero T
	lockKey := lockPrefix + key
	for attempt := 0; ; attempt++ {
		h, ok, err := c.locker.TryLock(ctx, lockKey, c.opts.lockLease)
		if err != nil {
			return zero, err
		}
		if ok {
			return c.loadHeld(ctx, h, key, id, loader, ttl)
		}
		if attempt >= c.opts.maxRetries {
			return zero, warperrors.ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return zero, warperrors.Translate(ctx.Err())
		case <-time.After(c.opts.retryInterval):
		}
		if v, done, err := c.resolve(ctx, key); done || err != nil {
			return v, err
		}
	}
}

func (c *Client[ID, T]) loadHeld(ctx context.Context, h lock.Handle, key string, id ID, loader Loader[ID, T], ttl time.Duration) (T, error) {
	defer c.unlock(h)
	var zero T
	// Another holder may have rebuilt the key between our miss and the lock.
	if v, done, err := c.resolve(ctx, key); done || err != nil {
		return v, err
	}
	metrics.CacheMissCounter.Inc()
	loaded, found, err := loader(ctx, id)
	if err != nil {
		return zero, err
	}
	c.populate(ctx, key, loaded, found, ttl)
	if !found {
		return zero, warperrors.ErrNotFound
	}
	return loaded, nil
}
