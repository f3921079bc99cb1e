package cache

import (
	"context"
	"time"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

// QueryWithPassThrough returns the cached value of id, loading and caching
// it on a miss. Ids unknown to the loader are cached as an empty marker for
// the null ttl and reported as errors.ErrNotFound.
func (c *Client[ID, T]) QueryWithPassThrough(ctx context.Context, prefix string, id ID, loader Loader[ID, T], ttl time.Duration) (v T, err error) {
	key := Key(prefix, id)
	ctx, span, start := c.startSpan(ctx, "Cache.QueryWithPassThrough", key)
	defer func() { c.endSpan(span, "pass_through", start, err) }()

	var zero T
	cached, st, err := c.cached(ctx, key)
	if err != nil {
		return zero, err
	}
	switch st {
	case statePresent:
		metrics.CacheHitCounter.Inc()
		return cached, nil
	case stateAbsent:
		metrics.CacheNullHitCounter.Inc()
		return zero, warperrors.ErrNotFound
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
