package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/lock"
	"github.com/mirkobrombin/go-seckill/v1/syncbus"
	"github.com/mirkobrombin/go-seckill/v1/workerpool"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-seckill/v1/cache")

const (
	DefaultNullTTL       = 2 * time.Minute
	DefaultLockLease     = 10 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultMaxRetries    = 20

	lockPrefix    = "lock:"
	unlockTimeout = 5 * time.Second
)

// Loader fetches the value for id from the source of truth. The boolean
// reports whether id exists.
type Loader[ID comparable, T any] func(ctx context.Context, id ID) (T, bool, error)

type options struct {
	codec         Codec
	nullTTL       time.Duration
	lockLease     time.Duration
	retryInterval time.Duration
	maxRetries    int
	nearTTL       time.Duration
	nearConfig    *ristretto.Config
	bus           syncbus.Bus
	pool          *workerpool.Pool
	reg           prometheus.Registerer
	traceEnabled  bool
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithCodec sets the codec used for stored values. JSON is the default.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithNullTTL sets how long an unknown id is remembered.
func WithNullTTL(d time.Duration) Option {
	return func(o *options) { o.nullTTL = d }
}

// WithLockLease sets the lease of rebuild locks.
func WithLockLease(d time.Duration) Option {
	return func(o *options) { o.lockLease = d }
}

// WithRetry bounds how QueryWithMutex waits for another rebuilder.
func WithRetry(interval time.Duration, maxRetries int) Option {
	return func(o *options) {
		o.retryInterval = interval
		o.maxRetries = maxRetries
	}
}

// WithNearCache keeps decoded-ready raw values in process for ttl. A nil
// cfg selects a 64MB ristretto cache.
func WithNearCache(ttl time.Duration, cfg *ristretto.Config) Option {
	return func(o *options) {
		o.nearTTL = ttl
		o.nearConfig = cfg
	}
}

// WithBus publishes invalidations on bus and evicts near cache entries
// invalidated by peers.
func WithBus(bus syncbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithPool runs logical expiry rebuilds on pool. The pool is not closed by
// the client.
func WithPool(p *workerpool.Pool) Option {
	return func(o *options) { o.pool = p }
}

// WithMetrics records query latency on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithTracing enables OpenTelemetry spans.
func WithTracing() Option {
	return func(o *options) { o.traceEnabled = true }
}

// WithClock overrides the time source used for logical expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client is a read-through cache of T values identified by ID.
type Client[ID comparable, T any] struct {
	store  redisStore
	locker lock.Locker
	opts   options
	near   *nearCache
	group  singleflight.Group

	ownsPool    bool
	latencyHist *prometheus.HistogramVec
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewClient returns a Client over client. A nil locker selects a Redis
// locker on the same client.
func NewClient[ID comparable, T any](client redis.Cmdable, locker lock.Locker, opts ...Option) *Client[ID, T] {
	o := options{
		codec:         JSONCodec{},
		nullTTL:       DefaultNullTTL,
		lockLease:     DefaultLockLease,
		retryInterval: DefaultRetryInterval,
		maxRetries:    DefaultMaxRetries,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if locker == nil {
		locker = lock.NewRedis(client)
	}
	c := &Client[ID, T]{
		store:  redisStore{client: client},
		locker: locker,
		opts:   o,
	}
	if o.pool == nil {
		c.opts.pool = workerpool.New(0, 0, workerpool.WithLogger(o.logger))
		c.ownsPool = true
	}
	if o.reg != nil {
		c.latencyHist = registerLatency(o.reg)
	}
	if o.nearTTL > 0 {
		near, err := newNearCache(o.nearTTL, o.nearConfig)
		if err != nil {
			o.logger.Warn("seckill: near cache disabled", "error", err)
		} else {
			c.near = near
		}
	}
	if c.near != nil && o.bus != nil {
		c.watchBus()
	}
	return c
}

func registerLatency(reg prometheus.Registerer) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seckill_cache_query_seconds",
		Help:    "Latency of cache queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		return nil
	}
	return h
}

func (c *Client[ID, T]) watchBus() {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.opts.bus.Subscribe(ctx)
	if err != nil {
		cancel()
		c.opts.logger.Warn("seckill: near cache invalidation disabled", "error", err)
		return
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for key := range ch {
			c.near.del(key)
		}
	}()
}

// Close stops the bus subscription, the owned worker pool and the near cache.
func (c *Client[ID, T]) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	if c.ownsPool {
		c.opts.pool.Close()
	}
	if c.near != nil {
		c.near.close()
	}
}

// Key returns the store key of id under prefix.
func Key[ID comparable](prefix string, id ID) string {
	return prefix + fmt.Sprint(id)
}

func (c *Client[ID, T]) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span, time.Time) {
	var span trace.Span
	if c.opts.traceEnabled {
		ctx, span = tracer.Start(ctx, name, trace.WithAttributes(attribute.String("cache.key", key)))
	}
	return ctx, span, time.Now()
}

func (c *Client[ID, T]) endSpan(span trace.Span, strategy string, start time.Time, err error) {
	if c.latencyHist != nil {
		c.latencyHist.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	}
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// lookup reads the near cache first, then Redis.
func (c *Client[ID, T]) lookup(ctx context.Context, key string) (string, lookupState, error) {
	if c.near != nil {
		if v, st := c.near.get(key); st != stateMissing {
			return v, st, nil
		}
	}
	v, st, err := c.store.get(ctx, key)
	if err != nil {
		return "", stateMissing, err
	}
	if c.near != nil && st != stateMissing {
		c.near.set(key, v, 0)
	}
	return v, st, nil
}

// cached resolves key to a decoded value, a negative hit or a miss.
func (c *Client[ID, T]) cached(ctx context.Context, key string) (T, lookupState, error) {
	var zero T
	raw, st, err := c.lookup(ctx, key)
	if err != nil || st != statePresent {
		return zero, st, err
	}
	var v T
	if err := c.opts.codec.Unmarshal([]byte(raw), &v); err != nil {
		return zero, stateMissing, warperrors.Wrapf(err, "decode %s", key)
	}
	return v, statePresent, nil
}

// Set stores value under key with a physical ttl.
func (c *Client[ID, T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := c.opts.codec.Marshal(value)
	if err != nil {
		return warperrors.Wrapf(err, "encode %s", key)
	}
	if err := c.store.set(ctx, key, string(data), ttl); err != nil {
		return err
	}
	if c.near != nil {
		c.near.set(key, string(data), ttl)
	}
	return nil
}

func (c *Client[ID, T]) setNull(ctx context.Context, key string) {
	if err := c.store.set(ctx, key, nullMarker, c.opts.nullTTL); err != nil {
		c.opts.logger.Warn("seckill: cache negative marker write failed", "key", key, "error", err)
		return
	}
	if c.near != nil {
		c.near.set(key, nullMarker, c.opts.nullTTL)
	}
}

// populate writes the loader result under key, or the negative marker when
// the loader did not find it.
func (c *Client[ID, T]) populate(ctx context.Context, key string, v T, found bool, ttl time.Duration) {
	if !found {
		c.setNull(ctx, key)
		return
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		c.opts.logger.Warn("seckill: cache write failed", "key", key, "error", err)
	}
}

// Invalidate deletes the cached id, evicts it from the near cache and tells
// peers to do the same. Call it after the source of truth was updated.
func (c *Client[ID, T]) Invalidate(ctx context.Context, prefix string, id ID) error {
	key := Key(prefix, id)
	if err := c.store.del(ctx, key); err != nil {
		return err
	}
	if c.near != nil {
		c.near.del(key)
	}
	if c.opts.bus != nil {
		if err := c.opts.bus.Publish(ctx, key); err != nil {
			return warperrors.Wrapf(err, "publish invalidation of %s", key)
		}
	}
	return nil
}

func (c *Client[ID, T]) unlock(h lock.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if err := c.locker.Unlock(ctx, h); err != nil {
		c.opts.logger.Warn("seckill: unlock failed", "key", h.Key, "error", err)
	}
}
