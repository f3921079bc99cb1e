package seckill

import (
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-seckill/v1/lock"
)

const (
	DefaultStream           = "stream.orders"
	DefaultDeadLetterStream = "stream.orders.dead"
	DefaultGroup            = "g1"
	DefaultBlock            = 2 * time.Second
	DefaultLockLease        = 30 * time.Second
	DefaultPendingBackoff   = 20 * time.Millisecond
	DefaultMaxBackoff       = time.Second
	DefaultClaimIdle        = time.Minute

	voucherKeyPrefix = "seckill:voucher:"
	orderSetPrefix   = "seckill:order:"
	orderLockPrefix  = "lock:order:"
	orderIDKey       = "order"
)

type options struct {
	stream       string
	deadLetter   string
	group        string
	consumer     string
	block        time.Duration
	lockLease    time.Duration
	backoff      time.Duration
	maxBackoff   time.Duration
	claimIdle    time.Duration
	keyed        *lock.Keyed
	traceEnabled bool
	now          func() time.Time
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		stream:     DefaultStream,
		deadLetter: DefaultDeadLetterStream,
		group:      DefaultGroup,
		block:      DefaultBlock,
		lockLease:  DefaultLockLease,
		backoff:    DefaultPendingBackoff,
		maxBackoff: DefaultMaxBackoff,
		claimIdle:  DefaultClaimIdle,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Option configures a Pipeline or a Consumer.
type Option func(*options)

// WithStream sets the order stream and its dead letter stream.
func WithStream(stream, deadLetter string) Option {
	return func(o *options) {
		o.stream = stream
		o.deadLetter = deadLetter
	}
}

// WithGroup sets the consumer group.
func WithGroup(group string) Option {
	return func(o *options) { o.group = group }
}

// WithConsumerName sets the consumer name inside the group. The host name is
// used otherwise, so a restarted process finds the pending entries of its
// previous incarnation.
func WithConsumerName(name string) Option {
	return func(o *options) { o.consumer = name }
}

// WithBlock sets how long a stream read waits for new entries.
func WithBlock(d time.Duration) Option {
	return func(o *options) { o.block = d }
}

// WithLockLease sets the lease of per-user persistence locks.
func WithLockLease(d time.Duration) Option {
	return func(o *options) { o.lockLease = d }
}

// WithPendingBackoff sets the initial and maximum delay between failed
// pending list retries.
func WithPendingBackoff(initial, limit time.Duration) Option {
	return func(o *options) {
		o.backoff = initial
		o.maxBackoff = limit
	}
}

// WithClaimIdle sets how long an entry must sit unacknowledged in another
// consumer's pending list before this consumer claims it. Zero disables
// claiming.
func WithClaimIdle(d time.Duration) Option {
	return func(o *options) { o.claimIdle = d }
}

// WithKeyed shares the in-process user mutex map between consumers.
func WithKeyed(k *lock.Keyed) Option {
	return func(o *options) { o.keyed = k }
}

// WithTracing enables OpenTelemetry spans.
func WithTracing() Option {
	return func(o *options) { o.traceEnabled = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
