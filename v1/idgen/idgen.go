// Package idgen mints globally unique, time ordered 64-bit identifiers.
//
// An identifier packs the number of seconds since BeginTimestamp into the
// high bits and a per-day sequence taken from a shared Redis counter into the
// low SequenceBits bits:
//
//	0 | timestamp (31 bits) | sequence (32 bits)
package idgen

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
)

const (
	// BeginTimestamp is 2022-01-01T00:00:00Z.
	BeginTimestamp int64 = 1640995200
	// SequenceBits is the width of the sequence part.
	SequenceBits = 32

	sequenceMask = 1<<SequenceBits - 1
	keyPrefix    = "icr:"
	dayLayout    = "2006:01:02"
)

// Generator produces ids backed by Redis INCR.
type Generator struct {
	client redis.Cmdable
	now    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New returns a Generator using client.
func New(client redis.Cmdable, opts ...Option) *Generator {
	g := &Generator{client: client, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NextID returns the next id for businessKey. Ids minted for the same key
// strictly increase as long as fewer than 2^32 ids are requested per day.
func (g *Generator) NextID(ctx context.Context, businessKey string) (int64, error) {
	now := g.now().UTC()
	ts := now.Unix() - BeginTimestamp
	seq, err := g.client.Incr(ctx, CounterKey(businessKey, now)).Result()
	if err != nil {
		return 0, warperrors.Translate(err)
	}
	return ts<<SequenceBits | (seq & sequenceMask), nil
}

// CounterKey returns the Redis key holding the sequence of businessKey for
// the UTC day of t.
func CounterKey(businessKey string, t time.Time) string {
	return keyPrefix + businessKey + ":" + t.UTC().Format(dayLayout)
}

// Decompose splits id into the time it was minted and its sequence.
func Decompose(id int64) (time.Time, int64) {
	ts := id >> SequenceBits
	return time.Unix(ts+BeginTimestamp, 0).UTC(), id & sequenceMask
}
