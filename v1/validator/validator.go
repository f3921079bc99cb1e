// Package validator compares the admission stock kept in Redis with the
// relational stock and reports or repairs drift.
package validator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-seckill/v1/adapter"
	"github.com/mirkobrombin/go-seckill/v1/seckill"
)

// Mode defines validator behaviour.
type Mode int

const (
	ModeNoop Mode = iota
	ModeAlert
	ModeAutoHeal
)

// Validator periodically checks that Redis never holds more stock than the
// relational store can still persist. Orders admitted in Redis but not yet
// persisted are still owed by the store, so the Redis stock may be at most
// the store capacity minus every admitted order.
type Validator struct {
	client     redis.Cmdable
	store      adapter.OrderStore
	mode       Mode
	interval   time.Duration
	vouchers   []int64
	logger     *slog.Logger
	mismatches uint64
}

// New creates a new Validator over vouchers.
func New(client redis.Cmdable, s adapter.OrderStore, mode Mode, interval time.Duration, vouchers ...int64) *Validator {
	return &Validator{
		client:   client,
		store:    s,
		mode:     mode,
		interval: interval,
		vouchers: vouchers,
		logger:   slog.Default(),
	}
}

// Run starts the validation loop.
func (v *Validator) Run(ctx context.Context) {
	if v.store == nil || v.mode == ModeNoop || len(v.vouchers) == 0 {
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Scan(ctx)
		}
	}
}

// Scan checks every voucher once.
func (v *Validator) Scan(ctx context.Context) {
	for _, id := range v.vouchers {
		v.check(ctx, id)
	}
}

// healScript compares the Redis stock of KEYS[1] with the store capacity in
// ARGV[1] minus the admitted users in KEYS[2]. With ARGV[2] set it lowers the
// stock to that bound, never raising it. It returns {stock, bound}, or
// {-1, 0} when the voucher is not in Redis.
var healScript = redis.NewScript(`
local cur = tonumber(redis.call('hget', KEYS[1], 'stock'))
if not cur then return {-1, 0} end
local bound = tonumber(ARGV[1]) - redis.call('scard', KEYS[2])
if bound < 0 then bound = 0 end
if cur > bound and ARGV[2] == '1' then
  redis.call('hset', KEYS[1], 'stock', bound)
end
return {cur, bound}
`)

func (v *Validator) check(ctx context.Context, id int64) {
	capacity, ok, err := v.store.Capacity(ctx, id)
	if err != nil || !ok {
		return
	}
	heal := 0
	if v.mode == ModeAutoHeal {
		heal = 1
	}
	keys := []string{seckill.VoucherKey(id), seckill.OrderSetKey(id)}
	res, err := healScript.Run(ctx, v.client, keys, capacity, heal).Int64Slice()
	if err != nil {
		v.logger.Warn("seckill: stock check failed", "voucher", id, "error", err)
		return
	}
	cached, bound := res[0], res[1]
	if cached < 0 || cached <= bound {
		return
	}
	atomic.AddUint64(&v.mismatches, 1)
	v.logger.Warn("seckill: stock drift", "voucher", id, "redis", cached, "bound", bound, "capacity", capacity)
	if heal == 1 {
		v.logger.Info("seckill: stock healed", "voucher", id, "stock", bound)
	}
}

// Metrics returns number of mismatches detected.
func (v *Validator) Metrics() uint64 {
	return atomic.LoadUint64(&v.mismatches)
}
