package seckill

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-seckill/v1/adapter"
	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/lock"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

const unlockTimeout = 5 * time.Second

// errAlreadyPersisted rolls back a transaction that found the order written
// by someone else.
var errAlreadyPersisted = fmt.Errorf("%w: order already persisted", warperrors.ErrDuplicate)

// Consumer persists admitted orders from the order stream.
type Consumer struct {
	client redis.Cmdable
	store  adapter.OrderStore
	locker lock.Locker
	keyed  *lock.Keyed
	opts   options
}

// NewConsumer returns a Consumer. A nil locker selects a Redis locker on
// client.
func NewConsumer(client redis.Cmdable, store adapter.OrderStore, locker lock.Locker, opts ...Option) (*Consumer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.consumer == "" {
		name, err := defaultConsumerName()
		if err != nil {
			return nil, err
		}
		o.consumer = name
	}
	if locker == nil {
		locker = lock.NewRedis(client)
	}
	keyed := o.keyed
	if keyed == nil {
		keyed = lock.NewKeyed(0)
	}
	return &Consumer{client: client, store: store, locker: locker, keyed: keyed, opts: o}, nil
}

// defaultConsumerName is the host name, or a random name when the host has
// none.
func defaultConsumerName() (string, error) {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host, nil
	}
	name, err := uuid.GenerateUUID()
	if err != nil {
		return "", warperrors.Wrap(err, "generate consumer name")
	}
	return name, nil
}

// Name returns the consumer name inside the group.
func (c *Consumer) Name() string { return c.opts.consumer }

// Run creates the consumer group if needed, recovers pending entries and then
// persists new entries until ctx is done. While idle it claims entries left
// pending by consumers that stopped. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.opts.logger.Info("seckill: consumer started", "stream", c.opts.stream, "group", c.opts.group, "consumer", c.opts.consumer)
	c.drainPending(ctx)
	for ctx.Err() == nil {
		msgs, err := c.read(ctx, ">", c.opts.block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.opts.logger.Error("seckill: read order stream", "error", err)
			c.drainPending(ctx)
			continue
		}
		if len(msgs) == 0 {
			if c.claim(ctx) > 0 {
				c.drainPending(ctx)
			}
			continue
		}
		for _, msg := range msgs {
			if err := c.handle(ctx, msg); err != nil {
				c.opts.logger.Error("seckill: persist order", "entry", msg.ID, "error", err)
				c.drainPending(ctx)
				break
			}
		}
	}
	c.opts.logger.Info("seckill: consumer stopped", "consumer", c.opts.consumer)
	return nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.stream, c.opts.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return warperrors.Wrapf(warperrors.Translate(err), "create group %s", c.opts.group)
	}
	return nil
}

// read fetches at most one entry. id ">" asks for new entries and blocks for
// block; id "0" returns the consumer's own pending entries without blocking.
func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.group,
		Consumer: c.opts.consumer,
		Streams:  []string{c.opts.stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if stdErrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, warperrors.Translate(err)
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// claim moves entries idle for longer than the claim interval from other
// consumers' pending lists into this consumer's and returns how many it took.
func (c *Consumer) claim(ctx context.Context) int {
	if c.opts.claimIdle <= 0 {
		return 0
	}
	claimed := 0
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.opts.stream,
			Group:    c.opts.group,
			Consumer: c.opts.consumer,
			MinIdle:  c.opts.claimIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				c.opts.logger.Warn("seckill: claim idle entries", "error", warperrors.Translate(err))
			}
			break
		}
		claimed += len(msgs)
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}
	if claimed > 0 {
		c.opts.logger.Info("seckill: claimed idle entries", "count", claimed, "consumer", c.opts.consumer)
	}
	return claimed
}

// drainPending reprocesses delivered but unacknowledged entries, including
// idle entries claimed from other consumers, until none are left or ctx is
// done. Failures back off exponentially and are retried indefinitely.
func (c *Consumer) drainPending(ctx context.Context) {
	c.claim(ctx)
	backoff := c.opts.backoff
	for ctx.Err() == nil {
		msgs, err := c.read(ctx, "0", -1)
		if err == nil && len(msgs) == 0 {
			return
		}
		if err == nil {
			for _, msg := range msgs {
				if err = c.handle(ctx, msg); err != nil {
					break
				}
				metrics.PendingRecoveredCounter.Inc()
			}
		}
		if err == nil {
			backoff = c.opts.backoff
			continue
		}
		if warperrors.IsRetryable(err) {
			c.opts.logger.Warn("seckill: pending entry failed", "error", err, "retry_in", backoff)
		} else {
			c.opts.logger.Error("seckill: pending entry needs attention", "error", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.maxBackoff {
			backoff = c.opts.maxBackoff
		}
	}
}

// handle persists msg and acknowledges it. Entries that cannot be decoded are
// moved to the dead letter stream. Any persistence error leaves msg pending
// for recovery.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	o, err := decodeOrder(msg.Values)
	if err != nil {
		if dlErr := c.deadLetter(ctx, msg, err); dlErr != nil {
			return dlErr
		}
		return c.ack(ctx, msg.ID)
	}
	if err := c.persist(ctx, o); err != nil && !stdErrors.Is(err, warperrors.ErrDuplicate) {
		return err
	}
	return c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	return warperrors.Translate(c.client.XAck(ctx, c.opts.stream, c.opts.group, id).Err())
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, cause error) error {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["sourceId"] = msg.ID
	values["error"] = cause.Error()
	err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.opts.deadLetter, Values: values}).Err()
	if err != nil {
		return warperrors.Translate(err)
	}
	metrics.DeadLetterCounter.Inc()
	c.opts.logger.Error("seckill: order dead lettered", "entry", msg.ID, "error", cause)
	return nil
}

// persist writes o at most once. The per-user locks keep two consumers from
// checking and inserting the same user's order at the same time.
func (c *Consumer) persist(ctx context.Context, o Order) (err error) {
	if c.opts.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Seckill.Persist", trace.WithAttributes(
			attribute.Int64("order.id", o.ID),
			attribute.Int64("user.id", o.UserID),
		))
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()
	}

	userKey := strconv.FormatInt(o.UserID, 10)
	release, ok := c.keyed.TryLock(userKey)
	if !ok {
		return warperrors.Wrapf(warperrors.ErrLockBusy, "user %d", o.UserID)
	}
	defer release()

	h, ok, err := c.locker.TryLock(ctx, orderLockPrefix+userKey, c.opts.lockLease)
	if err != nil {
		return err
	}
	if !ok {
		return warperrors.Wrapf(warperrors.ErrLockBusy, "user %d", o.UserID)
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if err := c.locker.Unlock(uctx, h); err != nil {
			c.opts.logger.Warn("seckill: unlock failed", "key", h.Key, "error", err)
		}
	}()

	err = c.store.WithinTx(ctx, func(ctx context.Context, tx adapter.OrderTx) error {
		n, err := tx.CountOrders(ctx, o.UserID, o.VoucherID)
		if err != nil {
			return err
		}
		if n > 0 {
			return errAlreadyPersisted
		}
		ok, err := tx.DecrementStock(ctx, o.VoucherID)
		if err != nil {
			return err
		}
		if !ok {
			return warperrors.Wrapf(warperrors.ErrOutOfStock, "voucher %d", o.VoucherID)
		}
		inserted, err := tx.InsertOrder(ctx, o)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyPersisted
		}
		return nil
	})
	if err == nil {
		metrics.PersistedCounter.Inc()
	}
	return err
}

func decodeOrder(values map[string]any) (Order, error) {
	var o Order
	fields := []struct {
		name string
		dst  *int64
	}{
		{"id", &o.ID},
		{"userId", &o.UserID},
		{"voucherId", &o.VoucherID},
	}
	for _, f := range fields {
		s, _ := values[f.name].(string)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Order{}, warperrors.Fatal(err, "decode order field "+f.name)
		}
		*f.dst = n
	}
	if s, ok := values["createdAt"].(string); ok {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Order{}, warperrors.Fatal(err, "decode order field createdAt")
		}
		o.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return o, nil
}
