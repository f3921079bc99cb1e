package seckill

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-seckill/v1/adapter"
	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-seckill/v1/seckill")

// Voucher is a flash-sale voucher.
type Voucher = adapter.Voucher

// Order is an admitted order.
type Order = adapter.Order

// IDGenerator mints order ids.
type IDGenerator interface {
	NextID(ctx context.Context, businessKey string) (int64, error)
}

// Pipeline admits orders.
type Pipeline struct {
	client   redis.Cmdable
	ids      IDGenerator
	store    adapter.OrderStore
	validate *validator.Validate
	opts     options
}

// NewPipeline returns a Pipeline. store may be nil when vouchers are only
// published to Redis.
func NewPipeline(client redis.Cmdable, ids IDGenerator, store adapter.OrderStore, opts ...Option) *Pipeline {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipeline{
		client:   client,
		ids:      ids,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     o,
	}
}

// VoucherKey returns the Redis hash holding the admission state of a voucher.
func VoucherKey(voucherID int64) string {
	return voucherKeyPrefix + strconv.FormatInt(voucherID, 10)
}

// OrderSetKey returns the Redis set of users who obtained a voucher.
func OrderSetKey(voucherID int64) string {
	return orderSetPrefix + strconv.FormatInt(voucherID, 10)
}

// PublishVoucher validates v, saves it in the relational store and copies its
// stock and sale window to Redis so that admission can run there alone.
func (p *Pipeline) PublishVoucher(ctx context.Context, v Voucher) error {
	if err := p.validate.Struct(v); err != nil {
		return warperrors.Wrapf(fmt.Errorf("%w: %w", warperrors.ErrValidation, err), "voucher %d", v.ID)
	}
	if p.store != nil {
		if err := p.store.SaveVoucher(ctx, v); err != nil {
			return warperrors.Wrapf(err, "save voucher %d", v.ID)
		}
	}
	err := p.client.HSet(ctx, VoucherKey(v.ID),
		"stock", v.Stock,
		"begin", v.BeginTime.UnixMilli(),
		"end", v.EndTime.UnixMilli(),
	).Err()
	return warperrors.Translate(err)
}

// Admit tries to obtain voucherID for userID. On success the returned order
// id is already durable in the order stream; it is persisted in the
// relational store later by a Consumer.
func (p *Pipeline) Admit(ctx context.Context, voucherID, userID int64) (orderID int64, err error) {
	var span trace.Span
	if p.opts.traceEnabled {
		ctx, span = tracer.Start(ctx, "Seckill.Admit", trace.WithAttributes(
			attribute.Int64("voucher.id", voucherID),
			attribute.Int64("user.id", userID),
		))
		defer func() {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	orderID, err = p.ids.NextID(ctx, orderIDKey)
	if err != nil {
		metrics.AdmissionCounter.WithLabelValues("error").Inc()
		return 0, err
	}
	code, err := admitScript.Run(ctx, p.client,
		[]string{VoucherKey(voucherID), OrderSetKey(voucherID), p.opts.stream},
		voucherID, userID, orderID, p.opts.now().UnixMilli(),
	).Int()
	if err != nil {
		metrics.AdmissionCounter.WithLabelValues("error").Inc()
		return 0, warperrors.Translate(err)
	}
	result, err := admissionError(code)
	metrics.AdmissionCounter.WithLabelValues(result).Inc()
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

func admissionError(code int) (string, error) {
	switch code {
	case codeOK:
		return "ok", nil
	case codeOutOfStock:
		return "out_of_stock", warperrors.ErrOutOfStock
	case codeDuplicate:
		return "duplicate", warperrors.ErrDuplicate
	case codeNotStarted:
		return "not_started", warperrors.ErrNotStarted
	case codeEnded:
		return "ended", warperrors.ErrEnded
	case codeNoVoucher:
		return "not_found", warperrors.ErrVoucherNotFound
	}
	return "error", fmt.Errorf("seckill: unexpected admission code %d", code)
}
