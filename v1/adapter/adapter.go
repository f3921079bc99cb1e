// Package adapter persists vouchers and orders in the relational store.
//
// The seckill pipeline only talks to OrderStore: admission never reaches the
// database and persistence happens inside explicit WithinTx scopes.
package adapter

//go:generate mockgen -source=adapter.go -destination=mocks/adapter.go -package=mocks

import (
	"context"
	"time"
)

// Voucher is a flash-sale voucher.
type Voucher struct {
	ID        int64     `json:"id" validate:"required,gt=0"`
	Stock     int64     `json:"stock" validate:"gte=0"`
	BeginTime time.Time `json:"beginTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required,gtfield=BeginTime"`
}

// Order is a persisted voucher order.
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	VoucherID int64     `json:"voucherId"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderStore is the relational store used by the pipeline.
type OrderStore interface {
	// SaveVoucher creates or replaces v.
	SaveVoucher(ctx context.Context, v Voucher) error
	// GetVoucher returns the voucher with id. The boolean reports whether it
	// exists.
	GetVoucher(ctx context.Context, id int64) (Voucher, bool, error)
	// Capacity returns the remaining stock of voucher id plus the orders
	// already persisted for it, read from one snapshot. The boolean reports
	// whether the voucher exists.
	Capacity(ctx context.Context, id int64) (int64, bool, error)
	// WithinTx runs fn in a transaction committed only when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}

// OrderTx is the set of statements available inside WithinTx.
type OrderTx interface {
	// CountOrders returns how many orders userID holds for voucherID.
	CountOrders(ctx context.Context, userID, voucherID int64) (int, error)
	// DecrementStock takes one unit of stock. It reports false when the
	// voucher is missing or sold out.
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)
	// InsertOrder stores o. It reports false when an order with the same id
	// or the same user and voucher already exists.
	InsertOrder(ctx context.Context, o Order) (bool, error)
}
