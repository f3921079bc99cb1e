package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-seckill/v1/adapter"
	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/idgen"
	"github.com/mirkobrombin/go-seckill/v1/seckill"
)

func setup(t *testing.T, redisStock, storeStock int64) (*miniredis.Miniredis, *redis.Client, *adapter.InMemory) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := adapter.NewInMemory()
	now := time.Now()
	v := seckill.Voucher{ID: 1, Stock: redisStock, BeginTime: now, EndTime: now.Add(time.Hour)}
	if err := seckill.NewPipeline(client, nil, nil).PublishVoucher(ctx, v); err != nil {
		t.Fatalf("publish: %v", err)
	}
	v.Stock = storeStock
	if err := store.SaveVoucher(ctx, v); err != nil {
		t.Fatalf("save: %v", err)
	}
	return mr, client, store
}

func TestValidatorAutoHeal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr, client, store := setup(t, 5, 3)

	v := New(client, store, ModeAutoHeal, time.Millisecond, 1)
	go v.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for mr.HGet(seckill.VoucherKey(1), "stock") != "3" {
		if time.Now().After(deadline) {
			t.Fatalf("expected stock healed to 3, got %s", mr.HGet(seckill.VoucherKey(1), "stock"))
		}
		time.Sleep(time.Millisecond)
	}
	if m := v.Metrics(); m == 0 {
		t.Fatalf("expected mismatch metrics > 0")
	}
}

func TestValidatorAlertLeavesStock(t *testing.T) {
	mr, client, store := setup(t, 5, 3)
	v := New(client, store, ModeAlert, time.Hour, 1)
	v.Scan(context.Background())
	if m := v.Metrics(); m != 1 {
		t.Fatalf("expected 1 mismatch, got %d", m)
	}
	if got := mr.HGet(seckill.VoucherKey(1), "stock"); got != "5" {
		t.Fatalf("alert mode must not touch stock, got %s", got)
	}
}

func TestValidatorStoreLagIsNotDrift(t *testing.T) {
	_, client, store := setup(t, 2, 4)
	v := New(client, store, ModeAutoHeal, time.Hour, 1, 404)
	v.Scan(context.Background())
	if m := v.Metrics(); m != 0 {
		t.Fatalf("expected no mismatch, got %d", m)
	}
}

// admit takes one unit of voucher 1 for each user through the Redis pipeline.
func admit(t *testing.T, client *redis.Client, users ...int64) []seckill.Order {
	t.Helper()
	p := seckill.NewPipeline(client, idgen.New(client), nil)
	var orders []seckill.Order
	for _, u := range users {
		id, err := p.Admit(context.Background(), 1, u)
		if err != nil {
			t.Fatalf("admit user %d: %v", u, err)
		}
		orders = append(orders, seckill.Order{ID: id, UserID: u, VoucherID: 1, CreatedAt: time.Now()})
	}
	return orders
}

func persist(t *testing.T, store *adapter.InMemory, o seckill.Order) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx adapter.OrderTx) error {
		if ok, err := tx.DecrementStock(ctx, o.VoucherID); err != nil || !ok {
			t.Fatalf("decrement stock: ok=%v err=%v", ok, err)
		}
		_, err := tx.InsertOrder(ctx, o)
		return err
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
}

func TestValidatorHealKeepsUnpersistedOrders(t *testing.T) {
	mr, client, store := setup(t, 5, 5)
	ctx := context.Background()
	admit(t, client, 1, 2)

	// The store loses three units while both admitted orders are in flight.
	now := time.Now()
	if err := store.SaveVoucher(ctx, adapter.Voucher{ID: 1, Stock: 2, BeginTime: now, EndTime: now.Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	v := New(client, store, ModeAutoHeal, time.Hour, 1)
	v.Scan(ctx)
	if m := v.Metrics(); m != 1 {
		t.Fatalf("expected 1 mismatch, got %d", m)
	}
	if got := mr.HGet(seckill.VoucherKey(1), "stock"); got != "0" {
		t.Fatalf("expected stock healed to 0, got %s", got)
	}

	p := seckill.NewPipeline(client, idgen.New(client), nil)
	if _, err := p.Admit(ctx, 1, 3); !errors.Is(err, warperrors.ErrOutOfStock) {
		t.Fatalf("expected out of stock after heal, got %v", err)
	}
}

func TestValidatorPersistedOrdersAreNotDrift(t *testing.T) {
	mr, client, store := setup(t, 5, 5)
	orders := admit(t, client, 1, 2, 3)
	persist(t, store, orders[0])
	persist(t, store, orders[1])

	v := New(client, store, ModeAutoHeal, time.Hour, 1)
	v.Scan(context.Background())
	if m := v.Metrics(); m != 0 {
		t.Fatalf("expected no mismatch, got %d", m)
	}
	if got := mr.HGet(seckill.VoucherKey(1), "stock"); got != "2" {
		t.Fatalf("expected stock 2, got %s", got)
	}
}

func TestValidatorHealNeverRaisesStock(t *testing.T) {
	mr, client, store := setup(t, 1, 4)
	admit(t, client, 1)

	v := New(client, store, ModeAutoHeal, time.Hour, 1)
	v.Scan(context.Background())
	if got := mr.HGet(seckill.VoucherKey(1), "stock"); got != "0" {
		t.Fatalf("expected stock to stay 0, got %s", got)
	}
}
