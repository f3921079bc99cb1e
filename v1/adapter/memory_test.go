package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedVoucher(t *testing.T, s OrderStore, stock int64) Voucher {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	v := Voucher{ID: 10, Stock: stock, BeginTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	require.NoError(t, s.SaveVoucher(context.Background(), v))
	return v
}

// persistOnce runs the same statements as the order consumer.
func persistOnce(ctx context.Context, s OrderStore, o Order) (bool, error) {
	inserted := false
	err := s.WithinTx(ctx, func(ctx context.Context, tx OrderTx) error {
		n, err := tx.CountOrders(ctx, o.UserID, o.VoucherID)
		if err != nil || n > 0 {
			return err
		}
		ok, err := tx.DecrementStock(ctx, o.VoucherID)
		if err != nil || !ok {
			return err
		}
		inserted, err = tx.InsertOrder(ctx, o)
		return err
	})
	return inserted, err
}

func TestInMemoryGetVoucher(t *testing.T) {
	s := NewInMemory()
	v := seedVoucher(t, s, 3)

	got, ok, err := s.GetVoucher(context.Background(), v.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v, got)

	_, ok, err = s.GetVoucher(context.Background(), 999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryStockNeverNegative(t *testing.T) {
	s := NewInMemory()
	v := seedVoucher(t, s, 2)
	ctx := context.Background()

	for user := int64(1); user <= 5; user++ {
		_, err := persistOnce(ctx, s, Order{ID: user, UserID: user, VoucherID: v.ID})
		require.NoError(t, err)
	}
	require.Len(t, s.Orders(), 2)
	got, _, _ := s.GetVoucher(ctx, v.ID)
	require.Equal(t, int64(0), got.Stock)
}

func TestInMemoryOneOrderPerUser(t *testing.T) {
	s := NewInMemory()
	v := seedVoucher(t, s, 10)
	ctx := context.Background()

	ok, err := persistOnce(ctx, s, Order{ID: 1, UserID: 7, VoucherID: v.ID})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = persistOnce(ctx, s, Order{ID: 2, UserID: 7, VoucherID: v.ID})
	require.NoError(t, err)
	require.False(t, ok)

	got, _, _ := s.GetVoucher(ctx, v.ID)
	require.Equal(t, int64(9), got.Stock)
}

func TestInMemoryRollbackOnError(t *testing.T) {
	s := NewInMemory()
	v := seedVoucher(t, s, 1)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx OrderTx) error {
		ok, err := tx.DecrementStock(ctx, v.ID)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = tx.InsertOrder(ctx, Order{ID: 1, UserID: 1, VoucherID: v.ID})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, s.Orders())
	got, _, _ := s.GetVoucher(ctx, v.ID)
	require.Equal(t, int64(1), got.Stock)
}

func TestInMemoryDecrementUnknownVoucher(t *testing.T) {
	s := NewInMemory()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx OrderTx) error {
		ok, err := tx.DecrementStock(ctx, 42)
		require.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestInMemoryCapacityCountsPersistedOrders(t *testing.T) {
	s := NewInMemory()
	v := seedVoucher(t, s, 5)
	ctx := context.Background()

	for user := int64(1); user <= 2; user++ {
		_, err := persistOnce(ctx, s, Order{ID: user, UserID: user, VoucherID: v.ID})
		require.NoError(t, err)
	}
	got, _, _ := s.GetVoucher(ctx, v.ID)
	require.Equal(t, int64(3), got.Stock)

	n, ok, err := s.Capacity(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), n)

	_, ok, err = s.Capacity(ctx, 999)
	require.NoError(t, err)
	require.False(t, ok)
}
