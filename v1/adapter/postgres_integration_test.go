//go:build integration

package adapter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser     = "test"
	pgPassword = "testpass"
)

func dsn(host string, port nat.Port) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/postgres?sslmode=disable", pgUser, pgPassword, host, port.Port())
}

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       "postgres",
			},
			Cmd:        []string{"postgres", "-c", "fsync=off", "-c", "synchronous_commit=off"},
			WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsn).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Terminate(ctx)
	})

	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	host, err := c.Host(ctx)
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn(host, port))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	p := NewPostgres(pool)
	require.NoError(t, p.Migrate(ctx))
	return p
}

func TestPostgresOrderFlow(t *testing.T) {
	p := startPostgres(t)
	ctx := context.Background()
	v := seedVoucher(t, p, 2)

	got, ok, err := p.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v.Stock, got.Stock)
	require.True(t, v.BeginTime.Equal(got.BeginTime))

	var wg sync.WaitGroup
	for user := int64(1); user <= 8; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			if _, err := persistOnce(ctx, p, Order{ID: user, UserID: user, VoucherID: v.ID, CreatedAt: time.Now()}); err != nil {
				t.Errorf("persist user %d: %v", user, err)
			}
		}(user)
	}
	wg.Wait()

	got, _, err = p.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Stock)

	var orders int
	require.NoError(t, p.pool.QueryRow(ctx, `SELECT count(*) FROM voucher_order`).Scan(&orders))
	require.Equal(t, 2, orders)

	capacity, ok, err := p.Capacity(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v.Stock, capacity)
}

func TestPostgresDuplicateInsertKeepsTx(t *testing.T) {
	p := startPostgres(t)
	ctx := context.Background()
	v := seedVoucher(t, p, 5)

	ok, err := persistOnce(ctx, p, Order{ID: 1, UserID: 1, VoucherID: v.ID, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, ok)

	err = p.WithinTx(ctx, func(ctx context.Context, tx OrderTx) error {
		ok, err := tx.InsertOrder(ctx, Order{ID: 2, UserID: 1, VoucherID: v.ID, CreatedAt: time.Now()})
		require.NoError(t, err)
		require.False(t, ok)
		n, err := tx.CountOrders(ctx, 1, v.ID)
		require.Equal(t, 1, n)
		return err
	})
	require.NoError(t, err)
}

func TestPostgresGetMissingVoucher(t *testing.T) {
	p := startPostgres(t)
	_, ok, err := p.GetVoucher(context.Background(), 12345)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = p.Capacity(context.Background(), 12345)
	require.NoError(t, err)
	require.False(t, ok)
}
