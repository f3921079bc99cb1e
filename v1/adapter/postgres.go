package adapter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
)

//go:embed schema.sql
var schema string

// Postgres implements OrderStore on PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, warperrors.Wrap(err, "parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classify(err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates the voucher and order tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return classify(err)
}

// SaveVoucher implements OrderStore.SaveVoucher.
func (p *Postgres) SaveVoucher(ctx context.Context, v Voucher) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO seckill_voucher (voucher_id, stock, begin_time, end_time)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (voucher_id) DO UPDATE SET
          stock = EXCLUDED.stock,
          begin_time = EXCLUDED.begin_time,
          end_time = EXCLUDED.end_time
    `, v.ID, v.Stock, v.BeginTime, v.EndTime)
	return classify(err)
}

// GetVoucher implements OrderStore.GetVoucher.
func (p *Postgres) GetVoucher(ctx context.Context, id int64) (Voucher, bool, error) {
	var v Voucher
	err := p.pool.QueryRow(ctx,
		`SELECT voucher_id, stock, begin_time, end_time FROM seckill_voucher WHERE voucher_id = $1`, id,
	).Scan(&v.ID, &v.Stock, &v.BeginTime, &v.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, false, nil
	}
	if err != nil {
		return Voucher{}, false, classify(err)
	}
	return v, true, nil
}

// Capacity implements OrderStore.Capacity. A single statement sees one
// snapshot, so an order committed concurrently is counted either as stock or
// as an order, never both.
func (p *Postgres) Capacity(ctx context.Context, id int64) (int64, bool, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `
        SELECT v.stock + (SELECT count(*) FROM voucher_order o WHERE o.voucher_id = v.voucher_id)
        FROM seckill_voucher v WHERE v.voucher_id = $1
    `, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	return n, true, nil
}

// WithinTx implements OrderStore.WithinTx using a read committed transaction.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Warn("seckill: rollback failed", "error", rbErr)
		}
	}()
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CountOrders(ctx context.Context, userID, voucherID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM voucher_order WHERE user_id = $1 AND voucher_id = $2`, userID, voucherID,
	).Scan(&n)
	return n, classify(err)
}

func (t *pgTx) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE seckill_voucher SET stock = stock - 1 WHERE voucher_id = $1 AND stock > 0`, voucherID)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertOrder skips conflicting rows instead of raising, so a duplicate does
// not abort the surrounding transaction.
func (t *pgTx) InsertOrder(ctx context.Context, o Order) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
        INSERT INTO voucher_order (id, user_id, voucher_id, create_time)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT DO NOTHING
    `, o.ID, o.UserID, o.VoucherID, o.CreatedAt)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// classify maps PostgreSQL failures onto the seckill error categories.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return warperrors.Translate(err)
	}
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %w", warperrors.ErrDuplicate, err)
	case pgErr.Code == pgerrcode.CheckViolation:
		return fmt.Errorf("%w: %w", warperrors.ErrOutOfStock, err)
	case pgErr.Code == pgerrcode.ForeignKeyViolation:
		return warperrors.Fatal(err, "order references unknown voucher")
	case pgerrcode.IsTransactionRollback(pgErr.Code),
		pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.LockNotAvailable,
		pgErr.Code == pgerrcode.AdminShutdown:
		return fmt.Errorf("%w: %w", warperrors.ErrTransient, err)
	}
	return err
}
