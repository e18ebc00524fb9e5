package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Handle is a tenant-scoped view of a connection pool. Repositories go
// through a Handle rather than a raw pool so every query is bound to exactly
// one tenant's database and connection acquisition is bounded: a slow tenant
// times out with ErrConnectionExhausted instead of queueing indefinitely.
type Handle struct {
	tenantID       uuid.UUID
	pool           *pgxpool.Pool
	credVersion    int
	acquireTimeout time.Duration
}

func (h *Handle) TenantID() uuid.UUID { return h.tenantID }

// CredVersion reports which credential generation opened the pool. The cache
// uses it to detect stale pools after a rotation.
func (h *Handle) CredVersion() int { return h.credVersion }

func (h *Handle) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx := ctx
	var cancel context.CancelFunc
	if h.acquireTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, h.acquireTimeout)
		defer cancel()
	}
	conn, err := h.pool.Acquire(actx)
	if err != nil {
		return nil, h.acquireErr(ctx, err)
	}
	return conn, nil
}

// acquireErr classifies an acquire failure. A deadline hit while the
// caller's own context is still live means the bounded acquire wait ran
// out, so the pool is saturated; a dead caller context is the caller's
// cancellation and must not be reported as exhaustion.
func (h *Handle) acquireErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("tenant %s: %w", h.tenantID, ErrConnectionExhausted)
	}
	return fmt.Errorf("acquire connection for tenant %s: %w", h.tenantID, err)
}

func (h *Handle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		conn.Release()
		return nil, err
	}
	return &releasingRows{Rows: rows, conn: conn}, nil
}

func (h *Handle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := h.acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &releasingRow{row: conn.QueryRow(ctx, sql, args...), conn: conn}
}

func (h *Handle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := h.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer conn.Release()
	return conn.Exec(ctx, sql, args...)
}

func (h *Handle) Begin(ctx context.Context) (pgx.Tx, error) {
	conn, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, err
	}
	return &releasingTx{Tx: tx, conn: conn}, nil
}

// releasingRows returns the connection to the pool when the caller closes the
// rows. pgx closes rows on iteration errors too, so Release must be
// idempotent here.
type releasingRows struct {
	pgx.Rows
	conn *pgxpool.Conn
	once sync.Once
}

func (r *releasingRows) Close() {
	r.Rows.Close()
	r.once.Do(r.conn.Release)
}

type releasingRow struct {
	row  pgx.Row
	conn *pgxpool.Conn
}

func (r *releasingRow) Scan(dest ...any) error {
	defer r.conn.Release()
	return r.row.Scan(dest...)
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

type releasingTx struct {
	pgx.Tx
	conn *pgxpool.Conn
	once sync.Once
}

func (t *releasingTx) Commit(ctx context.Context) error {
	err := t.Tx.Commit(ctx)
	t.once.Do(t.conn.Release)
	return err
}

func (t *releasingTx) Rollback(ctx context.Context) error {
	err := t.Tx.Rollback(ctx)
	t.once.Do(t.conn.Release)
	return err
}
