package tenantdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions bound every per-tenant pool. Keeping per-tenant limits small is
// what makes hundreds of tenants on one server tractable.
type PoolOptions struct {
	MaxConns       int32
	MinConns       int32
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

// NewPool opens a bounded connection pool for the given DSN and verifies it
// with a ping, so a bad credential or unreachable server fails the open
// rather than the first query.
func NewPool(ctx context.Context, connString string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	if opts.IdleTimeout > 0 {
		cfg.MaxConnIdleTime = opts.IdleTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
