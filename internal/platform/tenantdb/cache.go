// Package tenantdb routes every request to its tenant's dedicated database.
// The cache lazily opens one bounded pool per tenant, collapses concurrent
// cold-start opens with singleflight, and never caches failure: a lookup that
// errors leaves no entry behind, so the next attempt starts clean.
package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/praxis/praxis/internal/platform/metrics"
	"github.com/praxis/praxis/internal/platform/registry"
)

// PoolOpener opens a pool for a tenant DSN. Injectable so tests can count
// opens without a database server.
type PoolOpener func(ctx context.Context, connString string, opts PoolOptions) (*pgxpool.Pool, error)

type Cache struct {
	reg  *registry.Service
	opts PoolOptions
	open PoolOpener
	log  zerolog.Logger

	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
	sf      singleflight.Group
}

func NewCache(reg *registry.Service, opts PoolOptions, log zerolog.Logger) *Cache {
	return &Cache{
		reg:     reg,
		opts:    opts,
		open:    NewPool,
		log:     log,
		handles: make(map[uuid.UUID]*Handle),
	}
}

// Get returns the handle for a tenant, opening its pool on first use.
// Registry state maps onto the error taxonomy: unknown or inactive tenants
// are registry.ErrTenantNotFound, unfinished provisioning is
// ErrTenantNotReady, and a failed run is ErrProvisioningFailed.
func (c *Cache) Get(ctx context.Context, tenantID uuid.UUID) (*Handle, error) {
	c.mu.RLock()
	h, ok := c.handles[tenantID]
	c.mu.RUnlock()
	if ok {
		metrics.TenantCacheHits.Inc()
		return h, nil
	}

	v, err, _ := c.sf.Do(tenantID.String(), func() (any, error) {
		// A racing caller may have populated the entry while we queued.
		c.mu.RLock()
		h, ok := c.handles[tenantID]
		c.mu.RUnlock()
		if ok {
			return h, nil
		}
		return c.openHandle(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (c *Cache) openHandle(ctx context.Context, tenantID uuid.UUID) (*Handle, error) {
	metrics.TenantCacheMisses.Inc()

	t, err := c.reg.Store().Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case registry.StatusReady:
	case registry.StatusFailed:
		reason := "unknown"
		if t.FailureReason != nil {
			reason = *t.FailureReason
		}
		return nil, fmt.Errorf("tenant %s: %s: %w", tenantID, reason, ErrProvisioningFailed)
	default:
		return nil, fmt.Errorf("tenant %s in status %s: %w", tenantID, t.Status, ErrTenantNotReady)
	}

	dsn, err := c.reg.ConnString(t)
	if err != nil {
		return nil, err
	}

	pool, err := c.open(ctx, dsn, c.opts)
	if err != nil {
		metrics.TenantPoolOpenFailures.Inc()
		c.log.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("open tenant pool")
		return nil, fmt.Errorf("open pool for tenant %s: %w", tenantID, err)
	}

	h := &Handle{
		tenantID:       tenantID,
		pool:           pool,
		credVersion:    t.Storage.CredVersion,
		acquireTimeout: c.opts.AcquireTimeout,
	}

	c.mu.Lock()
	c.handles[tenantID] = h
	open := len(c.handles)
	c.mu.Unlock()

	metrics.TenantPoolsOpen.Set(float64(open))
	c.log.Info().Str("tenant_id", tenantID.String()).Str("database", t.Storage.Database).
		Int("pools_open", open).Msg("tenant pool opened")
	return h, nil
}

// Invalidate drops a tenant's cached pool. The pool is closed in the
// background because pgxpool.Close waits for checked-out connections, and
// callers (deactivation, credential rotation) should not block on in-flight
// queries.
func (c *Cache) Invalidate(tenantID uuid.UUID) {
	c.mu.Lock()
	h, ok := c.handles[tenantID]
	if ok {
		delete(c.handles, tenantID)
	}
	open := len(c.handles)
	c.mu.Unlock()

	if !ok {
		return
	}
	metrics.TenantPoolsOpen.Set(float64(open))
	c.log.Info().Str("tenant_id", tenantID.String()).Msg("tenant pool invalidated")
	go h.pool.Close()
}

// Close shuts down every cached pool. Used on server shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[uuid.UUID]*Handle)
	c.mu.Unlock()

	for _, h := range handles {
		h.pool.Close()
	}
	metrics.TenantPoolsOpen.Set(0)
}

// PoolCount reports how many tenant pools are currently open.
func (c *Cache) PoolCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// IsNotFound reports whether err is the registry's not-found error.
// Re-exported here so HTTP layers depending on tenantdb do not also need the
// registry package for error mapping.
func IsNotFound(err error) bool {
	return errors.Is(err, registry.ErrTenantNotFound)
}
