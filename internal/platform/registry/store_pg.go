package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// storePG persists tenant records in the central registry database.
type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

// Bootstrap creates the tenants table if it does not already exist. The
// registry schema is small enough that it is managed here rather than
// through the per-tenant migration runner.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
		    id UUID PRIMARY KEY,
		    name TEXT NOT NULL,
		    slug TEXT NOT NULL UNIQUE,
		    country TEXT NOT NULL DEFAULT '',
		    db_host TEXT NOT NULL,
		    db_port INTEGER NOT NULL,
		    db_name TEXT NOT NULL UNIQUE,
		    db_user TEXT NOT NULL,
		    db_password_enc TEXT NOT NULL,
		    cred_version INTEGER NOT NULL DEFAULT 1,
		    status TEXT NOT NULL DEFAULT 'unprovisioned',
		    failure_reason TEXT,
		    is_active BOOLEAN NOT NULL DEFAULT TRUE,
		    provisioned_at TIMESTAMPTZ,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("bootstrap tenants table: %w", err)
	}
	return nil
}

const tenantCols = `id, name, slug, country, db_host, db_port, db_name, db_user,
	db_password_enc, cred_version, status, failure_reason, is_active,
	provisioned_at, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Country,
		&t.Storage.Host, &t.Storage.Port, &t.Storage.Database, &t.Storage.User,
		&t.Storage.PasswordEnc, &t.Storage.CredVersion, &t.Status, &t.FailureReason,
		&t.IsActive, &t.ProvisionedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *storePG) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE id = $1 AND is_active`, id))
}

func (s *storePG) GetAny(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE id = $1`, id))
}

func (s *storePG) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE slug = $1 AND is_active`, slug))
}

func (s *storePG) Create(ctx context.Context, t *Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, country, db_host, db_port, db_name,
			db_user, db_password_enc, cred_version, status, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.Name, t.Slug, t.Country,
		t.Storage.Host, t.Storage.Port, t.Storage.Database, t.Storage.User,
		t.Storage.PasswordEnc, t.Storage.CredVersion, t.Status, t.IsActive)
	if isUniqueViolation(err) {
		return fmt.Errorf("tenant %s: %w", t.Slug, ErrNamespaceConflict)
	}
	return err
}

// MarkProvisioning also accepts a tenant already in provisioning whose
// record has gone stale: a run that crashed before recording its failure
// would otherwise hold the status forever.
func (s *storePG) MarkProvisioning(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id,
		`UPDATE tenants SET status = 'provisioning', failure_reason = NULL, updated_at = NOW()
		 WHERE id = $1 AND (status IN ('unprovisioned', 'failed')
		    OR (status = 'provisioning' AND updated_at < NOW() - INTERVAL '15 minutes'))`)
}

func (s *storePG) MarkProvisioned(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id,
		`UPDATE tenants SET status = 'ready', provisioned_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'provisioning'`)
}

func (s *storePG) MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET status = 'failed', failure_reason = $2, updated_at = NOW()
		 WHERE id = $1`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	return nil
}

// transition runs a guarded status update; zero rows affected is
// disambiguated into not-found vs. wrong-state.
func (s *storePG) transition(ctx context.Context, id uuid.UUID, query string) error {
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetAny(ctx, id); err != nil {
		return fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	return fmt.Errorf("tenant %s: %w", id, ErrInvalidState)
}

func (s *storePG) UpdateCredentials(ctx context.Context, id uuid.UUID, passwordEnc string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET db_password_enc = $2, cred_version = cred_version + 1, updated_at = NOW()
		 WHERE id = $1`, id, passwordEnc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	return nil
}

func (s *storePG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	return nil
}

func (s *storePG) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE is_active ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
