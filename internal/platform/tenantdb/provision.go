package tenantdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/praxis/praxis/internal/platform/metrics"
	"github.com/praxis/praxis/internal/platform/registry"
)

// AdminConn is the slice of pgxpool.Pool the provisioner needs on the
// administrative connection (a role allowed to create roles and databases).
type AdminConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// staleProvisioningAfter is how long a tenant may sit in provisioning with
// no registry update before the run is presumed dead and may be retried.
const staleProvisioningAfter = 15 * time.Minute

// Provisioner creates a tenant's database role, database and schema. Every
// step checks before it creates, so a run that died halfway can be retried
// from the top: completed steps become no-ops and execution resumes at the
// first incomplete one.
type Provisioner struct {
	reg           *registry.Service
	admin         AdminConn
	migrationsDir string
	log           zerolog.Logger

	// overridable in tests
	openTenant PoolOpener
	migrate    func(ctx context.Context, dsn string) error
}

func NewProvisioner(reg *registry.Service, admin AdminConn, migrationsDir string, log zerolog.Logger) *Provisioner {
	p := &Provisioner{
		reg:           reg,
		admin:         admin,
		migrationsDir: migrationsDir,
		log:           log,
		openTenant:    NewPool,
	}
	p.migrate = p.runMigrations
	return p
}

// Provision takes a tenant from unprovisioned (or failed) to ready. Calling
// it on a ready tenant is a no-op; calling it while another run is in flight
// returns ErrTenantNotReady unless that run has gone stale (no registry
// update within staleProvisioningAfter), in which case the retry takes
// over. On failure the registry records the reason and
// any partially created role or database is left in place for the next
// attempt to pick up.
func (p *Provisioner) Provision(ctx context.Context, tenantID uuid.UUID) error {
	t, err := p.reg.Store().GetAny(ctx, tenantID)
	if err != nil {
		return err
	}

	switch t.Status {
	case registry.StatusReady:
		p.log.Info().Str("tenant_id", tenantID.String()).Msg("tenant already provisioned")
		return nil
	case registry.StatusProvisioning:
		// A run that died before recording its failure leaves the tenant
		// parked in provisioning. Once the record has not been touched for
		// the stale window the lock is considered abandoned and a retry
		// may take over.
		if time.Since(t.UpdatedAt) < staleProvisioningAfter {
			return fmt.Errorf("tenant %s: provisioning already in progress: %w", tenantID, ErrTenantNotReady)
		}
		p.log.Warn().Str("tenant_id", tenantID.String()).
			Time("last_update", t.UpdatedAt).Msg("taking over stale provisioning run")
	}

	if err := p.reg.Store().MarkProvisioning(ctx, tenantID); err != nil {
		return err
	}

	start := time.Now()
	if err := p.run(ctx, t); err != nil {
		metrics.ProvisioningRuns.WithLabelValues("failure").Inc()
		p.log.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("provisioning failed")
		if markErr := p.reg.Store().MarkProvisioningFailed(ctx, tenantID, err.Error()); markErr != nil {
			p.log.Error().Err(markErr).Str("tenant_id", tenantID.String()).Msg("record provisioning failure")
		}
		return fmt.Errorf("tenant %s: %v: %w", tenantID, err, ErrProvisioningFailed)
	}

	if err := p.reg.Store().MarkProvisioned(ctx, tenantID); err != nil {
		return err
	}

	metrics.ProvisioningRuns.WithLabelValues("success").Inc()
	metrics.ProvisioningDuration.Observe(time.Since(start).Seconds())
	p.log.Info().Str("tenant_id", tenantID.String()).Str("database", t.Storage.Database).
		Dur("took", time.Since(start)).Msg("tenant provisioned")
	return nil
}

func (p *Provisioner) run(ctx context.Context, t *registry.Tenant) error {
	password, err := p.reg.Password(t)
	if err != nil {
		return err
	}

	if err := p.ensureRole(ctx, t.Storage.User, password); err != nil {
		return err
	}
	if err := p.ensureDatabase(ctx, t.Storage.Database, t.Storage.User); err != nil {
		return err
	}

	dsn, err := p.reg.ConnString(t)
	if err != nil {
		return err
	}
	return p.migrate(ctx, dsn)
}

// ensureRole creates the tenant's login role if missing. CREATE ROLE has no
// IF NOT EXISTS, so existence is checked first; on a retry the password is
// re-set to keep the role in sync with the registry record.
func (p *Provisioner) ensureRole(ctx context.Context, role, password string) error {
	var exists bool
	err := p.admin.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, role).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check role %s: %w", role, err)
	}

	stmt := fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD %s`, role, quoteLiteral(password))
	if exists {
		stmt = fmt.Sprintf(`ALTER ROLE %s WITH LOGIN PASSWORD %s`, role, quoteLiteral(password))
	}
	if _, err := p.admin.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure role %s: %w", role, err)
	}
	return nil
}

// ensureDatabase creates the tenant's database if missing. CREATE DATABASE
// has no IF NOT EXISTS either.
func (p *Provisioner) ensureDatabase(ctx context.Context, database, owner string) error {
	var exists bool
	err := p.admin.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, database).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database %s: %w", database, err)
	}

	if !exists {
		if _, err := p.admin.Exec(ctx,
			fmt.Sprintf(`CREATE DATABASE %s OWNER %s`, database, owner)); err != nil {
			return fmt.Errorf("create database %s: %w", database, err)
		}
	}

	if _, err := p.admin.Exec(ctx,
		fmt.Sprintf(`GRANT ALL PRIVILEGES ON DATABASE %s TO %s`, database, owner)); err != nil {
		return fmt.Errorf("grant on database %s: %w", database, err)
	}
	return nil
}

func (p *Provisioner) runMigrations(ctx context.Context, dsn string) error {
	pool, err := p.openTenant(ctx, dsn, PoolOptions{MaxConns: 2, MinConns: 0})
	if err != nil {
		return fmt.Errorf("connect to tenant database: %w", err)
	}
	defer pool.Close()

	applied, err := NewMigrator(pool, p.migrationsDir).Up(ctx)
	if err != nil {
		return err
	}
	p.log.Info().Int("applied", applied).Msg("tenant migrations applied")
	return nil
}

// RotateCredentials issues a fresh password for the tenant's role, stores
// the encrypted form in the registry, and drops the cached pool so the next
// request reconnects with the new credentials. Only ready tenants can
// rotate.
func (p *Provisioner) RotateCredentials(ctx context.Context, tenantID uuid.UUID, cache *Cache) error {
	t, err := p.reg.Store().GetAny(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Status != registry.StatusReady {
		return fmt.Errorf("tenant %s in status %s: %w", tenantID, t.Status, registry.ErrInvalidState)
	}

	password, encrypted, err := p.reg.NewPassword()
	if err != nil {
		return err
	}

	if _, err := p.admin.Exec(ctx,
		fmt.Sprintf(`ALTER ROLE %s WITH PASSWORD %s`, t.Storage.User, quoteLiteral(password))); err != nil {
		return fmt.Errorf("rotate role password for %s: %w", t.Storage.User, err)
	}

	if err := p.reg.Store().UpdateCredentials(ctx, tenantID, encrypted); err != nil {
		return err
	}

	if cache != nil {
		cache.Invalidate(tenantID)
	}
	p.log.Info().Str("tenant_id", tenantID.String()).Msg("tenant credentials rotated")
	return nil
}

// quoteLiteral wraps a value as a SQL string literal. Role and database
// identifiers never need quoting here because namespace derivation only
// emits [a-z0-9_], but passwords go through DDL that cannot be
// parameterized.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
