package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/praxis/praxis/internal/platform/registry"
)

// mockAdmin simulates the administrative connection: it tracks which roles
// and databases exist and records every statement.
type mockAdmin struct {
	roles     map[string]bool
	databases map[string]bool
	execs     []string
	failOn    string
}

func newMockAdmin() *mockAdmin {
	return &mockAdmin{roles: make(map[string]bool), databases: make(map[string]bool)}
}

type boolRow struct{ v bool }

func (r boolRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = r.v
	return nil
}

func (a *mockAdmin) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	name, _ := args[0].(string)
	if strings.Contains(sql, "pg_roles") {
		return boolRow{v: a.roles[name]}
	}
	return boolRow{v: a.databases[name]}
}

func (a *mockAdmin) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if a.failOn != "" && strings.Contains(sql, a.failOn) {
		return pgconn.CommandTag{}, fmt.Errorf("simulated failure on %q", a.failOn)
	}
	a.execs = append(a.execs, sql)
	fields := strings.Fields(sql)
	if strings.HasPrefix(sql, "CREATE ROLE ") {
		a.roles[fields[2]] = true
	}
	if strings.HasPrefix(sql, "CREATE DATABASE ") {
		a.databases[fields[2]] = true
	}
	return pgconn.CommandTag{}, nil
}

func (a *mockAdmin) executed(substr string) bool {
	for _, s := range a.execs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func newTestProvisioner(t *testing.T, reg *registry.Service, admin *mockAdmin) (*Provisioner, *int) {
	t.Helper()
	p := NewProvisioner(reg, admin, t.TempDir(), zerolog.Nop())
	migrations := 0
	p.migrate = func(ctx context.Context, dsn string) error {
		migrations++
		return nil
	}
	return p, &migrations
}

func TestProvision(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	tenant, err := reg.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	admin := newMockAdmin()
	p, migrations := newTestProvisioner(t, reg, admin)

	if err := p.Provision(context.Background(), tenant.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetAny(context.Background(), tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != registry.StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if !admin.executed("CREATE ROLE tenant_acme_clinic_app") {
		t.Error("role was not created")
	}
	if !admin.executed("CREATE DATABASE tenant_acme_clinic") {
		t.Error("database was not created")
	}
	if !admin.executed("GRANT ALL PRIVILEGES") {
		t.Error("privileges were not granted")
	}
	if *migrations != 1 {
		t.Errorf("migrations ran %d times, want 1", *migrations)
	}
}

func TestProvision_AlreadyReady(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	id := newReadyTenant(t, reg, store, "Acme Clinic")

	admin := newMockAdmin()
	p, migrations := newTestProvisioner(t, reg, admin)

	if err := p.Provision(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if len(admin.execs) != 0 {
		t.Errorf("ready tenant triggered %d statements", len(admin.execs))
	}
	if *migrations != 0 {
		t.Error("ready tenant reran migrations")
	}
}

func TestProvision_InProgress(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	tenant, err := reg.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}
	store.setTenantStatus(tenant.ID, registry.StatusProvisioning, "")

	p, _ := newTestProvisioner(t, reg, newMockAdmin())
	err = p.Provision(context.Background(), tenant.ID)
	if !errors.Is(err, ErrTenantNotReady) {
		t.Fatalf("expected ErrTenantNotReady, got %v", err)
	}
}

func TestProvision_StaleRunTakenOver(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	tenant, err := reg.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	// A run that crashed before recording its failure: status stuck in
	// provisioning with no registry update since.
	store.setTenantStatus(tenant.ID, registry.StatusProvisioning, "")
	store.mu.Lock()
	store.tenants[tenant.ID].UpdatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	admin := newMockAdmin()
	p, migrations := newTestProvisioner(t, reg, admin)

	if err := p.Provision(context.Background(), tenant.ID); err != nil {
		t.Fatalf("stale run was not taken over: %v", err)
	}

	got, err := store.GetAny(context.Background(), tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != registry.StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if *migrations != 1 {
		t.Errorf("migrations ran %d times, want 1", *migrations)
	}
}

func TestProvision_FailureRecordedAndRetryable(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	tenant, err := reg.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	admin := newMockAdmin()
	admin.failOn = "CREATE DATABASE"
	p, migrations := newTestProvisioner(t, reg, admin)

	err = p.Provision(context.Background(), tenant.ID)
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("expected ErrProvisioningFailed, got %v", err)
	}

	got, _ := store.GetAny(context.Background(), tenant.ID)
	if got.Status != registry.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.FailureReason == nil || !strings.Contains(*got.FailureReason, "create database") {
		t.Errorf("failure reason = %v", got.FailureReason)
	}
	if *migrations != 0 {
		t.Error("migrations ran despite database failure")
	}

	// The retry resumes: the role already exists, so it is re-synced
	// rather than recreated, and the run completes.
	admin.failOn = ""
	if err := p.Provision(context.Background(), tenant.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetAny(context.Background(), tenant.ID)
	if got.Status != registry.StatusReady {
		t.Errorf("status after retry = %s, want ready", got.Status)
	}
	if !admin.executed("ALTER ROLE tenant_acme_clinic_app") {
		t.Error("existing role was not re-synced on retry")
	}
	if *migrations != 1 {
		t.Errorf("migrations ran %d times, want 1", *migrations)
	}
}

func TestProvision_SkipsExistingObjects(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	tenant, err := reg.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	admin := newMockAdmin()
	admin.roles["tenant_acme_clinic_app"] = true
	admin.databases["tenant_acme_clinic"] = true
	p, _ := newTestProvisioner(t, reg, admin)

	if err := p.Provision(context.Background(), tenant.ID); err != nil {
		t.Fatal(err)
	}
	if admin.executed("CREATE ROLE") {
		t.Error("existing role was recreated")
	}
	if admin.executed("CREATE DATABASE") {
		t.Error("existing database was recreated")
	}
	if !admin.executed("GRANT ALL PRIVILEGES") {
		t.Error("privileges were not granted")
	}
}

func TestRotateCredentials(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	id := newReadyTenant(t, reg, store, "Acme Clinic")

	cache := NewCache(reg, PoolOptions{}, zerolog.Nop())
	cache.open = func(ctx context.Context, connString string, opts PoolOptions) (*pgxpool.Pool, error) {
		return fakePool(), nil
	}
	t.Cleanup(cache.Close)

	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	before, _ := store.GetAny(context.Background(), id)
	admin := newMockAdmin()
	p, _ := newTestProvisioner(t, reg, admin)

	if err := p.RotateCredentials(context.Background(), id, cache); err != nil {
		t.Fatal(err)
	}

	after, _ := store.GetAny(context.Background(), id)
	if after.Storage.PasswordEnc == before.Storage.PasswordEnc {
		t.Error("stored credentials unchanged")
	}
	if after.Storage.CredVersion != before.Storage.CredVersion+1 {
		t.Errorf("cred version = %d, want %d", after.Storage.CredVersion, before.Storage.CredVersion+1)
	}
	if !admin.executed("ALTER ROLE tenant_acme_clinic_app") {
		t.Error("role password was not changed")
	}
	if cache.PoolCount() != 0 {
		t.Error("stale pool survived rotation")
	}
}

func TestRotateCredentials_NotReady(t *testing.T) {
	store := newMockRegistryStore()
	reg := testRegistry(t, store)
	tenant, err := reg.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	p, _ := newTestProvisioner(t, reg, newMockAdmin())
	err = p.RotateCredentials(context.Background(), tenant.ID, nil)
	if !errors.Is(err, registry.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral("abc"); got != "'abc'" {
		t.Errorf("quoteLiteral = %s", got)
	}
	if got := quoteLiteral("a'b"); got != "'a''b'" {
		t.Errorf("quoteLiteral = %s", got)
	}
}
