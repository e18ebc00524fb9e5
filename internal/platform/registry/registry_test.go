package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/praxis/praxis/internal/platform/secrets"
)

type mockStore struct {
	Store
	createFn func(ctx context.Context, t *Tenant) error
	created  []*Tenant
}

func (m *mockStore) Create(ctx context.Context, t *Tenant) error {
	m.created = append(m.created, t)
	if m.createFn != nil {
		return m.createFn(ctx, t)
	}
	return nil
}

func testKeyRing(t *testing.T) *secrets.KeyRing {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	kr, err := secrets.NewKeyRing(key, 1)
	if err != nil {
		t.Fatal(err)
	}
	return kr
}

func testService(t *testing.T, store Store) *Service {
	t.Helper()
	return NewService(store, testKeyRing(t), ServerInfo{Host: "db.internal", Port: 5432})
}

func TestCreateTenant(t *testing.T) {
	store := &mockStore{}
	svc := testService(t, store)

	tenant, err := svc.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	if tenant.Slug != "acme_clinic" {
		t.Errorf("slug = %q", tenant.Slug)
	}
	if tenant.Storage.Database != "tenant_acme_clinic" {
		t.Errorf("database = %q", tenant.Storage.Database)
	}
	if tenant.Storage.User != "tenant_acme_clinic_app" {
		t.Errorf("user = %q", tenant.Storage.User)
	}
	if tenant.Status != StatusUnprovisioned {
		t.Errorf("status = %q", tenant.Status)
	}
	if !tenant.IsActive {
		t.Error("new tenant should be active")
	}
	if tenant.Storage.PasswordEnc == "" {
		t.Error("missing encrypted credentials")
	}
	if tenant.ID == uuid.Nil {
		t.Error("missing tenant id")
	}
}

func TestCreateTenant_NamespaceCollision(t *testing.T) {
	calls := 0
	store := &mockStore{
		createFn: func(ctx context.Context, tn *Tenant) error {
			calls++
			if calls == 1 {
				return ErrNamespaceConflict
			}
			return nil
		},
	}
	svc := testService(t, store)

	tenant, err := svc.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after collision, got %d create calls", calls)
	}
	if tenant.Slug == "acme_clinic" {
		t.Error("collided slug was not regenerated")
	}
	if !strings.HasPrefix(tenant.Slug, "acme_clinic_") {
		t.Errorf("regenerated slug lost its base: %q", tenant.Slug)
	}
	if tenant.Storage.Database != DatabaseName(tenant.Slug) {
		t.Errorf("database %q does not match slug %q", tenant.Storage.Database, tenant.Slug)
	}

	// The colliding record must never be overwritten: each attempt is a
	// fresh insert with a fresh id.
	if store.created[0].ID == store.created[1].ID {
		t.Error("retry reused the tenant id")
	}
}

func TestCreateTenant_CollisionExhausted(t *testing.T) {
	store := &mockStore{
		createFn: func(ctx context.Context, tn *Tenant) error {
			return ErrNamespaceConflict
		},
	}
	svc := testService(t, store)

	_, err := svc.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if !errors.Is(err, ErrNamespaceConflict) {
		t.Fatalf("expected ErrNamespaceConflict, got %v", err)
	}
	if len(store.created) != namespaceAttempts {
		t.Errorf("expected %d attempts, got %d", namespaceAttempts, len(store.created))
	}
}

func TestCreateTenant_EmptyName(t *testing.T) {
	svc := testService(t, &mockStore{})
	if _, err := svc.CreateTenant(context.Background(), "  ", "DE"); err == nil {
		t.Fatal("expected error for unusable name")
	}
}

func TestConnString(t *testing.T) {
	store := &mockStore{}
	svc := testService(t, store)

	tenant, err := svc.CreateTenant(context.Background(), "Acme Clinic", "DE")
	if err != nil {
		t.Fatal(err)
	}

	dsn, err := svc.ConnString(tenant)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(dsn, "postgres://tenant_acme_clinic_app:") {
		t.Errorf("dsn = %q", dsn)
	}
	if !strings.HasSuffix(dsn, "@db.internal:5432/tenant_acme_clinic") {
		t.Errorf("dsn = %q", dsn)
	}
	if strings.Contains(dsn, tenant.Storage.PasswordEnc) {
		t.Error("dsn contains the encrypted form instead of the plaintext password")
	}
}

func TestConnString_BadCiphertext(t *testing.T) {
	svc := testService(t, &mockStore{})
	tenant := &Tenant{Storage: StorageLocation{PasswordEnc: "not-a-ciphertext"}}
	if _, err := svc.ConnString(tenant); err == nil {
		t.Fatal("expected decrypt error")
	}
}

func TestNewPassword(t *testing.T) {
	svc := testService(t, &mockStore{})
	plain, enc, err := svc.NewPassword()
	if err != nil {
		t.Fatal(err)
	}
	if plain == "" || enc == "" {
		t.Fatal("empty password material")
	}
	if plain == enc {
		t.Error("password was not encrypted")
	}
}
