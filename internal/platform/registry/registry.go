// Package registry is the single source of truth for tenant metadata. Every
// clinic gets one record here describing where its dedicated database lives
// and how far provisioning has progressed. The registry itself never caches:
// fast repeated access belongs to the connection cache layered above it.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/praxis/praxis/internal/platform/secrets"
)

// Status tracks a tenant's provisioning lifecycle.
type Status string

const (
	StatusUnprovisioned Status = "unprovisioned"
	StatusProvisioning  Status = "provisioning"
	StatusReady         Status = "ready"
	StatusFailed        Status = "failed"
)

var (
	// ErrTenantNotFound means no such tenant exists (or it is deactivated
	// and the caller did not ask for inactive records).
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidState means a lifecycle transition was attempted from a
	// status that does not permit it.
	ErrInvalidState = errors.New("invalid provisioning state transition")

	// ErrNamespaceConflict means the derived database name is already
	// claimed by another tenant. Callers must regenerate, never overwrite:
	// a silent collision would merge two tenants' data.
	ErrNamespaceConflict = errors.New("storage namespace already in use")
)

// StorageLocation holds everything needed to open a connection to a tenant's
// dedicated database. The password is stored encrypted; use
// Service.ConnString to obtain a usable DSN.
type StorageLocation struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	User        string `json:"user"`
	PasswordEnc string `json:"-"`
	CredVersion int    `json:"cred_version"`
}

// Tenant is one clinic's registry record.
type Tenant struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	Country       string          `json:"country,omitempty"`
	Storage       StorageLocation `json:"storage"`
	Status        Status          `json:"status"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	IsActive      bool            `json:"is_active"`
	ProvisionedAt *time.Time      `json:"provisioned_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store is the persistence interface for tenant records.
type Store interface {
	// Get returns an active tenant by id.
	Get(ctx context.Context, id uuid.UUID) (*Tenant, error)
	// GetAny returns a tenant by id regardless of is_active. Operator use.
	GetAny(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	// Create inserts a new record. A database-name collision surfaces as
	// ErrNamespaceConflict; the record is never overwritten.
	Create(ctx context.Context, t *Tenant) error
	MarkProvisioning(ctx context.Context, id uuid.UUID) error
	MarkProvisioned(ctx context.Context, id uuid.UUID) error
	MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) error
	UpdateCredentials(ctx context.Context, id uuid.UUID, passwordEnc string) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
}

// ServerInfo says where new tenant databases are created.
type ServerInfo struct {
	Host string
	Port int
}

// Service wraps a Store with namespace derivation and credential handling.
type Service struct {
	store  Store
	keys   *secrets.KeyRing
	server ServerInfo
}

func NewService(store Store, keys *secrets.KeyRing, server ServerInfo) *Service {
	return &Service{store: store, keys: keys, server: server}
}

// Store exposes the underlying store for callers that only read records.
func (s *Service) Store() Store { return s.store }

// namespaceAttempts bounds collision-retry during tenant creation.
const namespaceAttempts = 4

// CreateTenant allocates a tenant id, derives a unique database name from
// the clinic name, generates storage credentials, and inserts the record
// with status unprovisioned. On a namespace collision the name is
// regenerated with a random suffix rather than overwriting.
func (s *Service) CreateTenant(ctx context.Context, name, country string) (*Tenant, error) {
	slug, err := DeriveSlug(name)
	if err != nil {
		return nil, err
	}

	password, err := generatePassword()
	if err != nil {
		return nil, err
	}
	passwordEnc, err := s.keys.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	candidate := slug
	for attempt := 0; attempt < namespaceAttempts; attempt++ {
		t := &Tenant{
			ID:      uuid.New(),
			Name:    name,
			Slug:    candidate,
			Country: country,
			Storage: StorageLocation{
				Host:        s.server.Host,
				Port:        s.server.Port,
				Database:    DatabaseName(candidate),
				User:        RoleName(candidate),
				PasswordEnc: passwordEnc,
				CredVersion: 1,
			},
			Status:   StatusUnprovisioned,
			IsActive: true,
		}

		err := s.store.Create(ctx, t)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNamespaceConflict) {
			return nil, err
		}
		candidate, err = WithRandomSuffix(slug)
		if err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("derive namespace for %q: %w", name, ErrNamespaceConflict)
}

// Password decrypts the tenant's stored database password.
func (s *Service) Password(t *Tenant) (string, error) {
	password, err := s.keys.Decrypt(t.Storage.PasswordEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt credentials for tenant %s: %w", t.ID, err)
	}
	return password, nil
}

// ConnString decrypts the tenant's stored credentials and assembles a DSN.
func (s *Service) ConnString(t *Tenant) (string, error) {
	password, err := s.Password(t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		t.Storage.User, password, t.Storage.Host, t.Storage.Port, t.Storage.Database), nil
}

// NewPassword generates a fresh password and its encrypted form, used by
// credential rotation.
func (s *Service) NewPassword() (plaintext, encrypted string, err error) {
	plaintext, err = generatePassword()
	if err != nil {
		return "", "", err
	}
	encrypted, err = s.keys.Encrypt(plaintext)
	if err != nil {
		return "", "", fmt.Errorf("encrypt credentials: %w", err)
	}
	return plaintext, encrypted, nil
}

func generatePassword() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
