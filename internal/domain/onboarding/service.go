// Package onboarding exposes the operator-facing tenant lifecycle: signing
// up a clinic, provisioning its database, rotating its credentials and
// retiring it. It runs against the central registry, never against a tenant
// database.
package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praxis/praxis/internal/platform/registry"
	"github.com/praxis/praxis/internal/platform/tenantdb"
)

// provisionTimeout bounds a single background provisioning run. Role and
// database creation are fast; the migration step dominates.
const provisionTimeout = 2 * time.Minute

// ErrProvisioningDisabled is returned when the server runs without an admin
// connection to the tenant database server.
var ErrProvisioningDisabled = errors.New("tenant provisioning is not configured")

// Provisioner is the slice of tenantdb.Provisioner this service needs.
type Provisioner interface {
	Provision(ctx context.Context, tenantID uuid.UUID) error
	RotateCredentials(ctx context.Context, tenantID uuid.UUID, cache *tenantdb.Cache) error
}

type Service struct {
	reg         *registry.Service
	provisioner Provisioner
	cache       *tenantdb.Cache
	log         zerolog.Logger
}

func NewService(reg *registry.Service, provisioner Provisioner, cache *tenantdb.Cache, log zerolog.Logger) *Service {
	return &Service{reg: reg, provisioner: provisioner, cache: cache, log: log}
}

// Signup registers a new clinic and starts provisioning its database in the
// background. The returned tenant is still unprovisioned; callers poll Get
// until the status reaches ready.
func (s *Service) Signup(ctx context.Context, name, country string) (*registry.Tenant, error) {
	t, err := s.reg.CreateTenant(ctx, name, country)
	if err != nil {
		return nil, err
	}
	s.provisionAsync(t.ID)
	return t, nil
}

// Provision retries provisioning for a tenant whose earlier run failed, or
// finishes one that never ran. Safe to call repeatedly.
func (s *Service) Provision(ctx context.Context, id uuid.UUID) error {
	if s.provisioner == nil {
		return ErrProvisioningDisabled
	}
	return s.provisioner.Provision(ctx, id)
}

func (s *Service) provisionAsync(id uuid.UUID) {
	if s.provisioner == nil {
		s.log.Warn().Str("tenant_id", id.String()).Msg("tenant created but provisioning is not configured")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
		defer cancel()
		if err := s.provisioner.Provision(ctx, id); err != nil {
			s.log.Error().Err(err).Str("tenant_id", id.String()).Msg("background provisioning failed")
			return
		}
		s.log.Info().Str("tenant_id", id.String()).Msg("tenant provisioned")
	}()
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*registry.Tenant, error) {
	return s.reg.Store().GetAny(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*registry.Tenant, int, error) {
	return s.reg.Store().List(ctx, limit, offset)
}

// Deactivate retires a tenant. Its database is left in place for retention;
// the connection cache entry is dropped so no further queries reach it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.reg.Store().GetAny(ctx, id); err != nil {
		return err
	}
	if err := s.reg.Store().Deactivate(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
	return nil
}

// RotateCredentials generates a new database password for a ready tenant.
func (s *Service) RotateCredentials(ctx context.Context, id uuid.UUID) error {
	if s.provisioner == nil {
		return ErrProvisioningDisabled
	}
	return s.provisioner.RotateCredentials(ctx, id, s.cache)
}
