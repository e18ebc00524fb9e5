package tenantdb

import "errors"

var (
	// ErrTenantNotReady means the tenant exists but its database is not
	// provisioned yet. Transient: the caller may retry later.
	ErrTenantNotReady = errors.New("tenant database not ready")

	// ErrProvisioningFailed means the tenant's last provisioning run
	// failed and operator intervention is needed. Structural: retrying
	// the request will not help.
	ErrProvisioningFailed = errors.New("tenant provisioning failed")

	// ErrConnectionExhausted means the tenant's pool could not hand out a
	// connection before the acquire deadline.
	ErrConnectionExhausted = errors.New("tenant connection pool exhausted")
)
