package tenantdb

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	HandleKey   contextKey = "tenant_db"
)

// Middleware resolves the request's tenant and attaches its database handle
// to the request context. The tenant identity comes exclusively from the
// verified token claim set by the auth middleware; headers and query
// parameters are never consulted, and there is no default tenant. A request
// whose tenant cannot be established is rejected, not rerouted.
func Middleware(cache *Cache) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, _ := c.Get("jwt_tenant_id").(string)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing tenant identity")
			}
			tenantID, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid tenant identity")
			}

			h, err := cache.Get(c.Request().Context(), tenantID)
			if err != nil {
				return mapRoutingError(err)
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, HandleKey, h)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID.String())

			return next(c)
		}
	}
}

func mapRoutingError(err error) error {
	switch {
	case IsNotFound(err):
		// Deactivated tenants take this path too: from the outside the
		// account simply does not exist.
		return echo.NewHTTPError(http.StatusNotFound, "account does not exist")
	case errors.Is(err, ErrTenantNotReady):
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			"account is still being set up, retry shortly")
	case errors.Is(err, ErrProvisioningFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			"account setup did not complete, contact support")
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	}
}

// FromContext retrieves the tenant database handle placed by Middleware.
// Repositories treat a missing handle as a hard error rather than falling
// back to any shared connection.
func FromContext(ctx context.Context) (*Handle, error) {
	h, ok := ctx.Value(HandleKey).(*Handle)
	if !ok || h == nil {
		return nil, errors.New("no tenant database in request context")
	}
	return h, nil
}

// TenantFromContext retrieves the tenant ID placed by Middleware.
func TenantFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(TenantIDKey).(uuid.UUID)
	return id
}

// ContextWithHandle binds a handle to a context directly. Used by CLI
// commands and tests that bypass the HTTP middleware.
func ContextWithHandle(ctx context.Context, h *Handle) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, h.tenantID)
	return context.WithValue(ctx, HandleKey, h)
}
