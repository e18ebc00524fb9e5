package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists infrastructure endpoints that need no credentials at
// all: health checks and the metrics scrape target.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

const tenantAPIPrefix = "/api/v1/tenants"

// IsPublicPath reports whether the path is a credential-free infrastructure
// endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// AuthSkipper exempts from JWT verification the infrastructure endpoints
// plus the two onboarding routes a clinic uses before it has credentials:
// signup and provisioning-status polling. Every other tenant lifecycle
// route stays authenticated.
func AuthSkipper(c echo.Context) bool {
	if publicPaths[c.Path()] {
		return true
	}
	switch c.Request().Method {
	case http.MethodPost:
		return c.Path() == tenantAPIPrefix
	case http.MethodGet:
		return c.Path() == tenantAPIPrefix+"/:id"
	}
	return false
}

// TenantSkipper exempts from tenant database routing everything AuthSkipper
// exempts plus the rest of the tenant lifecycle API: those routes operate
// on the central registry and have no tenant database to route to. Being
// exempt here does not bypass authentication.
func TenantSkipper(c echo.Context) bool {
	if AuthSkipper(c) {
		return true
	}
	p := c.Path()
	return p == tenantAPIPrefix || strings.HasPrefix(p, tenantAPIPrefix+"/")
}
