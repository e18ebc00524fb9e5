package onboarding

import (
	"errors"
	"net/http"

	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/praxis/praxis/internal/platform/auth"
	"github.com/praxis/praxis/internal/platform/registry"
	"github.com/praxis/praxis/internal/platform/tenantdb"
	"github.com/praxis/praxis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the tenant lifecycle API. Signup and status polling
// are open so a new clinic can register before it has credentials; every
// other operation is an operator action behind the admin role.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/tenants")
	g.POST("", h.Signup)
	g.GET("/:id", h.Get)

	admin := g.Group("", auth.RequireRole("admin"))
	admin.GET("", h.List)
	admin.POST("/:id/provision", h.Provision)
	admin.POST("/:id/rotate-credentials", h.RotateCredentials)
	admin.DELETE("/:id", h.Deactivate)
}

// tenantStatus is the unauthenticated view of a tenant: enough to follow
// provisioning progress without exposing where its database lives.
type tenantStatus struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	Status        registry.Status `json:"status"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	ProvisionedAt *time.Time      `json:"provisioned_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func statusOf(t *registry.Tenant) tenantStatus {
	return tenantStatus{
		ID:            t.ID,
		Name:          t.Name,
		Slug:          t.Slug,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		ProvisionedAt: t.ProvisionedAt,
		CreatedAt:     t.CreatedAt,
	}
}

type signupRequest struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

func (h *Handler) Signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Signup(c.Request().Context(), req.Name, req.Country)
	if err != nil {
		if errors.Is(err, registry.ErrNamespaceConflict) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// provisioning continues in the background
	return c.JSON(http.StatusAccepted, statusOf(t))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
	}
	return c.JSON(http.StatusOK, statusOf(t))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Provision(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Provision(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, registry.ErrTenantNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		case errors.Is(err, tenantdb.ErrTenantNotReady):
			return echo.NewHTTPError(http.StatusConflict, "provisioning already in progress")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RotateCredentials(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.RotateCredentials(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, registry.ErrTenantNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		case errors.Is(err, registry.ErrInvalidState):
			return echo.NewHTTPError(http.StatusConflict, "tenant is not ready")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		if errors.Is(err, registry.ErrTenantNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
