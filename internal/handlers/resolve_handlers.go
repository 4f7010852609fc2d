package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"edgesites/internal/common"
	"edgesites/internal/platform"
)

// ResolveHandlers answers host lookups for edge routers
type ResolveHandlers struct {
	service platform.Service
	logger  *zap.Logger
}

func NewResolveHandlers(service platform.Service, logger *zap.Logger) *ResolveHandlers {
	return &ResolveHandlers{service: service, logger: logger}
}

type ResolveResponse struct {
	Host     string `json:"host"`
	TenantID string `json:"tenant_id"`
}

// Resolve answers 200 with the tenant id, or 404 when no tenant serves the host
func (h *ResolveHandlers) Resolve(c echo.Context) error {
	host := c.QueryParam("host")
	tenantID, found, err := h.service.ResolveTenantFromHost(c.Request().Context(), host)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	if !found {
		return common.SendNotFoundError(c, "Host")
	}
	return c.JSON(http.StatusOK, ResolveResponse{Host: host, TenantID: tenantID})
}
