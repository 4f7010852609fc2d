package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"edgesites/internal/platform"
)

// TenantHandlers handles tenant-related HTTP requests
type TenantHandlers struct {
	service platform.Service
	logger  *zap.Logger
}

// NewTenantHandlers creates a new tenant handlers instance
func NewTenantHandlers(service platform.Service, logger *zap.Logger) *TenantHandlers {
	return &TenantHandlers{service: service, logger: logger}
}

// ListTenantsRequest represents query parameters for listing tenants
type ListTenantsRequest struct {
	Limit  int `query:"limit" validate:"gte=0,lte=500"`
	Offset int `query:"offset" validate:"gte=0"`
}

// ListTenants handles getting a page of tenants in creation order
func (h *TenantHandlers) ListTenants(c echo.Context) error {
	var req ListTenantsRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	if req.Limit == 0 {
		req.Limit = platform.DefaultListLimit
	}

	tenants, err := h.service.ListTenants(c.Request().Context(), req.Limit, req.Offset)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenants": tenants,
		"limit":   req.Limit,
		"offset":  req.Offset,
	})
}

// CreateTenant handles creating a new tenant
func (h *TenantHandlers) CreateTenant(c echo.Context) error {
	var req platform.CreateTenantRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	tenant, err := h.service.CreateTenant(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, tenant)
}

// GetTenant handles getting tenant details by ID
func (h *TenantHandlers) GetTenant(c echo.Context) error {
	tenant, err := h.service.GetTenant(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

// UpdateMetadataRequest merges keys into the tenant metadata. An empty value removes the key.
type UpdateMetadataRequest struct {
	Metadata map[string]string `json:"metadata" validate:"required,dive,keys,required,max=100,endkeys,max=2000"`
}

// UpdateMetadata handles patching tenant metadata
func (h *TenantHandlers) UpdateMetadata(c echo.Context) error {
	var req UpdateMetadataRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	tenant, err := h.service.UpdateTenantMetadata(c.Request().Context(), c.Param("id"), req.Metadata)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

// DeleteTenant removes a tenant with its files and domains
func (h *TenantHandlers) DeleteTenant(c echo.Context) error {
	tenantID := c.Param("id")
	if err := h.service.DeleteTenant(c.Request().Context(), tenantID); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message":   "Tenant deleted successfully",
		"tenant_id": tenantID,
	})
}
