package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"edgesites/internal/models"
	"edgesites/internal/platform"
)

// DomainHandlers handles custom domain requests
type DomainHandlers struct {
	service platform.Service
	logger  *zap.Logger
}

func NewDomainHandlers(service platform.Service, logger *zap.Logger) *DomainHandlers {
	return &DomainHandlers{service: service, logger: logger}
}

type AddDomainRequest struct {
	Domain             string `json:"domain" validate:"required,max=253"`
	VerificationMethod string `json:"verification_method" validate:"omitempty,oneof=http dns_txt dns_cname"`
}

// AddDomain registers a custom domain and returns what the tenant has to publish
func (h *DomainHandlers) AddDomain(c echo.Context) error {
	var req AddDomainRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	instructions, err := h.service.AddCustomDomain(c.Request().Context(), c.Param("id"), req.Domain, models.VerificationMethod(req.VerificationMethod))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, instructions)
}

func (h *DomainHandlers) ListDomains(c echo.Context) error {
	domains, err := h.service.ListTenantDomains(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id": c.Param("id"),
		"domains":   domains,
	})
}

// GetDomain returns the stored record without contacting the edge
func (h *DomainHandlers) GetDomain(c echo.Context) error {
	d, err := h.service.GetDomain(c.Request().Context(), c.Param("domain"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, d)
}

// RefreshDomain polls the edge once and returns the updated record
func (h *DomainHandlers) RefreshDomain(c echo.Context) error {
	d, err := h.service.GetDomainStatus(c.Request().Context(), c.Param("domain"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *DomainHandlers) GetInstructions(c echo.Context) error {
	in, err := h.service.GetVerificationInstructions(c.Request().Context(), c.Param("domain"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, in)
}

func (h *DomainHandlers) RemoveDomain(c echo.Context) error {
	if err := h.service.RemoveCustomDomain(c.Request().Context(), c.Param("domain")); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}
