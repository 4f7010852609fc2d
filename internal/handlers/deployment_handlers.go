package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"edgesites/internal/models"
	"edgesites/internal/platform"
)

type DeploymentHandlers struct {
	service platform.Service
	logger  *zap.Logger
}

func NewDeploymentHandlers(service platform.Service, logger *zap.Logger) *DeploymentHandlers {
	return &DeploymentHandlers{service: service, logger: logger}
}

// DeployRequest uploads a local directory. When Files is set only those
// relative paths are uploaded.
type DeployRequest struct {
	LocalPath  string   `json:"local_path" validate:"required"`
	BasePrefix string   `json:"base_prefix" validate:"omitempty,max=512"`
	Files      []string `json:"files,omitempty" validate:"omitempty,dive,required"`
}

// Deploy answers 200 with the result even when some files failed; the
// result's success flag and failed_files carry the outcome.
func (h *DeploymentHandlers) Deploy(c echo.Context) error {
	var req DeployRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	deployReq := &platform.DeployRequest{TenantID: c.Param("id"), LocalRoot: req.LocalPath, BasePrefix: req.BasePrefix}

	ctx := c.Request().Context()
	var (
		result *models.DeploymentResult
		err    error
	)
	if len(req.Files) > 0 {
		result, err = h.service.RedeployFailedFiles(ctx, deployReq, req.Files)
	} else {
		result, err = h.service.DeployTenantSite(ctx, deployReq)
	}
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, result)
}

type BatchDeployRequest struct {
	Deployments []platform.DeployRequest `json:"deployments" validate:"required,min=1,max=100,dive"`
}

func (h *DeploymentHandlers) DeployBatch(c echo.Context) error {
	var req BatchDeployRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	reqs := make([]*platform.DeployRequest, len(req.Deployments))
	for i := range req.Deployments {
		reqs[i] = &req.Deployments[i]
	}
	return c.JSON(http.StatusOK, h.service.DeployBatch(c.Request().Context(), reqs))
}

func (h *DeploymentHandlers) GetDeploymentStatus(c echo.Context) error {
	status, err := h.service.GetDeploymentStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, status)
}
