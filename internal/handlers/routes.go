package handlers

import (
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"edgesites/internal/middleware"
	"edgesites/internal/platform"
)

type ServerConfig struct {
	// InternalAPIKey guards /internal endpoints. Empty leaves them open.
	InternalAPIKey string
}

// NewServer builds the control-plane API.
func NewServer(service platform.Service, health *HealthHandlers, cfg ServerConfig, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	// Global middleware
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echoMiddleware.CORS())
	e.Pre(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints (no auth required)
	e.GET("/health", health.HealthCheck)
	e.GET("/health/ready", health.ReadinessCheck)
	e.GET("/health/live", health.LivenessCheck)

	tenantHandlers := NewTenantHandlers(service, logger)
	deploymentHandlers := NewDeploymentHandlers(service, logger)
	domainHandlers := NewDomainHandlers(service, logger)
	resolveHandlers := NewResolveHandlers(service, logger)

	versionMiddleware := middleware.NewVersionMiddleware()
	v1 := versionMiddleware.VersionRoute(e, "v1")

	tenants := v1.Group("/tenants")
	tenants.POST("", tenantHandlers.CreateTenant)
	tenants.GET("", tenantHandlers.ListTenants)
	tenants.GET("/:id", tenantHandlers.GetTenant)
	tenants.PATCH("/:id/metadata", tenantHandlers.UpdateMetadata)
	tenants.DELETE("/:id", tenantHandlers.DeleteTenant)
	tenants.POST("/:id/deployments", deploymentHandlers.Deploy)
	tenants.GET("/:id/deployment-status", deploymentHandlers.GetDeploymentStatus)
	tenants.POST("/:id/domains", domainHandlers.AddDomain)
	tenants.GET("/:id/domains", domainHandlers.ListDomains)

	v1.POST("/deployments/batch", deploymentHandlers.DeployBatch)

	domains := v1.Group("/domains")
	domains.GET("/:domain", domainHandlers.GetDomain)
	domains.POST("/:domain/refresh", domainHandlers.RefreshDomain)
	domains.GET("/:domain/instructions", domainHandlers.GetInstructions)
	domains.DELETE("/:domain", domainHandlers.RemoveDomain)

	internal := e.Group("/internal", middleware.InternalKeyAuth(cfg.InternalAPIKey))
	internal.GET("/resolve", resolveHandlers.Resolve)

	return e
}
