package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"edgesites/internal/caching"
	"edgesites/internal/common"
	"edgesites/internal/objectstore"
	"edgesites/internal/registry"
)

const healthCheckTimeout = 3 * time.Second

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	registry registry.Registry
	cache    caching.CacheService
	store    objectstore.Store
	version  string
	started  time.Time
}

// NewHealthHandlers creates a new health handlers instance. cache may be nil.
func NewHealthHandlers(reg registry.Registry, cache caching.CacheService, store objectstore.Store, version string) *HealthHandlers {
	return &HealthHandlers{
		registry: reg,
		cache:    cache,
		store:    store,
		version:  version,
		started:  time.Now(),
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Services   map[string]string `json:"services"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Goroutines int               `json:"goroutines"`
}

func (h *HealthHandlers) checks(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := map[string]error{
		"registry": h.registry.Ping(ctx),
		"storage":  h.store.EnsureBucket(ctx),
	}
	if h.cache != nil {
		results["redis"] = h.cache.Ping(ctx)
	}
	return results
}

// HealthCheck reports every dependency. A failing dependency degrades the
// status but the process itself is up.
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Services:   make(map[string]string),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Version:    h.version,
		Goroutines: runtime.NumGoroutine(),
	}

	for name, err := range h.checks(c.Request().Context()) {
		if err != nil {
			health.Services[name] = "unhealthy"
			health.Status = "degraded"
			continue
		}
		health.Services[name] = "healthy"
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}
	return c.JSON(statusCode, health)
}

// ReadinessCheck determines if the application is ready to serve traffic
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	details := map[string]string{}
	for name, err := range h.checks(c.Request().Context()) {
		if err != nil {
			details[name] = err.Error()
		}
	}
	if len(details) > 0 {
		return common.SendError(c, http.StatusServiceUnavailable, common.CodeServiceNotReady, "Critical services unavailable", details)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ready",
		"message": "All systems operational",
	})
}

// LivenessCheck determines if the application is running (basic liveness probe)
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
