// Package edge serves tenant sites: it maps the request host to a tenant and
// streams the matching object out of the store.
package edge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"edgesites/internal/caching"
	"edgesites/internal/registry"
	"edgesites/internal/retry"
)

// Resolver maps a custom domain to the tenant serving it.
type Resolver interface {
	ResolveHost(ctx context.Context, host string) (tenantID string, found bool, err error)
}

// RegistryResolver reads the registry directly. Used when the edge process
// shares the control plane's database.
type RegistryResolver struct {
	registry registry.Registry
}

func NewRegistryResolver(reg registry.Registry) *RegistryResolver {
	return &RegistryResolver{registry: reg}
}

func (r *RegistryResolver) ResolveHost(ctx context.Context, host string) (string, bool, error) {
	return registry.TenantForHost(ctx, r.registry, host)
}

// ResolveError is a non-404 failure answer from the control plane.
type ResolveError struct {
	Host       string
	StatusCode int
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: control plane answered %d", e.Host, e.StatusCode)
}

func (e *ResolveError) HTTPStatus() int { return e.StatusCode }

type resolveResponse struct {
	Host     string `json:"host"`
	TenantID string `json:"tenant_id"`
}

// ControlPlaneResolver asks the control plane's internal resolve endpoint.
type ControlPlaneResolver struct {
	client *resty.Client
	policy retry.Policy
	logger *zap.Logger
}

func NewControlPlaneResolver(baseURL, apiKey string, timeout time.Duration, policy retry.Policy, logger *zap.Logger) *ControlPlaneResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &ControlPlaneResolver{client: client, policy: policy, logger: logger}
}

func (r *ControlPlaneResolver) ResolveHost(ctx context.Context, host string) (string, bool, error) {
	var out resolveResponse
	found := false
	err := r.policy.Do(ctx, "resolve-host", func(ctx context.Context) error {
		out = resolveResponse{}
		resp, err := r.client.R().
			SetContext(ctx).
			SetQueryParam("host", host).
			SetResult(&out).
			Get("/internal/resolve")
		if err != nil {
			return err
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			found = out.TenantID != ""
			return nil
		case http.StatusNotFound:
			found = false
			return nil
		default:
			return &ResolveError{Host: host, StatusCode: resp.StatusCode()}
		}
	})
	if err != nil {
		r.logger.Warn("control plane host resolution failed", zap.String("host", host), zap.Error(err))
		return "", false, err
	}
	return out.TenantID, found, nil
}

// RedisTier consults the shared redis cache before falling through to next,
// and records what next answered. Redis failures are logged and bypassed.
type RedisTier struct {
	cache       caching.CacheService
	next        Resolver
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewRedisTier(cache caching.CacheService, next Resolver, ttl, negativeTTL time.Duration, logger *zap.Logger) *RedisTier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTier{cache: cache, next: next, ttl: ttl, negativeTTL: negativeTTL, now: time.Now, logger: logger}
}

func (t *RedisTier) ResolveHost(ctx context.Context, host string) (string, bool, error) {
	entry, err := t.cache.GetHost(ctx, host)
	if err != nil {
		t.logger.Warn("redis host lookup failed", zap.String("host", host), zap.Error(err))
	} else if entry != nil {
		return entry.TenantID, entry.Found(), nil
	}

	tenantID, found, err := t.next.ResolveHost(ctx, host)
	if err != nil {
		return "", false, err
	}

	ttl := t.ttl
	if !found {
		tenantID = ""
		ttl = t.negativeTTL
	}
	if ttl > 0 {
		if err := t.cache.SetHost(ctx, host, caching.HostEntry{TenantID: tenantID, CachedAt: t.now().UTC()}, ttl); err != nil {
			t.logger.Warn("failed to cache host in redis", zap.String("host", host), zap.Error(err))
		}
	}
	return tenantID, found, nil
}
