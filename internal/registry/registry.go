// Package registry persists tenants and their custom domains.
package registry

import (
	"context"

	"edgesites/internal/models"
)

// Registry is the persistence boundary for tenant and domain records.
// Implementations guarantee single-record atomicity only.
type Registry interface {
	// CreateTenant fails with an AlreadyExistsError when the slug is taken.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	// ListTenants returns tenants in creation order, ties broken by tenant id.
	ListTenants(ctx context.Context, limit, offset int) ([]*models.Tenant, error)
	// UpdateTenantMetadata merges patch into the stored metadata. Empty values remove keys.
	UpdateTenantMetadata(ctx context.Context, tenantID string, patch map[string]string) (*models.Tenant, error)
	// DeleteTenant removes the tenant row and every domain row it owns.
	DeleteTenant(ctx context.Context, tenantID string) error

	// UpsertDomain inserts or updates a domain. It never changes the owning tenant.
	UpsertDomain(ctx context.Context, domain *models.CustomDomain) error
	// GetDomain returns nil, nil when the domain is unknown.
	GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error)
	ListDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error)
	// ListPendingDomains returns up to limit domains that still need polling,
	// oldest first: unverified ones and active ones whose certificate is pending.
	ListPendingDomains(ctx context.Context, limit int) ([]*models.CustomDomain, error)
	DeleteDomain(ctx context.Context, domain string) error

	Ping(ctx context.Context) error
}

func mergeMetadata(current, patch map[string]string) map[string]string {
	out := make(map[string]string, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// TenantForHost looks up the tenant serving a custom domain. Unknown hosts and
// failed domains report ok=false.
func TenantForHost(ctx context.Context, reg Registry, host string) (tenantID string, ok bool, err error) {
	d, err := reg.GetDomain(ctx, host)
	if err != nil || d == nil || d.Status == models.DomainStatusFailed {
		return "", false, err
	}
	return d.TenantID, true, nil
}
