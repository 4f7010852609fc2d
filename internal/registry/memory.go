package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	apperrors "edgesites/internal/errors"
	"edgesites/internal/models"
)

// MemoryRegistry is a process-local Registry used in tests and single-node development.
type MemoryRegistry struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	tenants map[string]*models.Tenant
	order   []string
	domains map[string]*models.CustomDomain
}

func NewMemoryRegistry(clock clockwork.Clock) *MemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRegistry{
		clock:   clock,
		tenants: make(map[string]*models.Tenant),
		domains: make(map[string]*models.CustomDomain),
	}
}

func cloneTenant(t *models.Tenant) *models.Tenant {
	c := *t
	c.Metadata = make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		c.Metadata[k] = v
	}
	if t.OwnerID != nil {
		owner := *t.OwnerID
		c.OwnerID = &owner
	}
	return &c
}

func cloneDomain(d *models.CustomDomain) *models.CustomDomain {
	c := *d
	if d.ErrorMessage != nil {
		msg := *d.ErrorMessage
		c.ErrorMessage = &msg
	}
	if d.VerifiedAt != nil {
		at := *d.VerifiedAt
		c.VerifiedAt = &at
	}
	return &c
}

func (r *MemoryRegistry) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tenants {
		if t.Slug == tenant.Slug || t.TenantID == tenant.TenantID {
			return &apperrors.AlreadyExistsError{Entity: "tenant", Key: tenant.Slug}
		}
	}
	r.tenants[tenant.TenantID] = cloneTenant(tenant)
	r.order = append(r.order, tenant.TenantID)
	return nil
}

func (r *MemoryRegistry) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, &apperrors.TenantNotFoundError{TenantID: tenantID}
	}
	return cloneTenant(t), nil
}

func (r *MemoryRegistry) ListTenants(ctx context.Context, limit, offset int) ([]*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Tenant, 0)
	if offset < 0 {
		offset = 0
	}
	for i := offset; i < len(r.order); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneTenant(r.tenants[r.order[i]]))
	}
	return out, nil
}

func (r *MemoryRegistry) UpdateTenantMetadata(ctx context.Context, tenantID string, patch map[string]string) (*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, &apperrors.TenantNotFoundError{TenantID: tenantID}
	}
	t.Metadata = mergeMetadata(t.Metadata, patch)
	t.UpdatedAt = r.clock.Now().UTC()
	return cloneTenant(t), nil
}

func (r *MemoryRegistry) DeleteTenant(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[tenantID]; !ok {
		return &apperrors.TenantNotFoundError{TenantID: tenantID}
	}
	delete(r.tenants, tenantID)
	for i, id := range r.order {
		if id == tenantID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for name, d := range r.domains {
		if d.TenantID == tenantID {
			delete(r.domains, name)
		}
	}
	return nil
}

func (r *MemoryRegistry) UpsertDomain(ctx context.Context, domain *models.CustomDomain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[domain.TenantID]; !ok {
		return &apperrors.TenantNotFoundError{TenantID: domain.TenantID}
	}
	if existing, ok := r.domains[domain.Domain]; ok && existing.TenantID != domain.TenantID {
		return &apperrors.DomainVerificationError{
			Domain: domain.Domain,
			Kind:   apperrors.DomainAlreadyRegistered,
			Reason: "registered to another tenant",
		}
	}
	r.domains[domain.Domain] = cloneDomain(domain)
	return nil
}

func (r *MemoryRegistry) GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.domains[domain]
	if !ok {
		return nil, nil
	}
	return cloneDomain(d), nil
}

func (r *MemoryRegistry) ListDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.CustomDomain, 0)
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			out = append(out, cloneDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (r *MemoryRegistry) ListPendingDomains(ctx context.Context, limit int) ([]*models.CustomDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.CustomDomain, 0)
	for _, d := range r.domains {
		if d.NeedsPolling() {
			out = append(out, cloneDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Domain < out[j].Domain
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRegistry) DeleteDomain(ctx context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.domains[domain]; !ok {
		return &apperrors.DomainVerificationError{Domain: domain, Kind: apperrors.DomainNotFound}
	}
	delete(r.domains, domain)
	return nil
}

func (r *MemoryRegistry) Ping(ctx context.Context) error {
	return ctx.Err()
}
