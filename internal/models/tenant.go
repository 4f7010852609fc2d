package models

import (
	"regexp"
	"strings"
	"time"
)

// TenantIDPrefix is prepended to a slug to form the tenant id and the reserved subdomain label.
const TenantIDPrefix = "tenant-"

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

type Tenant struct {
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	Name      string            `json:"name" db:"name"`
	Slug      string            `json:"slug" db:"slug"`
	Subdomain string            `json:"subdomain" db:"subdomain"`
	OwnerID   *string           `json:"owner_id,omitempty" db:"owner_id"`
	Metadata  map[string]string `json:"metadata" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// ValidSlug reports whether slug is usable as a tenant slug: lowercase letters,
// digits and inner hyphens, at most 63 characters so the subdomain label stays valid.
func ValidSlug(slug string) bool {
	if len(TenantIDPrefix)+len(slug) > 63 {
		return false
	}
	return slugPattern.MatchString(slug)
}

// TenantIDFromSlug derives the tenant id. The derivation is deterministic and
// is the same one the edge router applies to reserved subdomains.
func TenantIDFromSlug(slug string) string {
	return TenantIDPrefix + slug
}

// SlugFromTenantID is the inverse of TenantIDFromSlug.
func SlugFromTenantID(tenantID string) (string, bool) {
	if !strings.HasPrefix(tenantID, TenantIDPrefix) {
		return "", false
	}
	slug := strings.TrimPrefix(tenantID, TenantIDPrefix)
	return slug, ValidSlug(slug)
}

// SubdomainFor returns the platform hostname assigned to a tenant.
func SubdomainFor(slug, platformDomain string) string {
	return TenantIDFromSlug(slug) + "." + platformDomain
}

// NewTenant builds a tenant record with every derived field filled in.
func NewTenant(name, slug, platformDomain string, ownerID *string, metadata map[string]string, now time.Time) *Tenant {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Tenant{
		TenantID:  TenantIDFromSlug(slug),
		Name:      name,
		Slug:      slug,
		Subdomain: SubdomainFor(slug, platformDomain),
		OwnerID:   ownerID,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a slug from a display name. The result may still be invalid,
// for example when name has no letters or digits at all.
func Slugify(name string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if limit := 63 - len(TenantIDPrefix); len(slug) > limit {
		slug = strings.TrimRight(slug[:limit], "-")
	}
	return slug
}
