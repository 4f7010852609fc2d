package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSlug(t *testing.T) {
	valid := []string{"acme", "a", "acme-2", "0day", strings.Repeat("a", 56)}
	invalid := []string{"", "-acme", "acme-", "Acme", "ac_me", "ac.me", strings.Repeat("a", 57)}

	for _, s := range valid {
		assert.True(t, ValidSlug(s), s)
	}
	for _, s := range invalid {
		assert.False(t, ValidSlug(s), s)
	}
}

func TestTenantIDRoundTrip(t *testing.T) {
	assert.Equal(t, "tenant-acme", TenantIDFromSlug("acme"))

	slug, ok := SlugFromTenantID("tenant-acme")
	assert.True(t, ok)
	assert.Equal(t, "acme", slug)

	_, ok = SlugFromTenantID("acme")
	assert.False(t, ok)
	_, ok = SlugFromTenantID("tenant-")
	assert.False(t, ok)
	_, ok = SlugFromTenantID("tenant-Bad")
	assert.False(t, ok)
}

func TestNewTenant(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tenant := NewTenant("Acme Inc", "acme", "sites.example.com", nil, nil, now)

	assert.Equal(t, "tenant-acme", tenant.TenantID)
	assert.Equal(t, "tenant-acme.sites.example.com", tenant.Subdomain)
	assert.NotNil(t, tenant.Metadata)
	assert.Equal(t, now, tenant.CreatedAt)
	assert.Equal(t, now, tenant.UpdatedAt)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-inc", Slugify("  Acme, Inc. "))
	assert.Equal(t, "caf-bar-2", Slugify("Café & Bar #2"))
	assert.Equal(t, "", Slugify("!!!"))

	long := Slugify(strings.Repeat("ab ", 40))
	assert.LessOrEqual(t, len(long), 56)
	assert.True(t, ValidSlug(long))
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"index.html":        "text/html; charset=utf-8",
		"INDEX.HTM":         "text/html; charset=utf-8",
		"assets/app.js":     "application/javascript; charset=utf-8",
		"styles/site.css":   "text/css; charset=utf-8",
		"img/logo.svg":      "image/svg+xml",
		"fonts/a.woff2":     "font/woff2",
		"README":            DefaultContentType,
		"archive.unknownxx": DefaultContentType,
	}
	for name, want := range cases {
		assert.Equal(t, want, ContentTypeFor(name), name)
	}
}

func TestCacheControlFor(t *testing.T) {
	assert.Equal(t, HTMLCacheControl, CacheControlFor("index.html"))
	assert.Equal(t, HTMLCacheControl, CacheControlFor("docs/page.HTM"))
	assert.Equal(t, AssetCacheControl, CacheControlFor("app.js"))
	assert.Equal(t, AssetCacheControl, CacheControlFor("data.json"))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "tenant-a/index.html", ObjectKey("tenant-a", "", "index.html"))
	assert.Equal(t, "tenant-a/v2/css/site.css", ObjectKey("tenant-a", "/v2/", "/css/site.css"))
	assert.Equal(t, "tenant-a/", TenantPrefix("tenant-a"))
	assert.True(t, strings.HasPrefix(ObjectKey("tenant-a", "x", "y"), TenantPrefix("tenant-a")))
}

func TestDomainStatusAdvance(t *testing.T) {
	assert.Equal(t, DomainStatusPendingVerification, DomainStatusPending.Advance(DomainStatusPendingVerification))
	assert.Equal(t, DomainStatusActive, DomainStatusPending.Advance(DomainStatusActive))
	assert.Equal(t, DomainStatusPendingVerification, DomainStatusPendingVerification.Advance(DomainStatusPending))
	assert.Equal(t, DomainStatusFailed, DomainStatusPendingVerification.Advance(DomainStatusFailed))
	assert.Equal(t, DomainStatusActive, DomainStatusActive.Advance(DomainStatusFailed))
	assert.Equal(t, DomainStatusFailed, DomainStatusFailed.Advance(DomainStatusActive))

	assert.Equal(t, SSLStatusActive, SSLStatusPendingValidation.Advance(SSLStatusActive))
	assert.Equal(t, SSLStatusPendingValidation, SSLStatusPendingValidation.Advance(SSLStatusPending))
	assert.Equal(t, SSLStatusActive, SSLStatusActive.Advance(SSLStatusFailed))
}

func TestInstructionsFor(t *testing.T) {
	d := &CustomDomain{
		Domain:             "www.acme.com",
		Status:             DomainStatusPending,
		SSLStatus:          SSLStatusPending,
		VerificationMethod: VerificationDNSTXT,
		VerificationName:   "_acme-challenge.www.acme.com",
		VerificationValue:  "token-123",
		CNAMETarget:        "sites.example.com",
	}
	in := InstructionsFor(d)
	require.NotNil(t, in)
	assert.Equal(t, "_acme-challenge.www.acme.com", in.RecordName)
	assert.Equal(t, "token-123", in.RecordValue)
	assert.Contains(t, in.Instructions, "www.acme.com -> sites.example.com")
	assert.Contains(t, in.Instructions, "TXT record")

	d.VerificationMethod = VerificationHTTP
	d.VerificationName = "http://www.acme.com/.well-known/cf-custom-hostname-challenge/1"
	in = InstructionsFor(d)
	assert.Equal(t, d.VerificationName, in.HTTPPath)
	assert.Empty(t, in.RecordName)
}

func TestVerificationMethod(t *testing.T) {
	assert.True(t, VerificationHTTP.Valid())
	assert.False(t, VerificationMethod("email").Valid())
	assert.Equal(t, "txt", VerificationDNSTXT.EdgeSSLMethod())
	assert.Equal(t, "http", VerificationMethod("").EdgeSSLMethod())
}

func TestNeedsPolling(t *testing.T) {
	cases := []struct {
		status DomainStatus
		ssl    SSLStatus
		want   bool
	}{
		{DomainStatusPending, SSLStatusPending, true},
		{DomainStatusPendingVerification, SSLStatusActive, true},
		{DomainStatusActive, SSLStatusPending, true},
		{DomainStatusActive, SSLStatusPendingValidation, true},
		{DomainStatusActive, SSLStatusActive, false},
		{DomainStatusActive, SSLStatusFailed, false},
		{DomainStatusFailed, SSLStatusPending, false},
	}
	for _, tc := range cases {
		d := &CustomDomain{Status: tc.status, SSLStatus: tc.ssl}
		assert.Equal(t, tc.want, d.NeedsPolling(), "%s/%s", tc.status, tc.ssl)
	}
}
