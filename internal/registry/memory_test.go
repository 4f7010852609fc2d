package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "edgesites/internal/errors"
	"edgesites/internal/models"
)

type MemoryRegistryTestSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
	reg   *MemoryRegistry
	ctx   context.Context
}

func (suite *MemoryRegistryTestSuite) SetupTest() {
	suite.clock = clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	suite.reg = NewMemoryRegistry(suite.clock)
	suite.ctx = context.Background()
}

func TestMemoryRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryRegistryTestSuite))
}

func (suite *MemoryRegistryTestSuite) createTenant(slug string) *models.Tenant {
	t := models.NewTenant("Tenant "+slug, slug, "sites.example.com", nil, map[string]string{"plan": "free"}, suite.clock.Now())
	require.NoError(suite.T(), suite.reg.CreateTenant(suite.ctx, t))
	suite.clock.Advance(time.Second)
	return t
}

func (suite *MemoryRegistryTestSuite) domain(name, tenantID string) *models.CustomDomain {
	now := suite.clock.Now()
	return &models.CustomDomain{
		Domain:             name,
		TenantID:           tenantID,
		Status:             models.DomainStatusPending,
		SSLStatus:          models.SSLStatusPending,
		VerificationMethod: models.VerificationHTTP,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (suite *MemoryRegistryTestSuite) TestCreateTenant_DuplicateSlug() {
	suite.createTenant("acme")

	dup := models.NewTenant("Other", "acme", "sites.example.com", nil, nil, suite.clock.Now())
	err := suite.reg.CreateTenant(suite.ctx, dup)

	assert.ErrorIs(suite.T(), err, apperrors.ErrTenantExists)
}

func (suite *MemoryRegistryTestSuite) TestGetTenant_NotFound() {
	_, err := suite.reg.GetTenant(suite.ctx, "tenant-missing")
	assert.ErrorIs(suite.T(), err, apperrors.ErrTenantNotFound)
}

func (suite *MemoryRegistryTestSuite) TestGetTenant_ReturnsCopy() {
	suite.createTenant("acme")

	t1, err := suite.reg.GetTenant(suite.ctx, "tenant-acme")
	require.NoError(suite.T(), err)
	t1.Metadata["plan"] = "mutated"

	t2, err := suite.reg.GetTenant(suite.ctx, "tenant-acme")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "free", t2.Metadata["plan"])
}

func (suite *MemoryRegistryTestSuite) TestListTenants_CreationOrderAndPaging() {
	suite.createTenant("zeta")
	suite.createTenant("alpha")
	suite.createTenant("mid")

	all, err := suite.reg.ListTenants(suite.ctx, 0, 0)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), all, 3)
	assert.Equal(suite.T(), []string{"tenant-zeta", "tenant-alpha", "tenant-mid"},
		[]string{all[0].TenantID, all[1].TenantID, all[2].TenantID})

	page, err := suite.reg.ListTenants(suite.ctx, 1, 1)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), page, 1)
	assert.Equal(suite.T(), "tenant-alpha", page[0].TenantID)

	empty, err := suite.reg.ListTenants(suite.ctx, 10, 10)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), empty)
}

func (suite *MemoryRegistryTestSuite) TestUpdateTenantMetadata_Merges() {
	suite.createTenant("acme")

	updated, err := suite.reg.UpdateTenantMetadata(suite.ctx, "tenant-acme", map[string]string{"region": "eu", "plan": ""})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), map[string]string{"region": "eu"}, updated.Metadata)
	assert.Equal(suite.T(), suite.clock.Now().UTC(), updated.UpdatedAt)
	assert.True(suite.T(), updated.UpdatedAt.After(updated.CreatedAt))
}

func (suite *MemoryRegistryTestSuite) TestDeleteTenant_CascadesDomains() {
	suite.createTenant("acme")
	suite.createTenant("other")
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, suite.domain("www.acme.com", "tenant-acme")))
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, suite.domain("www.other.com", "tenant-other")))

	require.NoError(suite.T(), suite.reg.DeleteTenant(suite.ctx, "tenant-acme"))

	d, err := suite.reg.GetDomain(suite.ctx, "www.acme.com")
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), d)

	d, err = suite.reg.GetDomain(suite.ctx, "www.other.com")
	require.NoError(suite.T(), err)
	assert.NotNil(suite.T(), d)

	assert.ErrorIs(suite.T(), suite.reg.DeleteTenant(suite.ctx, "tenant-acme"), apperrors.ErrTenantNotFound)

	list, err := suite.reg.ListTenants(suite.ctx, 0, 0)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), list, 1)
}

func (suite *MemoryRegistryTestSuite) TestUpsertDomain_RefusesOwnerChange() {
	suite.createTenant("a")
	suite.createTenant("b")
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, suite.domain("shop.example.org", "tenant-a")))

	err := suite.reg.UpsertDomain(suite.ctx, suite.domain("shop.example.org", "tenant-b"))
	assert.ErrorIs(suite.T(), err, apperrors.ErrDomainAlreadyRegistered)

	d, err := suite.reg.GetDomain(suite.ctx, "shop.example.org")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "tenant-a", d.TenantID)
}

func (suite *MemoryRegistryTestSuite) TestUpsertDomain_UnknownTenant() {
	err := suite.reg.UpsertDomain(suite.ctx, suite.domain("shop.example.org", "tenant-ghost"))
	assert.ErrorIs(suite.T(), err, apperrors.ErrTenantNotFound)
}

func (suite *MemoryRegistryTestSuite) TestUpsertDomain_UpdatesInPlace() {
	suite.createTenant("a")
	d := suite.domain("shop.example.org", "tenant-a")
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, d))

	d.Status = models.DomainStatusActive
	d.HostnameID = "ch-1"
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, d))

	got, err := suite.reg.GetDomain(suite.ctx, "shop.example.org")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.DomainStatusActive, got.Status)
	assert.Equal(suite.T(), "ch-1", got.HostnameID)
}

func (suite *MemoryRegistryTestSuite) TestListPendingDomains() {
	suite.createTenant("a")
	first := suite.domain("first.example.org", "tenant-a")
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, first))
	suite.clock.Advance(time.Minute)

	active := suite.domain("active.example.org", "tenant-a")
	active.Status = models.DomainStatusActive
	active.SSLStatus = models.SSLStatusActive
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, active))

	issuing := suite.domain("issuing.example.org", "tenant-a")
	issuing.Status = models.DomainStatusActive
	issuing.SSLStatus = models.SSLStatusPendingValidation
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, issuing))

	failed := suite.domain("failed.example.org", "tenant-a")
	failed.Status = models.DomainStatusFailed
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, failed))

	second := suite.domain("second.example.org", "tenant-a")
	second.Status = models.DomainStatusPendingVerification
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, second))

	pending, err := suite.reg.ListPendingDomains(suite.ctx, 0)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), pending, 3)
	assert.Equal(suite.T(), "first.example.org", pending[0].Domain)
	assert.Equal(suite.T(), "issuing.example.org", pending[1].Domain)
	assert.Equal(suite.T(), "second.example.org", pending[2].Domain)

	limited, err := suite.reg.ListPendingDomains(suite.ctx, 1)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), limited, 1)
}

func (suite *MemoryRegistryTestSuite) TestDeleteDomain() {
	suite.createTenant("a")
	require.NoError(suite.T(), suite.reg.UpsertDomain(suite.ctx, suite.domain("x.example.org", "tenant-a")))

	require.NoError(suite.T(), suite.reg.DeleteDomain(suite.ctx, "x.example.org"))
	assert.ErrorIs(suite.T(), suite.reg.DeleteDomain(suite.ctx, "x.example.org"), apperrors.ErrDomainNotFound)

	domains, err := suite.reg.ListDomains(suite.ctx, "tenant-a")
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), domains)
}
