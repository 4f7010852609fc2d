package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"edgesites/internal/models"
)

type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListPendingDomains(ctx context.Context, limit int) ([]*models.CustomDomain, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CustomDomain), args.Error(1)
}

type MockPoller struct {
	mock.Mock
}

func (m *MockPoller) PollStatus(ctx context.Context, domain string) (*models.CustomDomain, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomDomain), args.Error(1)
}

func (m *MockPoller) MarkTimedOut(ctx context.Context, domain, reason string) (*models.CustomDomain, error) {
	args := m.Called(ctx, domain, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomDomain), args.Error(1)
}

type MockHosts struct {
	mock.Mock
}

func (m *MockHosts) DeleteHost(ctx context.Context, host string) error {
	return m.Called(ctx, host).Error(0)
}

type DomainVerifierTestSuite struct {
	suite.Suite
	lister   *MockLister
	poller   *MockPoller
	hosts    *MockHosts
	clock    *clockwork.FakeClock
	verifier *DomainVerifier
	ctx      context.Context
}

func (suite *DomainVerifierTestSuite) SetupTest() {
	suite.lister = &MockLister{}
	suite.poller = &MockPoller{}
	suite.hosts = &MockHosts{}
	suite.clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	suite.ctx = context.Background()
	suite.verifier = NewDomainVerifier(suite.lister, suite.poller, suite.hosts,
		VerifierConfig{Timeout: 24 * time.Hour, BatchSize: 10, Concurrency: 2}, suite.clock, zap.NewNop())
}

func (suite *DomainVerifierTestSuite) TearDownTest() {
	suite.lister.AssertExpectations(suite.T())
	suite.poller.AssertExpectations(suite.T())
	suite.hosts.AssertExpectations(suite.T())
}

func TestDomainVerifierTestSuite(t *testing.T) {
	suite.Run(t, new(DomainVerifierTestSuite))
}

func (suite *DomainVerifierTestSuite) domain(name string, age time.Duration, status models.DomainStatus) *models.CustomDomain {
	return &models.CustomDomain{
		Domain:    name,
		TenantID:  "tenant-acme",
		Status:    status,
		SSLStatus: models.SSLStatusPending,
		CreatedAt: suite.clock.Now().Add(-age),
	}
}

func (suite *DomainVerifierTestSuite) TestActivationForgetsCachedHost() {
	d := suite.domain("www.acme.com", time.Hour, models.DomainStatusPending)
	active := *d
	active.Status = models.DomainStatusActive

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{d}, nil).Once()
	suite.poller.On("PollStatus", suite.ctx, "www.acme.com").Return(&active, nil).Once()
	suite.hosts.On("DeleteHost", suite.ctx, "www.acme.com").Return(nil).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.Checked)
	suite.Equal(int64(1), stats.Activated)
	suite.Zero(stats.TimedOut)
}

func (suite *DomainVerifierTestSuite) TestUnchangedDomainIsLeftAlone() {
	d := suite.domain("slow.acme.com", time.Hour, models.DomainStatusPendingVerification)
	same := *d

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{d}, nil).Once()
	suite.poller.On("PollStatus", suite.ctx, "slow.acme.com").Return(&same, nil).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.Checked)
	suite.Zero(stats.Activated + stats.Failed + stats.TimedOut + stats.Errors)
}

func (suite *DomainVerifierTestSuite) TestExpiredDomainTimesOut() {
	d := suite.domain("stale.acme.com", 25*time.Hour, models.DomainStatusPending)
	still := *d
	failed := *d
	failed.Status = models.DomainStatusFailed

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{d}, nil).Once()
	suite.poller.On("PollStatus", suite.ctx, "stale.acme.com").Return(&still, nil).Once()
	suite.poller.On("MarkTimedOut", suite.ctx, "stale.acme.com", mock.AnythingOfType("string")).Return(&failed, nil).Once()
	suite.hosts.On("DeleteHost", suite.ctx, "stale.acme.com").Return(nil).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.TimedOut)
	suite.Equal(int64(1), stats.Failed)
}

func (suite *DomainVerifierTestSuite) TestExpiredButVerifiedOnLastPoll() {
	d := suite.domain("late.acme.com", 48*time.Hour, models.DomainStatusPendingVerification)
	active := *d
	active.Status = models.DomainStatusActive

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{d}, nil).Once()
	suite.poller.On("PollStatus", suite.ctx, "late.acme.com").Return(&active, nil).Once()
	suite.hosts.On("DeleteHost", suite.ctx, "late.acme.com").Return(nil).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.Activated)
	suite.Zero(stats.TimedOut)
}

func (suite *DomainVerifierTestSuite) TestActiveDomainCertificateIssued() {
	d := suite.domain("secure.acme.com", 80*time.Hour, models.DomainStatusActive)
	d.SSLStatus = models.SSLStatusPendingValidation
	issued := *d
	issued.SSLStatus = models.SSLStatusActive

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{d}, nil).Once()
	suite.poller.On("PollStatus", suite.ctx, "secure.acme.com").Return(&issued, nil).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.Checked)
	suite.Equal(int64(1), stats.SSLIssued)
	suite.Zero(stats.Activated + stats.TimedOut + stats.Failed)
	suite.poller.AssertNotCalled(suite.T(), "MarkTimedOut", mock.Anything, mock.Anything, mock.Anything)
	suite.hosts.AssertNotCalled(suite.T(), "DeleteHost", mock.Anything, mock.Anything)
}

func (suite *DomainVerifierTestSuite) TestPollErrors() {
	fresh := suite.domain("fresh.acme.com", time.Hour, models.DomainStatusPending)
	expired := suite.domain("expired.acme.com", 30*time.Hour, models.DomainStatusPending)
	failed := *expired
	failed.Status = models.DomainStatusFailed
	edgeDown := errors.New("edge unavailable")

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{expired, fresh}, nil).Once()
	suite.poller.On("PollStatus", suite.ctx, "fresh.acme.com").Return(nil, edgeDown).Once()
	suite.poller.On("PollStatus", suite.ctx, "expired.acme.com").Return(nil, edgeDown).Once()
	suite.poller.On("MarkTimedOut", suite.ctx, "expired.acme.com", mock.AnythingOfType("string")).Return(&failed, nil).Once()
	suite.hosts.On("DeleteHost", suite.ctx, "expired.acme.com").Return(errors.New("redis down")).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(2), stats.Checked)
	suite.Equal(int64(2), stats.Errors)
	suite.Equal(int64(1), stats.TimedOut)
}

func (suite *DomainVerifierTestSuite) TestTimeoutFollowsClock() {
	d := suite.domain("edge.acme.com", 23*time.Hour, models.DomainStatusPending)
	same := *d

	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return([]*models.CustomDomain{d}, nil).Twice()
	suite.poller.On("PollStatus", suite.ctx, "edge.acme.com").Return(&same, nil).Twice()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Zero(stats.TimedOut)

	failed := *d
	failed.Status = models.DomainStatusFailed
	suite.poller.On("MarkTimedOut", suite.ctx, "edge.acme.com", mock.AnythingOfType("string")).Return(&failed, nil).Once()
	suite.hosts.On("DeleteHost", suite.ctx, "edge.acme.com").Return(nil).Once()

	suite.clock.Advance(time.Hour)
	stats, err = suite.verifier.RunOnce(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.TimedOut)
}

func (suite *DomainVerifierTestSuite) TestListFailure() {
	suite.lister.On("ListPendingDomains", suite.ctx, 10).Return(nil, errors.New("db down")).Once()

	stats, err := suite.verifier.RunOnce(suite.ctx)
	suite.Error(err)
	suite.Nil(stats)
}

func (suite *DomainVerifierTestSuite) TestCancelledSweep() {
	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()
	d := suite.domain("www.acme.com", time.Hour, models.DomainStatusPending)
	suite.lister.On("ListPendingDomains", ctx, 10).Return([]*models.CustomDomain{d}, nil).Once()

	stats, err := suite.verifier.RunOnce(ctx)
	suite.ErrorIs(err, context.Canceled)
	suite.Zero(stats.Checked)
}

func (suite *DomainVerifierTestSuite) TestDefaults() {
	v := NewDomainVerifier(suite.lister, suite.poller, nil, VerifierConfig{}, nil, nil)
	suite.Equal(DefaultVerifyTimeout, v.cfg.Timeout)
	suite.Equal(DefaultVerifyBatchSize, v.cfg.BatchSize)
	suite.Equal(DefaultVerifyConcurrency, v.cfg.Concurrency)
}

func (suite *DomainVerifierTestSuite) TestScheduler() {
	js, err := NewJobScheduler(clockwork.NewFakeClock(), zap.NewNop())
	suite.Require().NoError(err)

	suite.Require().NoError(js.ScheduleDomainVerification(suite.verifier, 0))
	suite.Require().NoError(js.AddJob("noop", time.Minute, func() {}))
	suite.Require().NoError(js.AddJob("noop", 2*time.Minute, func() {}))
	suite.Equal([]string{DomainVerificationJob, "noop"}, js.JobNames())

	suite.Require().NoError(js.RemoveJob("noop"))
	suite.Require().NoError(js.RemoveJob("missing"))
	suite.Equal([]string{DomainVerificationJob}, js.JobNames())

	js.Start()
	suite.NoError(js.Stop())
}
