package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"edgesites/internal/models"
)

const (
	DefaultVerifyTimeout     = 72 * time.Hour
	DefaultVerifyBatchSize   = 200
	DefaultVerifyConcurrency = 4
)

// PendingDomainLister is the registry view the verifier needs.
type PendingDomainLister interface {
	ListPendingDomains(ctx context.Context, limit int) ([]*models.CustomDomain, error)
}

// DomainPoller advances one domain. domains.Manager satisfies it.
type DomainPoller interface {
	PollStatus(ctx context.Context, domain string) (*models.CustomDomain, error)
	MarkTimedOut(ctx context.Context, domain, reason string) (*models.CustomDomain, error)
}

// HostForgetter drops a host from the shared edge cache.
type HostForgetter interface {
	DeleteHost(ctx context.Context, host string) error
}

type VerifierConfig struct {
	// Timeout is how long a domain may stay unverified before it is failed.
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

// VerifyStats summarises one verification sweep.
type VerifyStats struct {
	Checked   int64
	Activated int64
	Failed    int64
	TimedOut  int64
	Errors    int64
	// SSLIssued counts certificates that went active during the sweep.
	SSLIssued int64
}

// DomainVerifier polls every domain that still needs polling and fails the
// unverified ones whose verification window has elapsed.
type DomainVerifier struct {
	lister PendingDomainLister
	poller DomainPoller
	hosts  HostForgetter
	cfg    VerifierConfig
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewDomainVerifier creates a verifier. hosts may be nil.
func NewDomainVerifier(lister PendingDomainLister, poller DomainPoller, hosts HostForgetter, cfg VerifierConfig, clock clockwork.Clock, logger *zap.Logger) *DomainVerifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVerifyTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultVerifyBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultVerifyConcurrency
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DomainVerifier{
		lister: lister,
		poller: poller,
		hosts:  hosts,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// RunOnce performs one sweep. A failure on one domain never stops the others;
// only a failed listing is returned as an error.
func (v *DomainVerifier) RunOnce(ctx context.Context) (*VerifyStats, error) {
	pending, err := v.lister.ListPendingDomains(ctx, v.cfg.BatchSize)
	if err != nil {
		v.logger.Error("failed to list pending domains", zap.Error(err))
		return nil, err
	}

	stats := &VerifyStats{}
	var g errgroup.Group
	g.SetLimit(v.cfg.Concurrency)
	for _, d := range pending {
		d := d
		g.Go(func() error {
			v.verify(ctx, d, stats)
			return nil
		})
	}
	_ = g.Wait()

	if len(pending) > 0 {
		v.logger.Info("domain verification sweep finished",
			zap.Int64("checked", stats.Checked),
			zap.Int64("activated", stats.Activated),
			zap.Int64("failed", stats.Failed),
			zap.Int64("timed_out", stats.TimedOut),
			zap.Int64("ssl_issued", stats.SSLIssued),
			zap.Int64("errors", stats.Errors),
		)
	}
	return stats, ctx.Err()
}

func (v *DomainVerifier) verify(ctx context.Context, d *models.CustomDomain, stats *VerifyStats) {
	if ctx.Err() != nil {
		return
	}
	atomic.AddInt64(&stats.Checked, 1)

	current := d
	updated, err := v.poller.PollStatus(ctx, d.Domain)
	if err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		v.logger.Warn("domain poll failed", zap.String("domain", d.Domain), zap.Error(err))
	} else {
		current = updated
	}

	if !current.Terminal() && v.clock.Since(d.CreatedAt) >= v.cfg.Timeout {
		timedOut, err := v.poller.MarkTimedOut(ctx, d.Domain, "verification not completed within "+v.cfg.Timeout.String())
		if err != nil {
			atomic.AddInt64(&stats.Errors, 1)
			v.logger.Error("failed to time out domain", zap.String("domain", d.Domain), zap.Error(err))
			return
		}
		atomic.AddInt64(&stats.TimedOut, 1)
		current = timedOut
	}

	if current.SSLStatus != d.SSLStatus && current.SSLStatus == models.SSLStatusActive {
		atomic.AddInt64(&stats.SSLIssued, 1)
	}
	if current.Status == d.Status {
		return
	}
	switch current.Status {
	case models.DomainStatusActive:
		atomic.AddInt64(&stats.Activated, 1)
	case models.DomainStatusFailed:
		atomic.AddInt64(&stats.Failed, 1)
	}
	if v.hosts != nil {
		if err := v.hosts.DeleteHost(ctx, d.Domain); err != nil {
			v.logger.Warn("failed to forget cached host", zap.String("domain", d.Domain), zap.Error(err))
		}
	}
}
