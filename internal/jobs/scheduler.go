// Package jobs runs the platform's periodic background work.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DomainVerificationJob       = "domain-verification"
	DefaultDomainPollInterval   = 30 * time.Second
	domainVerificationRunBudget = 5 * time.Minute
)

// JobScheduler manages background jobs
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewJobScheduler creates a scheduler. clock may be nil.
func NewJobScheduler(clock clockwork.Clock, logger *zap.Logger) (*JobScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []gocron.SchedulerOption{gocron.WithLocation(time.UTC)}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	scheduler, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]gocron.Job),
		logger:    logger,
	}, nil
}

// Start starts the job scheduler
func (js *JobScheduler) Start() {
	js.logger.Info("starting background job scheduler", zap.Int("jobs", len(js.JobNames())))
	js.scheduler.Start()
}

// Stop waits for running jobs and stops the scheduler
func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// ScheduleDomainVerification runs the verifier every interval. A sweep that
// overruns the interval delays the next one rather than overlapping it.
func (js *JobScheduler) ScheduleDomainVerification(verifier *DomainVerifier, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultDomainPollInterval
	}
	return js.AddJob(DomainVerificationJob, interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), domainVerificationRunBudget)
		defer cancel()
		if _, err := verifier.RunOnce(ctx); err != nil {
			js.logger.Warn("domain verification sweep failed", zap.Error(err))
		}
	})
}

// AddJob adds a named singleton job to the scheduler, replacing any job of the same name
func (js *JobScheduler) AddJob(name string, interval time.Duration, taskFn func()) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if existing, ok := js.jobs[name]; ok {
		if err := js.scheduler.RemoveJob(existing.ID()); err != nil {
			return err
		}
		delete(js.jobs, name)
	}

	job, err := js.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(taskFn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}

	js.jobs[name] = job
	js.logger.Info("scheduled job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// RemoveJob removes a job from the scheduler
func (js *JobScheduler) RemoveJob(name string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if job, exists := js.jobs[name]; exists {
		err := js.scheduler.RemoveJob(job.ID())
		delete(js.jobs, name)
		return err
	}
	return nil
}

// JobNames lists scheduled jobs in name order
func (js *JobScheduler) JobNames() []string {
	js.mu.RLock()
	defer js.mu.RUnlock()

	names := make([]string, 0, len(js.jobs))
	for name := range js.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
