// Package retry wraps outbound calls with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apperrors "edgesites/internal/errors"
)

// Policy describes how a single outbound call is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor in [0,1] applied to every delay.
	Jitter float64
	// Retryable decides whether an error is transient. Defaults to IsTransient.
	Retryable func(error) bool
	// NewTimer overrides the wall-clock timer between attempts; called once per Do.
	NewTimer func() backoff.Timer
	Logger   *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.5,
	}
}

// statusCoder is implemented by the object store and edge platform errors.
type statusCoder interface {
	HTTPStatus() int
}

// IsTransient treats network failures, 5xx and 429 as retryable.
// Context cancellation and every other error are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return apperrors.IsTransientStatus(sc.HTTPStatus())
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = p.Jitter
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails permanently or the attempt ceiling is hit.
// The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("retrying after transient error",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}
	return backoff.RetryNotifyWithTimer(operation, p.newBackOff(ctx), notify, timer)
}
