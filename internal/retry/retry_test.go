package retry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "edgesites/internal/errors"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &apperrors.ObjectStoreOperationError{Op: "put", StatusCode: 503}, true},
		{"rate limited", &apperrors.EdgePlatformError{Op: "get", StatusCode: 429}, true},
		{"no response", &apperrors.EdgePlatformError{Op: "get"}, true},
		{"forbidden", &apperrors.ObjectStoreOperationError{Op: "put", StatusCode: 403}, false},
		{"bad request", &apperrors.EdgePlatformError{Op: "create", StatusCode: 400}, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := NoWait(3).Do(context.Background(), "put", func(context.Context) error {
		calls++
		if calls < 3 {
			return &apperrors.ObjectStoreOperationError{Op: "put", StatusCode: 500}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtAttemptCeiling(t *testing.T) {
	calls := 0
	transient := &apperrors.ObjectStoreOperationError{Op: "put", StatusCode: 502}
	err := NoWait(4).Do(context.Background(), "put", func(context.Context) error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	permanent := &apperrors.ObjectStoreOperationError{Op: "put", StatusCode: 404}
	err := NoWait(5).Do(context.Background(), "put", func(context.Context) error {
		calls++
		return permanent
	})

	var storeErr *apperrors.ObjectStoreOperationError
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, 404, storeErr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomPredicate(t *testing.T) {
	calls := 0
	p := NoWait(3)
	p.Retryable = func(error) bool { return true }

	_ = p.Do(context.Background(), "anything", func(context.Context) error {
		calls++
		return errors.New("flaky")
	})

	assert.Equal(t, 3, calls)
}

func TestDo_CanceledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NoWait(10).Do(ctx, "put", func(context.Context) error {
		calls++
		cancel()
		return &apperrors.EdgePlatformError{Op: "get", StatusCode: 503}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
