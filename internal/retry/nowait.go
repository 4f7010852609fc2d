package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

// NoWait returns a policy that retries without sleeping between attempts.
// Used by tests and by the in-memory drivers.
func NoWait(maxAttempts int) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = maxAttempts
	p.NewTimer = func() backoff.Timer { return &instantTimer{} }
	return p
}
