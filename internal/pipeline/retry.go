package pipeline

import (
	"context"
	"errors"
	"time"
)

// DefaultBackoffBase is the delay before the second attempt.
const DefaultBackoffBase = time.Second

// RetryPolicy doubles the delay after every failed attempt, without jitter.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetryPolicy builds a policy; attempts <= 0 means a single attempt and
// base <= 0 means DefaultBackoffBase.
func NewRetryPolicy(attempts int, base time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	return RetryPolicy{maxAttempts: attempts, baseDelay: base}
}

// Attempts is the total attempt budget.
func (p RetryPolicy) Attempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether attempt (1-based) may be followed by another.
// Cancellation is never retried; a transport timeout is.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait after the given failed attempt: base, 2*base, 4*base, ...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := min(attempt-1, 30)
	return p.baseDelay << shift
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
