package connector

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAuthNonRetryable marks an error an action handler returns to
// signal the call must not be retried even if the policy allows more
// attempts (authentication failures are never retryable per spec.md §4.6).
var ErrAuthNonRetryable = errors.New("connector: authentication error is not retryable")

// RetryPolicy controls how a connector retries a failed call. Field
// names mirror the pack's dag_engine.go RetryPolicy
// (MaxAttempts/InitialWait/MaxWait/Multiplier), renamed to this
// package's *Ms convention, plus a jitter factor.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelayMs    int64
	MaxDelayMs        int64
	BackoffMultiplier float64
	JitterFactor      float64 // in [0,1]
}

// DefaultRetryPolicy returns a conservative exponential-backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelayMs:    500,
		MaxDelayMs:        10_000,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
	}
}

// delayForAttempt computes the exponential backoff delay before
// attempt n (1-indexed), capped at MaxDelayMs, with up to JitterFactor
// of random jitter added.
func (p RetryPolicy) delayForAttempt(n int) time.Duration {
	base := float64(p.InitialDelayMs) * math.Pow(p.BackoffMultiplier, float64(n-1))
	if base > float64(p.MaxDelayMs) {
		base = float64(p.MaxDelayMs)
	}
	if p.JitterFactor > 0 {
		jitter := base * p.JitterFactor * rand.Float64()
		base += jitter
		if base > float64(p.MaxDelayMs) {
			base = float64(p.MaxDelayMs)
		}
	}
	return time.Duration(base) * time.Millisecond
}

// Execute runs fn, retrying per the policy on any error except
// ErrAuthNonRetryable (and errors wrapping it). It sleeps the
// configured backoff between attempts.
func (p RetryPolicy) Execute(fn func() error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for n := 1; n <= attempts; n++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrAuthNonRetryable) {
			return err
		}
		if n < attempts {
			time.Sleep(p.delayForAttempt(n))
		}
	}
	return lastErr
}
