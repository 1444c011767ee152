// ABOUTME: Retry with exponential backoff and jitter for transient provider failures.
// ABOUTME: Respects per-error retryability and RetryAfter hints from rate limiting.
package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures retry behavior for provider calls.
type RetryPolicy struct {
	MaxRetries        int           // retry attempts beyond the initial call
	BaseDelay         time.Duration // delay before the first retry
	MaxDelay          time.Duration // upper bound on any delay
	BackoffMultiplier float64       // exponential growth factor
	Jitter            bool          // full jitter on the calculated delay

	// OnRetry is called before each retry sleep with the triggering error,
	// the 0-indexed attempt, and the delay about to be applied.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy matches the workflow's transient-failure bound: up to
// 4 retries (5 total attempts) with a doubling delay capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        4,
		BaseDelay:         time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// delayFor computes the backoff delay for a 0-indexed attempt.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	delay := time.Duration(d)
	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}
	return delay
}

// shouldRetry reports whether another attempt is allowed for this error.
func (p RetryPolicy) shouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Retry executes fn under the policy. A RetryAfter hint on the error raises
// the computed delay to at least the hinted value.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !policy.shouldRetry(err, attempt) {
			return err
		}

		delay := policy.delayFor(attempt)
		if hint := retryAfterHint(err); hint > 0 {
			hinted := time.Duration(hint * float64(time.Second))
			if hinted > delay {
				delay = hinted
			}
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
