// ABOUTME: Tests for retry policy math, retryability routing, and RetryAfter hints.
package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayForGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:         time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second, // capped
		5 * time.Second,
	}
	for i, w := range want {
		if got := p.delayFor(i); got != w {
			t.Errorf("delayFor(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDelayForJitterBounded(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	for i := 0; i < 100; i++ {
		if d := p.delayFor(1); d < 0 || d > 2*time.Second {
			t.Fatalf("jittered delay %v outside [0, 2s]", d)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}

	retryable := &NetworkError{ClientError{Message: "reset"}}
	if !p.shouldRetry(retryable, 0) {
		t.Error("network error at attempt 0 should retry")
	}
	if p.shouldRetry(retryable, 2) {
		t.Error("attempt at MaxRetries should not retry")
	}
	if p.shouldRetry(NewConfigurationError("no key"), 0) {
		t.Error("configuration error should never retry")
	}
	if p.shouldRetry(errors.New("plain"), 0) {
		t.Error("errors without IsRetryable should not retry")
	}

	// Wrapped retryable errors are still recognized.
	wrapped := &ProviderError{ClientError: ClientError{Message: "overloaded"}, StatusCode: 429}
	if !p.shouldRetry(wrapped, 1) {
		t.Error("429 should retry")
	}
}

func TestProviderErrorRetryability(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		e := &ProviderError{StatusCode: tt.status}
		if got := e.IsRetryable(); got != tt.want {
			t.Errorf("status %d: IsRetryable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{MaxRetries: 4, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond, BackoffMultiplier: 1}

	calls := 0
	err := Retry(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return &NetworkError{ClientError{Message: "connection reset"}}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	p := RetryPolicy{MaxRetries: 4, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond, BackoffMultiplier: 1}

	calls := 0
	perm := &ProviderError{ClientError: ClientError{Message: "bad request"}, StatusCode: 400}
	err := Retry(context.Background(), p, func() error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("Retry() error = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	p := RetryPolicy{MaxRetries: 1, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond, BackoffMultiplier: 1}

	var observed time.Duration
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		observed = delay
	}

	calls := 0
	_ = Retry(context.Background(), p, func() error {
		calls++
		if calls == 1 {
			return &ProviderError{ClientError: ClientError{Message: "slow down"}, StatusCode: 429, RetryAfter: 0.01}
		}
		return nil
	})
	if observed < 10*time.Millisecond {
		t.Errorf("delay = %v, want at least the 10ms hint", observed)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, p, func() error {
		return &NetworkError{ClientError{Message: "down"}}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	e := &ClientError{Message: "wrapper", Cause: cause}
	if !errors.Is(e, cause) {
		t.Error("Unwrap lost the cause")
	}
	if e.Error() != "wrapper: root" {
		t.Errorf("Error() = %q", e.Error())
	}
}
