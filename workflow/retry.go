// ABOUTME: Local retry policy for stage-execution failures (oracle outages, transient I/O).
// ABOUTME: These retries are invisible to the artifact retry budget tracked in RunState.
package workflow

import (
	"math"
	"math/rand/v2"
	"time"
)

// StageRetryPolicy bounds local retries of a failing stage execution.
// Artifact-level failures never pass through this path; only errors returned
// by Stage.Execute do.
type StageRetryPolicy struct {
	MaxAttempts int // total attempts, minimum 1
	Backoff     BackoffConfig
}

// BackoffConfig controls delay timing between local retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DelayForAttempt calculates the delay for a given attempt number
// (0-indexed): InitialDelay * Factor^attempt, capped at MaxDelay. With
// Jitter the delay is randomized in [0, calculated].
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	base := float64(b.InitialDelay.Nanoseconds()) * math.Pow(b.Factor, float64(attempt))
	capped := math.Min(base, float64(b.MaxDelay.Nanoseconds()))
	if b.Jitter {
		capped = rand.Float64() * capped
	}
	return time.Duration(int64(capped))
}

// DefaultStageRetryPolicy allows up to 5 attempts with a doubling delay,
// capped at 30s.
func DefaultStageRetryPolicy() StageRetryPolicy {
	return StageRetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// normalize clamps nonsensical policy values to usable ones.
func (p StageRetryPolicy) normalize() StageRetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff.InitialDelay <= 0 {
		p.Backoff.InitialDelay = 500 * time.Millisecond
	}
	if p.Backoff.Factor < 1 {
		p.Backoff.Factor = 2.0
	}
	if p.Backoff.MaxDelay <= 0 {
		p.Backoff.MaxDelay = 30 * time.Second
	}
	return p
}
