// ABOUTME: Readiness polling for freshly started containers: pattern-driven
// ABOUTME: log matching with stale-line immunity, or a fixed warm-up wait.
package validate

import (
	"context"
	"strings"
	"time"
)

// readiness is the result of the readiness phase.
type readiness struct {
	running       bool
	exitCode      int
	failedPattern string // non-empty when a failure pattern matched fresh output
}

// awaitPatterns polls container logs until a success pattern appears anywhere,
// a failure pattern appears in newly appended output, or the container exits.
// Failure patterns are matched only against log text produced after the first
// read so that historical lines from a prior layer cache or restart cannot
// trip them. Hitting the deadline with the container still up counts as ready.
func (r *Runner) awaitPatterns(ctx context.Context, containerName string, successPatterns, failurePatterns []string) readiness {
	baseline, baseErr := r.docker.Logs(ctx, containerName)
	seen := len(baseline)
	haveBaseline := baseErr == nil
	deadline := r.now().Add(r.cfg.MaxReadyWait)

	for {
		r.sleep(ctx, r.cfg.PollInterval)

		logs, err := r.docker.Logs(ctx, containerName)
		if err == nil {
			if p := matchAny(logs, successPatterns); p != "" {
				return r.inspectReadiness(ctx, containerName)
			}
			if !haveBaseline {
				// Without a baseline, stale lines are indistinguishable from
				// fresh ones; the first successful read becomes the baseline
				// and is exempt from failure matching.
				seen = len(logs)
				haveBaseline = true
			} else {
				if seen > len(logs) {
					seen = len(logs) // log stream was reset
				}
				if p := matchAny(logs[seen:], failurePatterns); p != "" {
					res := r.inspectReadiness(ctx, containerName)
					res.failedPattern = p
					return res
				}
				seen = len(logs)
			}
		}

		st, err := r.docker.Inspect(ctx, containerName)
		if err == nil && !st.Running {
			return readiness{running: false, exitCode: st.ExitCode}
		}

		if ctx.Err() != nil || r.now().After(deadline) {
			// Lenient by policy: a slow starter that never logged its ready
			// line is treated as up rather than failed.
			return r.inspectReadiness(ctx, containerName)
		}
	}
}

// awaitFixed waits the declared warm-up period, then inspects once.
func (r *Runner) awaitFixed(ctx context.Context, containerName string, warmupSeconds int) readiness {
	wait := time.Duration(warmupSeconds) * time.Second
	if wait < 3*time.Second {
		wait = 3 * time.Second
	}
	if wait > r.cfg.MaxReadyWait {
		wait = r.cfg.MaxReadyWait
	}
	r.sleep(ctx, wait)
	return r.inspectReadiness(ctx, containerName)
}

func (r *Runner) inspectReadiness(ctx context.Context, containerName string) readiness {
	st, err := r.docker.Inspect(ctx, containerName)
	if err != nil {
		return readiness{running: false, exitCode: -1}
	}
	return readiness{running: st.Running, exitCode: st.ExitCode}
}

func matchAny(text string, patterns []string) string {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}
