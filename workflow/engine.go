// ABOUTME: The workflow engine: sequences stages, owns RunState, applies routing after each stage.
// ABOUTME: Enforces the retry budget with a single increment action per Reflect->Generate cycle.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// RunStatus is the terminal status of a workflow run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunResult exposes the final RunState for reporting once the engine reaches
// a terminal state.
type RunResult struct {
	Status         RunStatus
	State          *RunState
	FailureReason  string
	Classification *Classification
}

// EngineConfig holds configuration for the workflow engine.
type EngineConfig struct {
	MaxRetries   int               // artifact retry budget (default 3)
	StageRetry   StageRetryPolicy  // local retry policy for stage-execution failures
	Stages       *StageRegistry    // required
	EventHandler func(EngineEvent) // optional event callback
}

// Engine drives one target repository through the scan -> analyze -> read ->
// plan -> generate -> review -> validate loop, with bounded reflect/retry
// cycles on artifact failures.
type Engine struct {
	config EngineConfig
}

// NewEngine creates a workflow engine with the given configuration.
// MaxRetries zero is honored as a no-repair-cycles budget; only a negative
// value falls back to the default.
func NewEngine(config EngineConfig) *Engine {
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.StageRetry.MaxAttempts == 0 {
		config.StageRetry = DefaultStageRetryPolicy()
	}
	return &Engine{config: config}
}

// transition guard against routing bugs; a legitimate run visits well under
// this many stages even at the retry ceiling.
const maxTransitions = 200

// Run executes the workflow for the target repository until it reaches a
// terminal state. A non-nil error means a stage failed in a way local
// retries could not absorb (oracle permanently down, unreadable repo); the
// accompanying RunResult still carries the state for reporting.
func (e *Engine) Run(ctx context.Context, target string) (*RunResult, error) {
	if e.config.Stages == nil {
		return nil, fmt.Errorf("engine has no stage registry")
	}

	st := NewRunState(target, e.config.MaxRetries)
	e.emit(EngineEvent{Type: EventRunStarted, Data: map[string]any{"target": target}})

	current := StageScan
	// retrySource records which stage's failure opened the current reflect
	// cycle. Review-triggered cycles always re-enter at Generate; only
	// validation-triggered cycles may route through re-analysis.
	var retrySource StageName

	for i := 0; ; i++ {
		if i >= maxTransitions {
			return e.fail(st, "engine exceeded maximum stage transitions", nil),
				fmt.Errorf("exceeded %d stage transitions, routing loop suspected", maxTransitions)
		}
		select {
		case <-ctx.Done():
			return e.fail(st, ctx.Err().Error(), nil), ctx.Err()
		default:
		}

		if (current == StageReview || current == StageValidate) && st.CurrentArtifact == "" {
			err := fmt.Errorf("stage %s entered with no artifact", current)
			return e.fail(st, err.Error(), nil), err
		}

		stage := e.config.Stages.Get(current)
		if stage == nil {
			err := fmt.Errorf("no stage registered for %q", current)
			return e.fail(st, err.Error(), nil), err
		}

		e.emit(EngineEvent{Type: EventStageStarted, Stage: current})
		outcome, err := e.executeStage(ctx, stage, st)
		if err != nil {
			e.emit(EngineEvent{Type: EventStageFailed, Stage: current, Data: map[string]any{"reason": err.Error()}})
			return e.fail(st, fmt.Sprintf("stage %s: %v", current, err), st.LastErrorDetail),
				fmt.Errorf("stage %s: %w", current, err)
		}
		outcome.Update.Apply(st)
		data := map[string]any{}
		if outcome.Notes != "" {
			data["notes"] = outcome.Notes
		}
		e.emit(EngineEvent{Type: EventStageComplete, Stage: current, Data: data})

		next, result := e.route(current, st, &retrySource)
		if result != nil {
			return result, nil
		}
		current = next
	}
}

// route decides the next stage from the state the previous stage produced.
// It returns a non-nil RunResult when the run is terminal.
func (e *Engine) route(current StageName, st *RunState, retrySource *StageName) (StageName, *RunResult) {
	switch current {
	case StageScan:
		return StageAnalyze, nil

	case StageAnalyze:
		// Re-analysis inside a retry cycle feeds straight back into
		// generation; the initial pass continues down the linear path.
		if *retrySource != "" {
			*retrySource = ""
			return StageGenerate, nil
		}
		return StageReadFiles, nil

	case StageReadFiles:
		return StagePlan, nil

	case StagePlan:
		return StageGenerate, nil

	case StageGenerate:
		*retrySource = ""
		return StageReview, nil

	case StageReview:
		v := st.Review
		if v == nil || !v.DefectFound {
			return StageValidate, nil
		}
		if v.FixedArtifact != "" {
			// Reviewer supplied a self-contained correction: adopt it in
			// place and validate without consuming the retry budget.
			st.CurrentArtifact = v.FixedArtifact
			st.LastError = ""
			st.LastErrorDetail = nil
			return StageValidate, nil
		}
		if st.BudgetExhausted() {
			return StageTerminal, e.failTerminal(st, "review defects remain with retry budget exhausted: "+strings.Join(v.Issues, "; "))
		}
		*retrySource = StageReview
		return StageReflect, nil

	case StageValidate:
		v := st.Validation
		if v == nil {
			return StageTerminal, e.failTerminal(st, "validate stage produced no verdict")
		}
		if v.Success {
			e.emit(EngineEvent{Type: EventRunCompleted, Data: map[string]any{
				"retries":    st.RetryCount,
				"size_bytes": v.ArtifactSize,
			}})
			return StageTerminal, &RunResult{Status: RunSucceeded, State: st}
		}
		detail := st.LastErrorDetail
		if detail == nil {
			detail = &Classification{Category: Unclassified}
			st.LastErrorDetail = detail
		}
		if !detail.Retryable() {
			// Non-retryable categories surface to the operator immediately,
			// regardless of remaining budget.
			return StageTerminal, e.failTerminal(st, fmt.Sprintf("%s: %s", detail.Category, v.Message))
		}
		if st.BudgetExhausted() {
			return StageTerminal, e.failTerminal(st, fmt.Sprintf("retry budget exhausted after %d attempt(s): %s", st.RetryCount, v.Message))
		}
		*retrySource = StageValidate
		return StageReflect, nil

	case StageReflect:
		// The single place the retry counter moves: exactly once per
		// reflect cycle, regardless of which failure path opened it.
		e.noteRetry(st)
		if *retrySource == StageValidate && st.NeedsReanalysis {
			return StageAnalyze, nil
		}
		*retrySource = ""
		return StageGenerate, nil
	}

	return StageTerminal, e.failTerminal(st, fmt.Sprintf("no route from stage %q", current))
}

// noteRetry is the dedicated transition action that increments the retry
// counter. Keeping it out of the stages guarantees exactly-once counting.
func (e *Engine) noteRetry(st *RunState) {
	st.RetryCount++
	e.emit(EngineEvent{Type: EventRetryCycle, Data: map[string]any{
		"retry_count": st.RetryCount,
		"max_retries": st.MaxRetries,
	}})
}

// fail builds a terminal failure result and emits the run.failed event.
func (e *Engine) fail(st *RunState, reason string, cls *Classification) *RunResult {
	e.emit(EngineEvent{Type: EventRunFailed, Data: map[string]any{"reason": reason}})
	return &RunResult{
		Status:         RunFailed,
		State:          st,
		FailureReason:  reason,
		Classification: cls,
	}
}

// failTerminal is fail with the classification taken from the run state.
func (e *Engine) failTerminal(st *RunState, reason string) *RunResult {
	return e.fail(st, reason, st.LastErrorDetail)
}

// executeStage runs a stage with panic recovery and bounded local backoff.
// These retries absorb transient oracle or I/O failures and never touch the
// artifact retry budget.
func (e *Engine) executeStage(ctx context.Context, stage Stage, st *RunState) (*Outcome, error) {
	policy := e.config.StageRetry.normalize()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		outcome, err := safeExecute(ctx, stage, st)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts || !transient(err) {
			break
		}
		e.emit(EngineEvent{Type: EventStageRetrying, Stage: stage.Name(), Data: map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}})
		sleepWithContext(ctx, policy.Backoff.DelayForAttempt(attempt-1))
	}
	return nil, lastErr
}

// transient reports whether a stage error is worth a local retry. Errors
// exposing IsRetryable (the oracle client's error hierarchy) decide for
// themselves; everything else is retried optimistically except context
// cancellation.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

// safeExecute wraps Stage.Execute with panic recovery so one misbehaving
// stage cannot take down the engine.
func safeExecute(ctx context.Context, stage Stage, st *RunState) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic in %s: %v\n%s", stage.Name(), r, debug.Stack())
			outcome = nil
		}
	}()
	outcome, err = stage.Execute(ctx, st)
	if err == nil && outcome == nil {
		outcome = &Outcome{}
	}
	return outcome, err
}

// sleepWithContext sleeps for d, returning early on context cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// emit sends an event to the configured handler, stamping the time.
func (e *Engine) emit(evt EngineEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if e.config.EventHandler != nil {
		e.config.EventHandler(evt)
	}
}
