// ABOUTME: Engine routing tests using scripted stages: retry budget, ledger
// ABOUTME: invariant, non-retryable short-circuit, review self-fix, reanalysis.
package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedStage runs a caller-supplied function under a fixed stage name.
type scriptedStage struct {
	name StageName
	fn   func(ctx context.Context, st *RunState) (*Outcome, error)
}

func (s *scriptedStage) Name() StageName { return s.name }
func (s *scriptedStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	return s.fn(ctx, st)
}

// testHarness builds a registry of pass-through stages that a test can
// selectively override, and records the execution order.
type testHarness struct {
	registry *StageRegistry
	visited  []StageName
	events   []EngineEvent
}

func newHarness() *testHarness {
	h := &testHarness{registry: NewStageRegistry()}

	updates := map[StageName]func(st *RunState) StateUpdate{
		StageScan: func(st *RunState) StateUpdate {
			return StateUpdate{FileList: []string{"main.go", "go.mod"}}
		},
		StageAnalyze: func(st *RunState) StateUpdate {
			return StateUpdate{Profile: &ProjectProfile{Language: "go", Category: CategoryService}}
		},
		StageReadFiles: func(st *RunState) StateUpdate {
			return StateUpdate{FileDigest: ptr("=== main.go ===\npackage main")}
		},
		StagePlan: func(st *RunState) StateUpdate {
			return StateUpdate{Plan: &BuildPlan{MultiStage: true}}
		},
		StageGenerate: func(st *RunState) StateUpdate {
			return StateUpdate{Artifact: ptr("FROM golang:1.25\n"), ClearLastError: true, ClearReflection: true}
		},
		StageReview: func(st *RunState) StateUpdate {
			return StateUpdate{Review: &ReviewVerdict{DefectFound: false}}
		},
		StageValidate: func(st *RunState) StateUpdate {
			return StateUpdate{Validation: &ValidationVerdict{Success: true, Message: "service is running"}}
		},
		StageReflect: func(st *RunState) StateUpdate {
			return StateUpdate{
				Reflection:  &Reflection{RootCause: "missing dependency"},
				LedgerEntry: &RetryAttempt{Attempt: st.RetryCount + 1, Category: ArtifactDefect},
			}
		},
	}
	for name, fn := range updates {
		name, fn := name, fn
		h.registry.Register(&scriptedStage{name: name, fn: func(ctx context.Context, st *RunState) (*Outcome, error) {
			h.visited = append(h.visited, name)
			return &Outcome{Update: fn(st)}, nil
		}})
	}
	return h
}

// override replaces one stage while still recording visits.
func (h *testHarness) override(name StageName, fn func(ctx context.Context, st *RunState) (*Outcome, error)) {
	h.registry.Register(&scriptedStage{name: name, fn: func(ctx context.Context, st *RunState) (*Outcome, error) {
		h.visited = append(h.visited, name)
		return fn(ctx, st)
	}})
}

func (h *testHarness) engine(maxRetries int) *Engine {
	return NewEngine(EngineConfig{
		MaxRetries: maxRetries,
		StageRetry: StageRetryPolicy{MaxAttempts: 1, Backoff: BackoffConfig{InitialDelay: time.Nanosecond, Factor: 1, MaxDelay: time.Nanosecond}},
		Stages:     h.registry,
		EventHandler: func(ev EngineEvent) {
			h.events = append(h.events, ev)
		},
	})
}

func (h *testHarness) visits(name StageName) int {
	n := 0
	for _, v := range h.visited {
		if v == name {
			n++
		}
	}
	return n
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness()
	res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunSucceeded {
		t.Fatalf("status = %v, want %v (%s)", res.Status, RunSucceeded, res.FailureReason)
	}

	want := []StageName{StageScan, StageAnalyze, StageReadFiles, StagePlan, StageGenerate, StageReview, StageValidate}
	if len(h.visited) != len(want) {
		t.Fatalf("visited = %v, want %v", h.visited, want)
	}
	for i, name := range want {
		if h.visited[i] != name {
			t.Errorf("visited[%d] = %v, want %v", i, h.visited[i], name)
		}
	}
	if res.State.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", res.State.RetryCount)
	}
}

func TestRunRetryBudgetExhaustion(t *testing.T) {
	h := newHarness()
	h.override(StageValidate, func(ctx context.Context, st *RunState) (*Outcome, error) {
		return &Outcome{Update: StateUpdate{
			Validation:      &ValidationVerdict{Success: false, Message: "build failed"},
			LastError:       ptr("build failed"),
			LastErrorDetail: &Classification{Category: ArtifactDefect},
		}}, nil
	})

	res, err := h.engine(2).Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunFailed {
		t.Fatalf("status = %v, want %v", res.Status, RunFailed)
	}
	if !strings.Contains(res.FailureReason, "retry budget exhausted") {
		t.Errorf("FailureReason = %q, want budget exhaustion", res.FailureReason)
	}
	if res.State.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", res.State.RetryCount)
	}
	if got := h.visits(StageReflect); got != 2 {
		t.Errorf("reflect visits = %d, want 2", got)
	}
	// The first validate plus one per repair cycle.
	if got := h.visits(StageValidate); got != 3 {
		t.Errorf("validate visits = %d, want 3", got)
	}
}

func TestRunLedgerMatchesRetryCount(t *testing.T) {
	h := newHarness()
	h.override(StageValidate, func(ctx context.Context, st *RunState) (*Outcome, error) {
		return &Outcome{Update: StateUpdate{
			Validation:      &ValidationVerdict{Success: false, Message: "crash on start"},
			LastError:       ptr("crash on start"),
			LastErrorDetail: &Classification{Category: Unclassified},
		}}, nil
	})

	engine := h.engine(3)
	// Check the invariant at every counter movement, not just at the end.
	prev := engine.config.EventHandler
	checkpoints := 0
	engine.config.EventHandler = func(ev EngineEvent) {
		prev(ev)
		if ev.Type == EventRetryCycle {
			checkpoints++
		}
	}

	res, err := engine.Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunFailed {
		t.Fatalf("status = %v, want %v", res.Status, RunFailed)
	}
	if len(res.State.RetryLedger) != res.State.RetryCount {
		t.Errorf("ledger length %d != retry count %d", len(res.State.RetryLedger), res.State.RetryCount)
	}
	if checkpoints != res.State.RetryCount {
		t.Errorf("retry.cycle events = %d, want %d", checkpoints, res.State.RetryCount)
	}
}

func TestRunNonRetryableShortCircuits(t *testing.T) {
	for _, cat := range []Category{ProjectDefect, EnvironmentDefect} {
		t.Run(string(cat), func(t *testing.T) {
			h := newHarness()
			h.override(StageValidate, func(ctx context.Context, st *RunState) (*Outcome, error) {
				return &Outcome{Update: StateUpdate{
					Validation:      &ValidationVerdict{Success: false, Message: "fatal"},
					LastError:       ptr("fatal"),
					LastErrorDetail: &Classification{Category: cat},
				}}, nil
			})

			res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Status != RunFailed {
				t.Fatalf("status = %v, want %v", res.Status, RunFailed)
			}
			if got := h.visits(StageReflect); got != 0 {
				t.Errorf("reflect visits = %d, want 0: non-retryable must not open a cycle", got)
			}
			if res.State.RetryCount != 0 {
				t.Errorf("RetryCount = %d, want 0", res.State.RetryCount)
			}
			if res.Classification == nil || res.Classification.Category != cat {
				t.Errorf("Classification = %+v, want category %v", res.Classification, cat)
			}
		})
	}
}

func TestRunReviewSelfFixAdoptedWithoutBudget(t *testing.T) {
	h := newHarness()
	const fixed = "FROM golang:1.25\nCOPY . .\n"
	h.override(StageReview, func(ctx context.Context, st *RunState) (*Outcome, error) {
		return &Outcome{Update: StateUpdate{Review: &ReviewVerdict{
			DefectFound:   true,
			Issues:        []string{"missing COPY"},
			FixedArtifact: fixed,
		}}}, nil
	})
	var validated string
	h.override(StageValidate, func(ctx context.Context, st *RunState) (*Outcome, error) {
		validated = st.CurrentArtifact
		return &Outcome{Update: StateUpdate{Validation: &ValidationVerdict{Success: true}}}, nil
	})

	res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunSucceeded {
		t.Fatalf("status = %v, want %v (%s)", res.Status, RunSucceeded, res.FailureReason)
	}
	if validated != fixed {
		t.Errorf("validate saw artifact %q, want the reviewer's fix", validated)
	}
	if res.State.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0: self-fix must not consume budget", res.State.RetryCount)
	}
	if got := h.visits(StageReflect); got != 0 {
		t.Errorf("reflect visits = %d, want 0", got)
	}
}

func TestRunReviewDefectOpensReflectCycle(t *testing.T) {
	h := newHarness()
	reviews := 0
	h.override(StageReview, func(ctx context.Context, st *RunState) (*Outcome, error) {
		reviews++
		if reviews == 1 {
			return &Outcome{Update: StateUpdate{
				Review:          &ReviewVerdict{DefectFound: true, Issues: []string{"runs as root"}},
				LastError:       ptr("review found defects: runs as root"),
				LastErrorDetail: &Classification{Category: ArtifactDefect},
			}}, nil
		}
		return &Outcome{Update: StateUpdate{Review: &ReviewVerdict{DefectFound: false}}}, nil
	})
	// Even a reanalysis request must not reroute a review-triggered cycle.
	h.override(StageReflect, func(ctx context.Context, st *RunState) (*Outcome, error) {
		return &Outcome{Update: StateUpdate{
			Reflection:      &Reflection{RootCause: "bad user directive", NeedsReanalysis: true},
			NeedsReanalysis: ptr(true),
			LedgerEntry:     &RetryAttempt{Attempt: st.RetryCount + 1, Category: ArtifactDefect},
		}}, nil
	})

	res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunSucceeded {
		t.Fatalf("status = %v, want %v (%s)", res.Status, RunSucceeded, res.FailureReason)
	}
	if res.State.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", res.State.RetryCount)
	}
	if got := h.visits(StageAnalyze); got != 1 {
		t.Errorf("analyze visits = %d, want 1: review cycles re-enter at generate", got)
	}
	if got := h.visits(StageGenerate); got != 2 {
		t.Errorf("generate visits = %d, want 2", got)
	}
}

func TestRunValidateReanalysisReroutesThroughAnalyze(t *testing.T) {
	h := newHarness()
	validations := 0
	h.override(StageValidate, func(ctx context.Context, st *RunState) (*Outcome, error) {
		validations++
		if validations == 1 {
			return &Outcome{Update: StateUpdate{
				Validation:      &ValidationVerdict{Success: false, Message: "wrong start command"},
				LastError:       ptr("wrong start command"),
				LastErrorDetail: &Classification{Category: ArtifactDefect},
			}}, nil
		}
		return &Outcome{Update: StateUpdate{Validation: &ValidationVerdict{Success: true}}}, nil
	})
	h.override(StageReflect, func(ctx context.Context, st *RunState) (*Outcome, error) {
		return &Outcome{Update: StateUpdate{
			Reflection:      &Reflection{RootCause: "profile misread the entrypoint", NeedsReanalysis: true},
			NeedsReanalysis: ptr(true),
			LedgerEntry:     &RetryAttempt{Attempt: st.RetryCount + 1, Category: ArtifactDefect},
		}}, nil
	})

	res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunSucceeded {
		t.Fatalf("status = %v, want %v (%s)", res.Status, RunSucceeded, res.FailureReason)
	}
	if got := h.visits(StageAnalyze); got != 2 {
		t.Errorf("analyze visits = %d, want 2", got)
	}
	// Re-analysis feeds straight back into generation, not the linear path.
	if got := h.visits(StageReadFiles); got != 1 {
		t.Errorf("read_files visits = %d, want 1", got)
	}
	if got := h.visits(StagePlan); got != 1 {
		t.Errorf("plan visits = %d, want 1", got)
	}
}

type retryableErr struct{ msg string }

func (e *retryableErr) Error() string     { return e.msg }
func (e *retryableErr) IsRetryable() bool { return true }

type permanentErr struct{ msg string }

func (e *permanentErr) Error() string     { return e.msg }
func (e *permanentErr) IsRetryable() bool { return false }

func TestRunStageFailureRetriedLocally(t *testing.T) {
	h := newHarness()
	attempts := 0
	h.override(StageAnalyze, func(ctx context.Context, st *RunState) (*Outcome, error) {
		attempts++
		if attempts < 3 {
			return nil, &retryableErr{msg: "oracle 503"}
		}
		return &Outcome{Update: StateUpdate{Profile: &ProjectProfile{Language: "go", Category: CategoryService}}}, nil
	})

	engine := NewEngine(EngineConfig{
		MaxRetries: 3,
		StageRetry: StageRetryPolicy{MaxAttempts: 5, Backoff: BackoffConfig{InitialDelay: time.Nanosecond, Factor: 1, MaxDelay: time.Nanosecond}},
		Stages:     h.registry,
		EventHandler: func(ev EngineEvent) {
			h.events = append(h.events, ev)
		},
	})
	res, err := engine.Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunSucceeded {
		t.Fatalf("status = %v, want %v (%s)", res.Status, RunSucceeded, res.FailureReason)
	}
	if attempts != 3 {
		t.Errorf("analyze attempts = %d, want 3", attempts)
	}
	if res.State.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0: local retries never touch the budget", res.State.RetryCount)
	}
	retrying := 0
	for _, ev := range h.events {
		if ev.Type == EventStageRetrying {
			retrying++
		}
	}
	if retrying != 2 {
		t.Errorf("stage.retrying events = %d, want 2", retrying)
	}
}

func TestRunStagePermanentFailurePropagates(t *testing.T) {
	h := newHarness()
	attempts := 0
	h.override(StagePlan, func(ctx context.Context, st *RunState) (*Outcome, error) {
		attempts++
		return nil, &permanentErr{msg: "invalid API key"}
	})

	res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err == nil {
		t.Fatal("Run() error = nil, want stage failure")
	}
	if attempts != 1 {
		t.Errorf("plan attempts = %d, want 1: non-retryable errors skip local retries", attempts)
	}
	if res == nil || res.Status != RunFailed {
		t.Fatalf("result = %+v, want failed result alongside the error", res)
	}
}

func TestRunEmptyArtifactGuard(t *testing.T) {
	h := newHarness()
	h.override(StageGenerate, func(ctx context.Context, st *RunState) (*Outcome, error) {
		return &Outcome{}, nil
	})

	_, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err == nil || !strings.Contains(err.Error(), "no artifact") {
		t.Fatalf("Run() error = %v, want empty-artifact guard", err)
	}
}

func TestRunContextCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.override(StageReadFiles, func(ctx context.Context, st *RunState) (*Outcome, error) {
		cancel()
		return &Outcome{Update: StateUpdate{FileDigest: ptr("x")}}, nil
	})

	res, err := h.engine(3).Run(ctx, "/tmp/repo")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res == nil || res.Status != RunFailed {
		t.Fatalf("result = %+v, want failed result", res)
	}
}

func TestRunStagePanicBecomesError(t *testing.T) {
	h := newHarness()
	h.override(StageScan, func(ctx context.Context, st *RunState) (*Outcome, error) {
		panic("scanner bug")
	})

	_, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("Run() error = %v, want recovered panic", err)
	}
}

func TestRunUnknownCategoryDegradesToUnclassified(t *testing.T) {
	h := newHarness()
	failures := 0
	h.override(StageValidate, func(ctx context.Context, st *RunState) (*Outcome, error) {
		failures++
		if failures == 1 {
			// A failing verdict with no classification at all.
			return &Outcome{Update: StateUpdate{
				Validation: &ValidationVerdict{Success: false, Message: "mystery exit"},
				LastError:  ptr("mystery exit"),
			}}, nil
		}
		return &Outcome{Update: StateUpdate{Validation: &ValidationVerdict{Success: true}}}, nil
	})

	res, err := h.engine(3).Run(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunSucceeded {
		t.Fatalf("status = %v, want %v: Unclassified failures stay retryable (%s)", res.Status, RunSucceeded, res.FailureReason)
	}
	if res.State.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", res.State.RetryCount)
	}
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(EngineConfig{MaxRetries: -1, Stages: NewStageRegistry()})
	if e.config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", e.config.MaxRetries)
	}
	if e.config.StageRetry.MaxAttempts != 5 {
		t.Errorf("StageRetry.MaxAttempts = %d, want 5", e.config.StageRetry.MaxAttempts)
	}
}

func TestNewEngineHonorsZeroRetryBudget(t *testing.T) {
	e := NewEngine(EngineConfig{MaxRetries: 0, Stages: NewStageRegistry()})
	if e.config.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want explicit zero preserved", e.config.MaxRetries)
	}
}

func TestRunRequiresRegistry(t *testing.T) {
	e := NewEngine(EngineConfig{})
	if _, err := e.Run(context.Background(), "/tmp/repo"); err == nil {
		t.Fatal("Run() error = nil, want missing-registry error")
	}
}
