// ABOUTME: Thread-safe run tracker: consumes engine events and holds the
// ABOUTME: final result so HTTP handlers can snapshot an in-flight run.
package server

import (
	"sync"
	"time"

	"github.com/dockwright/dockwright/workflow"
)

// Tracker accumulates observable run state. It is fed from the engine
// goroutine via HandleEvent and read from handler goroutines.
type Tracker struct {
	mu      sync.RWMutex
	runID   string
	target  string
	started time.Time
	stage   workflow.StageName
	retries int
	done    bool
	result  *workflow.RunResult
	events  *workflow.EventLog
}

// NewTracker creates a tracker for one run.
func NewTracker(runID, target string) *Tracker {
	return &Tracker{
		runID:   runID,
		target:  target,
		started: time.Now(),
		events:  workflow.NewEventLog(),
	}
}

// HandleEvent records an engine event. Safe for concurrent use; wire it as
// the engine's EventHandler.
func (t *Tracker) HandleEvent(ev workflow.EngineEvent) {
	t.events.Append(ev)

	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case workflow.EventStageStarted:
		t.stage = ev.Stage
	case workflow.EventRetryCycle:
		t.retries++
	case workflow.EventRunCompleted, workflow.EventRunFailed:
		t.done = true
	}
}

// SetResult stores the final run result.
func (t *Tracker) SetResult(res *workflow.RunResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = res
	t.done = true
}

// StatusSnapshot is the JSON shape served at /api/status.
type StatusSnapshot struct {
	RunID      string             `json:"run_id"`
	Target     string             `json:"target"`
	StartedAt  time.Time          `json:"started_at"`
	Stage      workflow.StageName `json:"stage,omitempty"`
	Retries    int                `json:"retries"`
	Done       bool               `json:"done"`
	Status     string             `json:"status,omitempty"`
	EventCount int                `json:"event_count"`
}

// Snapshot returns a consistent view of the run.
func (t *Tracker) Snapshot() StatusSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := StatusSnapshot{
		RunID:      t.runID,
		Target:     t.target,
		StartedAt:  t.started,
		Stage:      t.stage,
		Retries:    t.retries,
		Done:       t.done,
		EventCount: t.events.Len(),
	}
	if t.result != nil {
		snap.Status = string(t.result.Status)
	}
	return snap
}

// Result returns the final result, or nil while the run is in flight.
func (t *Tracker) Result() *workflow.RunResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Events returns up to n most recent events.
func (t *Tracker) Events(n int) []workflow.EngineEvent {
	return t.events.Tail(n)
}
