// ABOUTME: Engine lifecycle events and an in-memory append-only event log.
// ABOUTME: Events feed logging, the TUI, and the status server; they never drive control flow.
package workflow

import (
	"sync"
	"time"
)

// EngineEventType identifies the kind of engine lifecycle event.
type EngineEventType string

const (
	EventRunStarted    EngineEventType = "run.started"
	EventRunCompleted  EngineEventType = "run.completed"
	EventRunFailed     EngineEventType = "run.failed"
	EventStageStarted  EngineEventType = "stage.started"
	EventStageComplete EngineEventType = "stage.completed"
	EventStageFailed   EngineEventType = "stage.failed"
	EventStageRetrying EngineEventType = "stage.retrying"
	EventRetryCycle    EngineEventType = "retry.cycle"
)

// EngineEvent is one lifecycle event emitted by the engine during a run.
type EngineEvent struct {
	Type      EngineEventType `json:"type"`
	Stage     StageName       `json:"stage,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventLog is a concurrency-safe append-only record of engine events for one
// run. It exists for observers (report, server, TUI); nothing in the engine
// reads it back.
type EventLog struct {
	mu     sync.RWMutex
	events []EngineEvent
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append records an event.
func (l *EventLog) Append(evt EngineEvent) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

// Snapshot returns a copy of all recorded events in append order.
func (l *EventLog) Snapshot() []EngineEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]EngineEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Tail returns the last n events, or all events when fewer exist.
func (l *EventLog) Tail(n int) []EngineEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]EngineEvent, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
