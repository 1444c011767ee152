// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps a workflow event or result for the tea.Msg interface.
package tui

import (
	"github.com/dockwright/dockwright/workflow"
)

// EngineEventMsg wraps a workflow.EngineEvent for the Bubble Tea message loop.
type EngineEventMsg struct {
	Event workflow.EngineEvent
}

// RunResultMsg signals that the workflow has finished.
type RunResultMsg struct {
	Result *workflow.RunResult
	Err    error
}
