// ABOUTME: Bridge connecting the workflow engine to the Bubble Tea message loop.
// ABOUTME: Provides EventBridge for event injection and the run-workflow tea.Cmd.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dockwright/dockwright/workflow"
)

// EventBridge wraps a tea.Program's Send method for injecting engine events
// into the Bubble Tea message loop.
type EventBridge struct {
	send func(msg tea.Msg)
}

// NewEventBridge creates an EventBridge that sends messages via the given
// function, typically program.Send.
func NewEventBridge(send func(msg tea.Msg)) *EventBridge {
	return &EventBridge{send: send}
}

// HandleEvent implements the workflow.EngineConfig.EventHandler signature.
func (b *EventBridge) HandleEvent(ev workflow.EngineEvent) {
	b.send(EngineEventMsg{Event: ev})
}

// RunWorkflowCmd returns a tea.Cmd that runs the engine against the target
// repository and reports the result. The context lets the user quit mid-run.
func RunWorkflowCmd(ctx context.Context, engine *workflow.Engine, target string) tea.Cmd {
	return func() tea.Msg {
		result, err := engine.Run(ctx, target)
		return RunResultMsg{Result: result, Err: err}
	}
}
