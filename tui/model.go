// ABOUTME: Compact Bubble Tea progress view of a workflow run: stage list with
// ABOUTME: status glyphs, spinner on the active stage, retry counter, event tail.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dockwright/dockwright/workflow"
)

type stageStatus int

const (
	stagePending stageStatus = iota
	stageRunning
	stageDone
	stageFailed
	stageRetrying
)

// displayOrder is the pipeline order shown in the stage list.
var displayOrder = []workflow.StageName{
	workflow.StageScan,
	workflow.StageAnalyze,
	workflow.StageReadFiles,
	workflow.StagePlan,
	workflow.StageGenerate,
	workflow.StageReview,
	workflow.StageValidate,
	workflow.StageReflect,
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	retryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	eventStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Model is the Bubble Tea model for a single workflow run.
type Model struct {
	target  string
	spin    spinner.Model
	status  map[workflow.StageName]stageStatus
	active  workflow.StageName
	retries int
	events  []string // rolling tail of event lines
	result  *workflow.RunResult
	err     error
	done    bool
}

// NewModel creates the progress model for a run against target.
func NewModel(target string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	return Model{
		target: target,
		spin:   sp,
		status: make(map[workflow.StageName]stageStatus),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case EngineEventMsg:
		m.applyEvent(msg.Event)
		return m, nil

	case RunResultMsg:
		m.result = msg.Result
		m.err = msg.Err
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) applyEvent(ev workflow.EngineEvent) {
	switch ev.Type {
	case workflow.EventStageStarted:
		m.active = ev.Stage
		m.status[ev.Stage] = stageRunning
	case workflow.EventStageComplete:
		m.status[ev.Stage] = stageDone
	case workflow.EventStageFailed:
		m.status[ev.Stage] = stageFailed
	case workflow.EventStageRetrying:
		m.status[ev.Stage] = stageRetrying
	case workflow.EventRetryCycle:
		m.retries++
		// A new repair cycle re-runs generation onward.
		for _, s := range []workflow.StageName{workflow.StageGenerate, workflow.StageReview, workflow.StageValidate, workflow.StageReflect} {
			m.status[s] = stagePending
		}
	}
	m.pushEventLine(ev)
}

func (m *Model) pushEventLine(ev workflow.EngineEvent) {
	line := string(ev.Type)
	if ev.Stage != "" {
		line += " " + string(ev.Stage)
	}
	m.events = append(m.events, line)
	if len(m.events) > 6 {
		m.events = m.events[len(m.events)-6:]
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("dockwright") + " " + m.target + "\n\n")

	for _, name := range displayOrder {
		b.WriteString("  " + m.stageLine(name) + "\n")
	}

	if m.retries > 0 {
		b.WriteString("\n" + retryStyle.Render(fmt.Sprintf("repair cycles: %d", m.retries)) + "\n")
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, line := range m.events {
			b.WriteString(eventStyle.Render("  "+line) + "\n")
		}
	}

	if !m.done {
		b.WriteString("\n" + pendingStyle.Render("press q to cancel") + "\n")
	}
	return b.String()
}

func (m Model) stageLine(name workflow.StageName) string {
	label := string(name)
	switch m.status[name] {
	case stageRunning:
		return m.spin.View() + " " + label
	case stageDone:
		return doneStyle.Render("✓ " + label)
	case stageFailed:
		return failedStyle.Render("✗ " + label)
	case stageRetrying:
		return retryStyle.Render("↻ " + label)
	default:
		return pendingStyle.Render("· " + label)
	}
}

// Result returns the final run result once the program exits.
func (m Model) Result() (*workflow.RunResult, error) {
	return m.result, m.err
}
