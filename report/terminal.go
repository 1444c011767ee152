// ABOUTME: Lipgloss-styled terminal rendering of the final run report.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dockwright/dockwright/workflow"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	ledgerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Terminal renders the final run report for a terminal.
func Terminal(res *workflow.RunResult) string {
	if res == nil {
		return ""
	}
	st := res.State

	var b strings.Builder
	if res.Status == workflow.RunSucceeded {
		b.WriteString(successStyle.Render("✓ Dockerfile generation succeeded"))
	} else {
		b.WriteString(failStyle.Render("✗ Dockerfile generation failed"))
	}
	b.WriteString("\n\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	row("Target", st.Target)
	if st.Profile != nil {
		row("Category", string(st.Profile.Category))
		row("Stack", strings.Join(st.Profile.Stack, ", "))
	}
	row("Repair cycles", fmt.Sprintf("%d of %d", st.RetryCount, st.MaxRetries))
	if st.Validation != nil && st.Validation.ArtifactSize > 0 {
		row("Image size", humanBytes(st.Validation.ArtifactSize))
	}
	if total := totalTokens(st); total > 0 {
		row("Oracle tokens", fmt.Sprintf("%d across %d calls", total, len(st.UsageLedger)))
	}

	if res.Status == workflow.RunSucceeded {
		if st.Validation != nil && st.Validation.Message != "" {
			b.WriteString("\n" + valueStyle.Render(st.Validation.Message) + "\n")
		}
	} else {
		b.WriteString("\n" + failStyle.Render(firstLine(res.FailureReason)) + "\n")
		if res.Classification != nil {
			row("Classification", string(res.Classification.Category))
			row("Suggestion", res.Classification.SuggestedFix)
		}
	}

	if len(st.RetryLedger) > 0 {
		b.WriteString("\n" + ledgerStyle.Render("Repair history") + "\n")
		for _, a := range st.RetryLedger {
			line := fmt.Sprintf("  %d. [%s] %s", a.Attempt, a.Category, firstLine(a.ErrorSummary))
			if a.Lesson != "" {
				line += "\n     lesson: " + a.Lesson
			}
			b.WriteString(valueStyle.Render(line) + "\n")
		}
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
