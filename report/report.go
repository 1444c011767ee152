// ABOUTME: Run report assembly: markdown from the final run state, HTML via
// ABOUTME: goldmark for the status server, styled terminal output via lipgloss.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/dockwright/dockwright/workflow"
)

// Markdown renders the final run report as markdown. Failed runs carry the
// classification, message, suggested fix, and the full retry ledger.
func Markdown(res *workflow.RunResult) string {
	if res == nil {
		return ""
	}
	st := res.State

	var b strings.Builder
	if res.Status == workflow.RunSucceeded {
		b.WriteString("# Dockerfile generation succeeded\n\n")
	} else {
		b.WriteString("# Dockerfile generation failed\n\n")
	}

	fmt.Fprintf(&b, "- **Target**: `%s`\n", st.Target)
	if st.Profile != nil {
		fmt.Fprintf(&b, "- **Category**: %s\n", st.Profile.Category)
		if len(st.Profile.Stack) > 0 {
			fmt.Fprintf(&b, "- **Stack**: %s\n", strings.Join(st.Profile.Stack, ", "))
		}
	}
	fmt.Fprintf(&b, "- **Repair cycles used**: %d of %d\n", st.RetryCount, st.MaxRetries)
	if st.Validation != nil && st.Validation.ArtifactSize > 0 {
		fmt.Fprintf(&b, "- **Image size**: %s\n", humanBytes(st.Validation.ArtifactSize))
	}
	if total := totalTokens(st); total > 0 {
		fmt.Fprintf(&b, "- **Oracle tokens**: %d across %d calls\n", total, len(st.UsageLedger))
	}
	b.WriteString("\n")

	if res.Status == workflow.RunSucceeded {
		if st.Validation != nil && st.Validation.Message != "" {
			fmt.Fprintf(&b, "%s\n\n", st.Validation.Message)
		}
		if st.LastRationale != "" {
			b.WriteString("## Rationale\n\n")
			fmt.Fprintf(&b, "%s\n\n", st.LastRationale)
		}
	} else {
		b.WriteString("## Failure\n\n")
		fmt.Fprintf(&b, "%s\n\n", res.FailureReason)
		if res.Classification != nil {
			fmt.Fprintf(&b, "- **Classification**: %s\n", res.Classification.Category)
			if res.Classification.Reason != "" {
				fmt.Fprintf(&b, "- **Reason**: %s\n", res.Classification.Reason)
			}
			if res.Classification.SuggestedFix != "" {
				fmt.Fprintf(&b, "- **Suggestion**: %s\n", res.Classification.SuggestedFix)
			}
			b.WriteString("\n")
		}
	}

	if len(st.RetryLedger) > 0 {
		b.WriteString("## Repair history\n\n")
		for _, a := range st.RetryLedger {
			fmt.Fprintf(&b, "### Attempt %d (%s)\n\n", a.Attempt, a.Category)
			if a.ErrorSummary != "" {
				fmt.Fprintf(&b, "- **Error**: %s\n", firstLine(a.ErrorSummary))
			}
			if a.WhatWasTried != "" {
				fmt.Fprintf(&b, "- **Tried**: %s\n", a.WhatWasTried)
			}
			if a.WhyItFailed != "" {
				fmt.Fprintf(&b, "- **Root cause**: %s\n", a.WhyItFailed)
			}
			if a.Lesson != "" {
				fmt.Fprintf(&b, "- **Lesson**: %s\n", a.Lesson)
			}
			b.WriteString("\n")
		}
	}

	if st.CurrentArtifact != "" {
		b.WriteString("## Final Dockerfile\n\n")
		fmt.Fprintf(&b, "```dockerfile\n%s\n```\n", strings.TrimRight(st.CurrentArtifact, "\n"))
	}

	return b.String()
}

// HTML converts the markdown report to a standalone HTML page.
func HTML(res *workflow.RunResult) (string, error) {
	md := goldmark.New()
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(res)), &buf); err != nil {
		return "", fmt.Errorf("rendering report HTML: %w", err)
	}
	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>dockwright report</title>\n")
	page.WriteString("<style>body{font-family:sans-serif;max-width:52rem;margin:2rem auto;padding:0 1rem;line-height:1.5}pre{background:#f4f4f4;padding:1rem;overflow-x:auto}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.WriteString(buf.String())
	page.WriteString("</body>\n</html>\n")
	return page.String(), nil
}

func totalTokens(st *workflow.RunState) int {
	total := 0
	for _, u := range st.UsageLedger {
		total += u.PromptTokens + u.CompletionTokens
	}
	return total
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
