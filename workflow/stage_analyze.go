// ABOUTME: Analyze stage: builds or rebuilds the project profile from the file listing.
// ABOUTME: A re-analysis replaces the profile wholesale and consumes the needsReanalysis flag.
package workflow

import (
	"context"
	"fmt"
	"strings"
)

// AnalyzeStage asks the oracle for a project profile: stack, category,
// build/start commands, base image suggestion, and runtime expectations.
type AnalyzeStage struct {
	Oracle Oracle
}

func (s *AnalyzeStage) Name() StageName { return StageAnalyze }

const analyzeSystemPrompt = `You analyze software repositories to prepare them for containerization.
Respond with a single JSON object:
{"language": "...", "framework": "...", "stack": ["..."], "category": "service"|"script",
 "build_command": "...", "start_command": "...", "base_image": "...",
 "health_endpoint": {"path": "/...", "port": 0}, "warmup_seconds": 0,
 "success_patterns": ["..."], "failure_patterns": ["..."], "notes": "..."}
category is "service" for long-running network servers, "script" for batch jobs and CLIs.
health_endpoint.port 0 means no HTTP endpoint. success/failure_patterns are literal log
substrings that signal startup success or failure; leave empty when unsure.`

func (s *AnalyzeStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository file listing (%d files):\n%s\n", len(st.FileList), strings.Join(st.FileList, "\n"))
	if st.FileDigest != "" {
		fmt.Fprintf(&b, "\nKey file contents:\n%s\n", st.FileDigest)
	}
	if st.NeedsReanalysis {
		b.WriteString("\nA previous analysis of this repository was judged wrong after a validation failure.")
		if st.ReanalysisFocus != "" {
			fmt.Fprintf(&b, " Re-examine with this focus: %s", st.ReanalysisFocus)
		}
		if st.Profile != nil {
			fmt.Fprintf(&b, "\nPrevious (suspect) profile: language=%s framework=%s category=%s start=%q",
				st.Profile.Language, st.Profile.Framework, st.Profile.Category, st.Profile.StartCommand)
		}
		b.WriteString("\n")
	}

	resp, err := s.Oracle.Complete(ctx, OracleRequest{
		Task:   string(StageAnalyze),
		System: analyzeSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze oracle: %w", err)
	}

	var profile ProjectProfile
	if err := decodeOracleJSON(resp.Text, &profile); err != nil {
		return nil, fmt.Errorf("analyze decode: %w", err)
	}
	if profile.Category != CategoryService && profile.Category != CategoryScript {
		profile.Category = CategoryUnknown
	}

	return &Outcome{
		Update: StateUpdate{
			Profile:         &profile,
			NeedsReanalysis: ptr(false),
			ReanalysisFocus: ptr(""),
			Usage:           []UsageRecord{usageRecord(StageAnalyze, resp)},
		},
		Notes: fmt.Sprintf("%s/%s category=%s", profile.Language, profile.Framework, profile.Category),
	}, nil
}
