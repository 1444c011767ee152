// ABOUTME: Review stage: static defect check of the candidate artifact before validation.
// ABOUTME: A reviewer-supplied correction is adopted by the engine without spending retry budget.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ReviewStage has the oracle inspect the candidate Dockerfile for defects a
// build would surface: wrong paths, missing dependencies, bad entrypoints.
type ReviewStage struct {
	Oracle Oracle
}

func (s *ReviewStage) Name() StageName { return StageReview }

const reviewSystemPrompt = `You review Dockerfiles for defects before they are built. Respond with a single JSON object:
{"defect_found": true|false, "issues": ["..."], "fixed_dockerfile": "..."}
Only flag defects that would break the build or the container at runtime; style is not a defect.
If you can fix every issue yourself with full confidence, put the complete corrected file in
fixed_dockerfile; otherwise leave it empty.`

func (s *ReviewStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Dockerfile under review:\n%s\n\n", st.CurrentArtifact)
	if st.Profile != nil {
		profJSON, _ := json.Marshal(st.Profile)
		fmt.Fprintf(&b, "Project profile:\n%s\n\n", profJSON)
	}
	if st.FileDigest != "" {
		fmt.Fprintf(&b, "Repository files for cross-checking COPY paths and commands:\n%s\n", st.FileDigest)
	}

	resp, err := s.Oracle.Complete(ctx, OracleRequest{
		Task:   string(StageReview),
		System: reviewSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("review oracle: %w", err)
	}

	var verdict ReviewVerdict
	if err := decodeOracleJSON(resp.Text, &verdict); err != nil {
		return nil, fmt.Errorf("review decode: %w", err)
	}
	verdict.FixedArtifact = strings.TrimSpace(verdict.FixedArtifact)

	update := StateUpdate{
		Review: &verdict,
		Usage:  []UsageRecord{usageRecord(StageReview, resp)},
	}
	if verdict.DefectFound && verdict.FixedArtifact == "" {
		// Review defects are artifact defects by definition; record them so
		// the reflect stage has a classified failure to work from.
		update.LastError = ptr("review found defects: " + strings.Join(verdict.Issues, "; "))
		update.LastErrorDetail = &Classification{
			Category: ArtifactDefect,
			Reason:   "static review found defects before validation",
		}
	}

	notes := "no defects"
	if verdict.DefectFound {
		notes = fmt.Sprintf("%d issue(s)", len(verdict.Issues))
		if verdict.FixedArtifact != "" {
			notes += ", self-fixed"
		}
	}
	return &Outcome{Update: update, Notes: notes}, nil
}
