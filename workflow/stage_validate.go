// ABOUTME: Validate stage: writes the candidate Dockerfile into the target repo and runs the validator.
// ABOUTME: The written file is the only durable artifact this system leaves behind.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ValidateStage hands the current artifact to the validation runner and
// records its verdict. Verdict failures are artifact-level: they set
// lastError/lastErrorDetail and are budgeted by the engine, while a returned
// error here means the runner itself could not operate.
type ValidateStage struct {
	Runner       Validator
	ArtifactFile string // relative path inside the target repo, default "Dockerfile"
}

func (s *ValidateStage) Name() StageName { return StageValidate }

func (s *ValidateStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	artifactFile := s.ArtifactFile
	if artifactFile == "" {
		artifactFile = "Dockerfile"
	}
	dest := filepath.Join(st.Target, artifactFile)
	if err := os.WriteFile(dest, []byte(st.CurrentArtifact), 0o644); err != nil {
		return nil, fmt.Errorf("write artifact %s: %w", dest, err)
	}

	in := ValidateInput{
		RepoPath:     st.Target,
		ArtifactFile: artifactFile,
	}
	if p := st.Profile; p != nil {
		in.Category = p.Category
		in.Endpoint = p.HealthEndpoint
		in.WarmupSeconds = p.WarmupSeconds
		in.SuccessPatterns = p.SuccessPatterns
		in.FailurePatterns = p.FailurePatterns
		in.Stack = p.Stack
	}

	verdict, err := s.Runner.Validate(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("validation runner: %w", err)
	}

	update := StateUpdate{Validation: verdict}
	if !verdict.Success {
		update.LastError = ptr(verdict.Message)
		detail := verdict.Classification
		if detail == nil {
			detail = &Classification{Category: Unclassified, Reason: "validator returned no classification"}
		}
		update.LastErrorDetail = detail
	}

	notes := "passed"
	if !verdict.Success {
		notes = "failed: " + firstLine(verdict.Message)
	}
	return &Outcome{Update: update, Notes: notes}, nil
}
