// ABOUTME: Stage interface, stage names, and the registry the engine dispatches through.
// ABOUTME: Stages return StateUpdates; they never mutate RunState directly.
package workflow

import (
	"context"
)

// StageName identifies one state of the workflow state machine.
type StageName string

const (
	StageScan      StageName = "scan"
	StageAnalyze   StageName = "analyze"
	StageReadFiles StageName = "read_files"
	StagePlan      StageName = "plan"
	StageGenerate  StageName = "generate"
	StageReview    StageName = "review"
	StageValidate  StageName = "validate"
	StageReflect   StageName = "reflect"
	StageTerminal  StageName = "terminal"
)

// Outcome is the result of one stage execution. The engine applies Update to
// the run state and then routes based on the new state. A returned error
// from Execute is a stage-execution failure (oracle outage, unreadable file)
// and is retried locally without touching the artifact retry budget.
type Outcome struct {
	Update StateUpdate
	Notes  string
}

// Stage is one unit of work in the workflow.
type Stage interface {
	Name() StageName
	Execute(ctx context.Context, st *RunState) (*Outcome, error)
}

// StageRegistry maps stage names to implementations.
type StageRegistry struct {
	stages map[StageName]Stage
}

// NewStageRegistry creates an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{stages: make(map[StageName]Stage)}
}

// Register adds a stage, keyed by its Name. Re-registering replaces.
func (r *StageRegistry) Register(s Stage) {
	r.stages[s.Name()] = s
}

// Get returns the stage registered under name, or nil.
func (r *StageRegistry) Get(name StageName) Stage {
	return r.stages[name]
}

// Scanner lists workflow-relevant files under a repository root. Pure and
// synchronous; excludes noise directories and honors ignore files.
type Scanner interface {
	Scan(ctx context.Context, root string) ([]string, error)
}

// FileReader reads one file relative to the repository root, truncating
// large content deterministically. truncated reports whether it did.
type FileReader interface {
	Read(ctx context.Context, root, rel string) (content string, truncated bool, err error)
}

// TagLookup returns verified registry tags for an image name. Best-effort:
// implementations return an empty slice on any failure.
type TagLookup interface {
	Tags(ctx context.Context, image string) []string
}

// Validator builds and runs the current artifact against the target
// repository and renders a verdict. Returned errors are environment-level
// stage failures; artifact failures are reported inside the verdict.
type Validator interface {
	Validate(ctx context.Context, in ValidateInput) (*ValidationVerdict, error)
}

// ValidateInput is the narrow contract between the validate stage and the
// validation runner.
type ValidateInput struct {
	RepoPath        string
	ArtifactFile    string
	Category        ProjectCategory
	Endpoint        Endpoint
	WarmupSeconds   int
	SuccessPatterns []string
	FailurePatterns []string
	Stack           []string
}
