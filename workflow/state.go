// ABOUTME: RunState is the single mutable record threaded through the workflow engine.
// ABOUTME: Defines project profiles, build plans, ledgers, and the StateUpdate partial-update type.
package workflow

import (
	"time"
)

// ProjectCategory describes the runtime shape of the target project.
type ProjectCategory string

const (
	CategoryService ProjectCategory = "service"
	CategoryScript  ProjectCategory = "script"
	CategoryUnknown ProjectCategory = ""
)

// Endpoint is a best-effort guess at a health-probe target inside the
// running container. Port 0 means no endpoint was detected.
type Endpoint struct {
	Path string `json:"path" yaml:"path"`
	Port int    `json:"port" yaml:"port"`
}

// ProjectProfile is the engine's current belief about the target repository.
// It is produced by the analyze stage and replaced (never merged) when a
// reflection requests re-analysis.
type ProjectProfile struct {
	Language        string          `json:"language"`
	Framework       string          `json:"framework"`
	Stack           []string        `json:"stack"`
	Category        ProjectCategory `json:"category"`
	BuildCommand    string          `json:"build_command"`
	StartCommand    string          `json:"start_command"`
	BaseImage       string          `json:"base_image"`
	HealthEndpoint  Endpoint        `json:"health_endpoint"`
	WarmupSeconds   int             `json:"warmup_seconds"`
	SuccessPatterns []string        `json:"success_patterns"`
	FailurePatterns []string        `json:"failure_patterns"`
	Notes           string          `json:"notes"`
}

// BuildPlan is the structured Dockerfile strategy produced by the plan stage.
type BuildPlan struct {
	BaseImageApproach string   `json:"base_image_approach"`
	StagingApproach   string   `json:"staging_approach"`
	MultiStage        bool     `json:"multi_stage"`
	MinimalRuntime    bool     `json:"minimal_runtime"`
	StaticLinking     bool     `json:"static_linking"`
	Risks             []string `json:"risks"`
	Notes             string   `json:"notes"`
}

// Reflection is the structured diagnosis produced after a classified failure.
type Reflection struct {
	RootCause          string   `json:"root_cause"`
	FixDirectives      []string `json:"fix_directives"`
	Confidence         string   `json:"confidence"`
	SuggestedBaseImage string   `json:"suggested_base_image"`
	ChangeStrategy     bool     `json:"change_strategy"`
	StrategyHint       string   `json:"strategy_hint"`
	NeedsReanalysis    bool     `json:"needs_reanalysis"`
	FocusHint          string   `json:"focus_hint"`
}

// ReviewVerdict is the review stage's judgment of the current artifact.
// A non-empty FixedArtifact means the reviewer supplied a self-contained
// correction that can be adopted without consuming the retry budget.
type ReviewVerdict struct {
	DefectFound   bool     `json:"defect_found"`
	Issues        []string `json:"issues"`
	FixedArtifact string   `json:"fixed_dockerfile"`
}

// ValidationVerdict is the result of building and running the artifact.
type ValidationVerdict struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	ArtifactSize   int64           `json:"artifact_size_bytes"`
	Classification *Classification `json:"classification,omitempty"`
	RuntimeLogs    string          `json:"runtime_logs,omitempty"`
}

// RetryAttempt is one entry in the append-only retry ledger. Entries are
// appended by the reflect stage, exactly one per completed failure analysis.
type RetryAttempt struct {
	Attempt      int       `json:"attempt"`
	Artifact     string    `json:"artifact"`
	ErrorSummary string    `json:"error_summary"`
	Category     Category  `json:"category"`
	WhatWasTried string    `json:"what_was_tried"`
	WhyItFailed  string    `json:"why_it_failed"`
	Lesson       string    `json:"lesson"`
	At           time.Time `json:"at"`
}

// UsageRecord tracks per-stage oracle token usage. Purely observational.
type UsageRecord struct {
	Stage            StageName `json:"stage"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	At               time.Time `json:"at"`
}

// RunState is the canonical mutable state for one workflow run. It is owned
// exclusively by the engine; stages describe changes through StateUpdate and
// never touch the state directly.
type RunState struct {
	// Target is the path to the subject repository. Immutable for the run.
	Target string

	Profile    *ProjectProfile
	FileList   []string
	FileDigest string

	CurrentArtifact  string
	PreviousArtifact string

	Plan *BuildPlan

	LastError       string
	LastErrorDetail *Classification

	RetryCount int
	MaxRetries int

	RetryLedger []RetryAttempt
	UsageLedger []UsageRecord

	NeedsReanalysis bool
	ReanalysisFocus string

	// Per-cycle carriers consumed by the engine's routing logic.
	Review     *ReviewVerdict
	Validation *ValidationVerdict
	Reflection *Reflection

	// Observational narrative from the most recent generate call.
	LastRationale  string
	LastChanges    []string
	LastConfidence string
}

// NewRunState creates the state for a fresh run with an empty ledger and no
// artifact.
func NewRunState(target string, maxRetries int) *RunState {
	return &RunState{
		Target:     target,
		MaxRetries: maxRetries,
	}
}

// BudgetExhausted reports whether the run may not enter another retry cycle.
func (s *RunState) BudgetExhausted() bool {
	return s.RetryCount >= s.MaxRetries
}

// StateUpdate is a partial update produced by a stage and applied by the
// engine between stage executions. Nil pointer fields mean "no change".
type StateUpdate struct {
	Profile    *ProjectProfile
	FileList   []string
	FileDigest *string

	Artifact         *string
	PreviousArtifact *string

	Plan *BuildPlan

	LastError       *string
	LastErrorDetail *Classification
	ClearLastError  bool

	NeedsReanalysis *bool
	ReanalysisFocus *string

	Review          *ReviewVerdict
	Validation      *ValidationVerdict
	Reflection      *Reflection
	ClearReflection bool

	// ProfileCategory revises only the category of the current profile,
	// used when generation reclassifies service vs script.
	ProfileCategory *ProjectCategory

	LedgerEntry *RetryAttempt
	Usage       []UsageRecord

	Rationale  *string
	Changes    []string
	Confidence *string
}

// Apply merges the update into the state. The retry ledger and usage ledger
// are append-only: entries are added, never replaced.
func (u *StateUpdate) Apply(s *RunState) {
	if u == nil {
		return
	}
	if u.Profile != nil {
		s.Profile = u.Profile
	}
	if u.FileList != nil {
		s.FileList = u.FileList
	}
	if u.FileDigest != nil {
		s.FileDigest = *u.FileDigest
	}
	if u.Artifact != nil {
		s.CurrentArtifact = *u.Artifact
	}
	if u.PreviousArtifact != nil {
		s.PreviousArtifact = *u.PreviousArtifact
	}
	if u.Plan != nil {
		s.Plan = u.Plan
	}
	if u.ClearLastError {
		s.LastError = ""
		s.LastErrorDetail = nil
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	if u.LastErrorDetail != nil {
		s.LastErrorDetail = u.LastErrorDetail
	}
	if u.NeedsReanalysis != nil {
		s.NeedsReanalysis = *u.NeedsReanalysis
	}
	if u.ReanalysisFocus != nil {
		s.ReanalysisFocus = *u.ReanalysisFocus
	}
	if u.Review != nil {
		s.Review = u.Review
	}
	if u.Validation != nil {
		s.Validation = u.Validation
	}
	if u.Reflection != nil {
		s.Reflection = u.Reflection
	}
	if u.ClearReflection {
		s.Reflection = nil
	}
	if u.ProfileCategory != nil && s.Profile != nil {
		s.Profile.Category = *u.ProfileCategory
	}
	if u.LedgerEntry != nil {
		s.RetryLedger = append(s.RetryLedger, *u.LedgerEntry)
	}
	if len(u.Usage) > 0 {
		s.UsageLedger = append(s.UsageLedger, u.Usage...)
	}
	if u.Rationale != nil {
		s.LastRationale = *u.Rationale
	}
	if u.Changes != nil {
		s.LastChanges = u.Changes
	}
	if u.Confidence != nil {
		s.LastConfidence = *u.Confidence
	}
}

// ptr is a small helper for building StateUpdate literals.
func ptr[T any](v T) *T { return &v }
