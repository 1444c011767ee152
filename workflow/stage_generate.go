// ABOUTME: Generate stage: produces the candidate Dockerfile, fresh or as a surgical edit.
// ABOUTME: Surgical mode is chosen when a previous artifact and a reflection both exist.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateStage produces a new candidate artifact. Fresh mode works from the
// profile, digest, and plan; surgical mode revises the previous artifact
// along the reflection's fix directives, preserving working content.
type GenerateStage struct {
	Oracle Oracle
	Tags   TagLookup
}

func (s *GenerateStage) Name() StageName { return StageGenerate }

const generateSystemPrompt = `You write production-quality Dockerfiles. Respond with a single JSON object:
{"dockerfile": "...", "project_category": "service"|"script", "rationale": "...",
 "changes": ["..."], "confidence": "high"|"medium"|"low"}
The dockerfile value is the complete file content. project_category may revise the
earlier classification if the repository evidence contradicts it.`

type generateDoc struct {
	Dockerfile      string   `json:"dockerfile"`
	ProjectCategory string   `json:"project_category"`
	Rationale       string   `json:"rationale"`
	Changes         []string `json:"changes"`
	Confidence      string   `json:"confidence"`
}

func (s *GenerateStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	surgical := st.PreviousArtifact != "" && st.Reflection != nil

	var prompt string
	if surgical {
		prompt = s.surgicalPrompt(st)
	} else {
		prompt = s.freshPrompt(ctx, st)
	}

	resp, err := s.Oracle.Complete(ctx, OracleRequest{
		Task:   string(StageGenerate),
		System: generateSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("generate oracle: %w", err)
	}

	var doc generateDoc
	if err := decodeOracleJSON(resp.Text, &doc); err != nil {
		return nil, fmt.Errorf("generate decode: %w", err)
	}
	if strings.TrimSpace(doc.Dockerfile) == "" {
		return nil, fmt.Errorf("generate: oracle returned an empty dockerfile")
	}

	update := StateUpdate{
		Artifact:        ptr(doc.Dockerfile),
		ClearLastError:  true,
		ClearReflection: true,
		Rationale:       ptr(doc.Rationale),
		Changes:         doc.Changes,
		Confidence:      ptr(doc.Confidence),
		Usage:           []UsageRecord{usageRecord(StageGenerate, resp)},
	}
	switch ProjectCategory(doc.ProjectCategory) {
	case CategoryService:
		update.ProfileCategory = ptr(CategoryService)
	case CategoryScript:
		update.ProfileCategory = ptr(CategoryScript)
	}

	mode := "fresh"
	if surgical {
		mode = "surgical"
	}
	return &Outcome{Update: update, Notes: fmt.Sprintf("%s, confidence=%s", mode, doc.Confidence)}, nil
}

// freshPrompt builds the from-scratch generation prompt. It carries at most
// a single prior-error hint; the full ledger narrative only reaches fresh
// generation through whatever the plan already encodes.
func (s *GenerateStage) freshPrompt(ctx context.Context, st *RunState) string {
	var b strings.Builder
	b.WriteString("Write a Dockerfile for this repository.\n\n")
	if st.Profile != nil {
		profJSON, _ := json.Marshal(st.Profile)
		fmt.Fprintf(&b, "Project profile:\n%s\n\n", profJSON)
	}
	if st.Plan != nil {
		planJSON, _ := json.Marshal(st.Plan)
		fmt.Fprintf(&b, "Build plan:\n%s\n\n", planJSON)
	}
	if st.FileDigest != "" {
		fmt.Fprintf(&b, "Key files:\n%s\n", st.FileDigest)
	}
	if tags := verifiedTags(ctx, s.Tags, st.Profile); len(tags) > 0 {
		fmt.Fprintf(&b, "Verified registry tags: %s\n\n", strings.Join(tags, ", "))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Avoid the previous failure: %s\n", firstLine(st.LastError))
	}
	return b.String()
}

// surgicalPrompt builds the revision prompt: previous artifact plus the
// reflection's directives. Working content must be preserved.
func (s *GenerateStage) surgicalPrompt(st *RunState) string {
	var b strings.Builder
	b.WriteString("Revise this Dockerfile. Change only what the diagnosis implicates and preserve everything that already works.\n\n")
	fmt.Fprintf(&b, "Current Dockerfile:\n%s\n\n", st.PreviousArtifact)
	r := st.Reflection
	fmt.Fprintf(&b, "Root cause of the failure: %s\n", r.RootCause)
	if len(r.FixDirectives) > 0 {
		b.WriteString("Apply these fixes in order:\n")
		for i, d := range r.FixDirectives {
			fmt.Fprintf(&b, "%d. %s\n", i+1, d)
		}
	}
	if r.SuggestedBaseImage != "" {
		fmt.Fprintf(&b, "Switch the base image to: %s\n", r.SuggestedBaseImage)
	}
	if r.ChangeStrategy && r.StrategyHint != "" {
		fmt.Fprintf(&b, "Change the overall build strategy: %s\n", r.StrategyHint)
	}
	if st.Profile != nil {
		profJSON, _ := json.Marshal(st.Profile)
		fmt.Fprintf(&b, "\nProject profile:\n%s\n", profJSON)
	}
	b.WriteString("\nList every change you made in the \"changes\" array.\n")
	return b.String()
}

// firstLine truncates multi-line error text to a single hint line.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
