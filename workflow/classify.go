// ABOUTME: Failure categories, the Classification value type, and the oracle-backed classifier.
// ABOUTME: Only artifact defects and unclassified failures are retryable; the rest short-circuit.
package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Category is the failure category assigned to an artifact-level failure.
// The category determines retry eligibility.
type Category string

const (
	// ProjectDefect means the target's own code or config is broken
	// (syntax errors, missing lock files, failing tests). Not retryable:
	// regenerating the Dockerfile cannot fix the project.
	ProjectDefect Category = "project_defect"

	// ArtifactDefect means the generated Dockerfile itself is wrong
	// (bad base image, missing COPY, wrong command). Retryable.
	ArtifactDefect Category = "artifact_defect"

	// EnvironmentDefect means the local execution environment is broken
	// (daemon down, disk full, network unreachable). Not retryable.
	EnvironmentDefect Category = "environment_defect"

	// Unclassified means the oracle could not decide. Retryable as an
	// optimistic default.
	Unclassified Category = "unclassified"
)

// Retryable reports whether the engine may spend retry budget on a failure
// of this category.
func (c Category) Retryable() bool {
	return c == ArtifactDefect || c == Unclassified
}

// ParseCategory normalizes an oracle-provided category string. Unknown
// values map to Unclassified.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case ProjectDefect:
		return ProjectDefect
	case ArtifactDefect:
		return ArtifactDefect
	case EnvironmentDefect:
		return EnvironmentDefect
	default:
		return Unclassified
	}
}

// Classification is the structured verdict on a single failure.
type Classification struct {
	Category     Category `json:"category"`
	SuggestedFix string   `json:"suggested_fix"`
	Reason       string   `json:"reason"`
}

// Retryable reports retry eligibility of the classified failure.
func (c Classification) Retryable() bool {
	return c.Category.Retryable()
}

// Classifier assigns a Category to raw failure text. Implementations must be
// side-effect free and safe to call repeatedly for the same input.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// ClassifyInput carries everything the classifier may consider.
type ClassifyInput struct {
	FailureText string
	RuntimeLogs string
	Stack       []string
}

// ClassifyOrDefault runs the classifier and degrades to an optimistic
// Unclassified verdict when the oracle is unavailable, logging a warning.
// The engine's short-circuit logic therefore never depends on error paths.
func ClassifyOrDefault(ctx context.Context, c Classifier, in ClassifyInput) Classification {
	if c == nil {
		return Classification{Category: Unclassified, Reason: "no classifier configured"}
	}
	cls, err := c.Classify(ctx, in)
	if err != nil {
		log.Printf("component=workflow.classify action=degrade err=%v", err)
		return Classification{Category: Unclassified, Reason: fmt.Sprintf("classifier unavailable: %v", err)}
	}
	return cls
}

// OracleClassifier implements Classifier on top of the text-generation
// oracle.
type OracleClassifier struct {
	Oracle Oracle
}

type classifierDoc struct {
	Category     string `json:"category"`
	SuggestedFix string `json:"suggested_fix"`
	Reason       string `json:"reason"`
}

// Classify asks the oracle to bin the failure into one of the four
// categories. The oracle's answer is normalized through ParseCategory so a
// malformed category degrades to Unclassified rather than an error.
func (o *OracleClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	prompt := buildClassifyPrompt(in)
	resp, err := o.Oracle.Complete(ctx, OracleRequest{
		Task:   "classify",
		System: classifySystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify oracle: %w", err)
	}
	var doc classifierDoc
	if err := decodeOracleJSON(resp.Text, &doc); err != nil {
		return Classification{}, fmt.Errorf("classify decode: %w", err)
	}
	return Classification{
		Category:     ParseCategory(doc.Category),
		SuggestedFix: doc.SuggestedFix,
		Reason:       doc.Reason,
	}, nil
}

const classifySystemPrompt = `You classify containerization failures. Respond with a single JSON object:
{"category": "project_defect"|"artifact_defect"|"environment_defect"|"unclassified", "suggested_fix": "...", "reason": "..."}
project_defect: the repository's own code or configuration is broken.
artifact_defect: the generated Dockerfile is wrong (base image, COPY paths, commands).
environment_defect: the local machine is the problem (daemon down, disk full, no network).
unclassified: cannot decide.`

func buildClassifyPrompt(in ClassifyInput) string {
	var b strings.Builder
	if len(in.Stack) > 0 {
		fmt.Fprintf(&b, "Technology stack: %s\n\n", strings.Join(in.Stack, ", "))
	}
	fmt.Fprintf(&b, "Failure output:\n%s\n", in.FailureText)
	if in.RuntimeLogs != "" {
		fmt.Fprintf(&b, "\nContainer logs:\n%s\n", in.RuntimeLogs)
	}
	return b.String()
}
