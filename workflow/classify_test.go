// ABOUTME: Tests for failure categories, classification parsing, and the
// ABOUTME: degrade-to-Unclassified behavior when the oracle is unavailable.
package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestCategoryRetryable(t *testing.T) {
	tests := []struct {
		category Category
		want     bool
	}{
		{ProjectDefect, false},
		{ArtifactDefect, true},
		{EnvironmentDefect, false},
		{Unclassified, true},
	}
	for _, tt := range tests {
		if got := tt.category.Retryable(); got != tt.want {
			t.Errorf("%v.Retryable() = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"project_defect", ProjectDefect},
		{"ARTIFACT_DEFECT", ArtifactDefect},
		{"  environment_defect  ", EnvironmentDefect},
		{"unclassified", Unclassified},
		{"something else", Unclassified},
		{"", Unclassified},
	}
	for _, tt := range tests {
		if got := ParseCategory(tt.in); got != tt.want {
			t.Errorf("ParseCategory(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// stubClassifier returns a fixed result or error.
type stubClassifier struct {
	cls Classification
	err error
}

func (s *stubClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	return s.cls, s.err
}

func TestClassifyOrDefault(t *testing.T) {
	ctx := context.Background()

	got := ClassifyOrDefault(ctx, &stubClassifier{cls: Classification{Category: ProjectDefect}}, ClassifyInput{})
	if got.Category != ProjectDefect {
		t.Errorf("category = %v, want %v", got.Category, ProjectDefect)
	}

	got = ClassifyOrDefault(ctx, &stubClassifier{err: errors.New("oracle down")}, ClassifyInput{})
	if got.Category != Unclassified {
		t.Errorf("degraded category = %v, want %v", got.Category, Unclassified)
	}
	if !got.Retryable() {
		t.Error("degraded classification must stay retryable")
	}

	got = ClassifyOrDefault(ctx, nil, ClassifyInput{})
	if got.Category != Unclassified {
		t.Errorf("nil-classifier category = %v, want %v", got.Category, Unclassified)
	}
}

// stubOracle returns canned text per call.
type stubOracle struct {
	texts []string
	calls int
	err   error
	last  OracleRequest
}

func (s *stubOracle) Complete(ctx context.Context, req OracleRequest) (*OracleResult, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	text := s.texts[s.calls%len(s.texts)]
	s.calls++
	return &OracleResult{Text: text, PromptTokens: 10, CompletionTokens: 5}, nil
}

func TestOracleClassifier(t *testing.T) {
	oracle := &stubOracle{texts: []string{
		"```json\n{\"category\": \"artifact_defect\", \"suggested_fix\": \"pin the base image\", \"reason\": \"tag not found\"}\n```",
	}}
	c := &OracleClassifier{Oracle: oracle}

	got, err := c.Classify(context.Background(), ClassifyInput{
		FailureText: "manifest for node:99 not found",
		Stack:       []string{"node", "express"},
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Category != ArtifactDefect {
		t.Errorf("category = %v, want %v", got.Category, ArtifactDefect)
	}
	if got.SuggestedFix != "pin the base image" {
		t.Errorf("suggested fix = %q", got.SuggestedFix)
	}
	if oracle.last.Task != "classify" {
		t.Errorf("task = %q, want classify", oracle.last.Task)
	}
}

func TestOracleClassifierUnknownCategory(t *testing.T) {
	oracle := &stubOracle{texts: []string{`{"category": "cosmic_rays", "reason": "??"}`}}
	c := &OracleClassifier{Oracle: oracle}

	got, err := c.Classify(context.Background(), ClassifyInput{FailureText: "x"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Category != Unclassified {
		t.Errorf("category = %v, want %v", got.Category, Unclassified)
	}
}
