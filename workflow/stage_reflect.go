// ABOUTME: Reflect stage: turns a classified failure into a structured diagnosis and a ledger entry.
// ABOUTME: Always appends exactly one RetryAttempt and snapshots the artifact for surgical reuse.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReflectStage asks the oracle why the attempt failed and how to fix it.
// It runs only for retryable failures, so its cost is bounded by maxRetries.
// lastError is deliberately left in place here; the next successful generate
// clears it.
type ReflectStage struct {
	Oracle Oracle
}

func (s *ReflectStage) Name() StageName { return StageReflect }

const reflectSystemPrompt = `You diagnose containerization failures. Respond with a single JSON object:
{"root_cause": "...", "fix_directives": ["..."], "confidence": "high"|"medium"|"low",
 "suggested_base_image": "", "change_strategy": false, "strategy_hint": "",
 "needs_reanalysis": false, "focus_hint": "", "lesson": "..."}
fix_directives are ordered, specific edits to the Dockerfile. Set needs_reanalysis true only
when the project profile itself (language, category, commands) appears wrong, and describe in
focus_hint what to re-examine. lesson is one sentence future attempts should remember.`

type reflectionDoc struct {
	Reflection
	Lesson string `json:"lesson"`
}

func (s *ReflectStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed Dockerfile:\n%s\n\n", st.CurrentArtifact)
	fmt.Fprintf(&b, "Failure: %s\n", st.LastError)
	if st.LastErrorDetail != nil {
		fmt.Fprintf(&b, "Classified as %s (%s). Suggested fix: %s\n",
			st.LastErrorDetail.Category, st.LastErrorDetail.Reason, st.LastErrorDetail.SuggestedFix)
	}
	if st.Validation != nil && st.Validation.RuntimeLogs != "" {
		fmt.Fprintf(&b, "\nContainer logs:\n%s\n", st.Validation.RuntimeLogs)
	}
	if st.Profile != nil {
		profJSON, _ := json.Marshal(st.Profile)
		fmt.Fprintf(&b, "\nProject profile:\n%s\n", profJSON)
	}
	if lessons := ledgerLessons(st.RetryLedger); lessons != "" {
		fmt.Fprintf(&b, "\nEarlier attempts:\n%s", lessons)
	}

	resp, err := s.Oracle.Complete(ctx, OracleRequest{
		Task:   string(StageReflect),
		System: reflectSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("reflect oracle: %w", err)
	}

	var doc reflectionDoc
	if err := decodeOracleJSON(resp.Text, &doc); err != nil {
		return nil, fmt.Errorf("reflect decode: %w", err)
	}

	category := Unclassified
	if st.LastErrorDetail != nil {
		category = st.LastErrorDetail.Category
	}
	whatWasTried := st.LastRationale
	if len(st.LastChanges) > 0 {
		whatWasTried = strings.Join(st.LastChanges, "; ")
	}
	entry := RetryAttempt{
		Attempt:      st.RetryCount + 1,
		Artifact:     st.CurrentArtifact,
		ErrorSummary: summarize(st.LastError, 500),
		Category:     category,
		WhatWasTried: whatWasTried,
		WhyItFailed:  doc.RootCause,
		Lesson:       doc.Lesson,
		At:           time.Now(),
	}

	return &Outcome{
		Update: StateUpdate{
			Reflection:       &doc.Reflection,
			LedgerEntry:      &entry,
			PreviousArtifact: ptr(st.CurrentArtifact),
			NeedsReanalysis:  ptr(doc.NeedsReanalysis),
			ReanalysisFocus:  ptr(doc.FocusHint),
			Usage:            []UsageRecord{usageRecord(StageReflect, resp)},
		},
		Notes: fmt.Sprintf("confidence=%s reanalysis=%t", doc.Confidence, doc.NeedsReanalysis),
	}, nil
}

// summarize truncates text to at most n bytes on a line boundary when possible.
func summarize(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := text[:n]
	if idx := strings.LastIndexByte(cut, '\n'); idx > n/2 {
		cut = cut[:idx]
	}
	return cut + " [...]"
}
