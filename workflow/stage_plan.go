// ABOUTME: Plan stage: produces the structured Dockerfile strategy for the next generation cycle.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PlanStage asks the oracle for a build strategy informed by the profile,
// the file digest, verified registry tags, and lessons from earlier cycles.
type PlanStage struct {
	Oracle Oracle
	Tags   TagLookup
}

func (s *PlanStage) Name() StageName { return StagePlan }

const planSystemPrompt = `You plan Dockerfile build strategies. Respond with a single JSON object:
{"base_image_approach": "...", "staging_approach": "...", "multi_stage": true|false,
 "minimal_runtime": true|false, "static_linking": true|false, "risks": ["..."], "notes": "..."}`

func (s *PlanStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	var b strings.Builder
	if st.Profile != nil {
		profJSON, _ := json.Marshal(st.Profile)
		fmt.Fprintf(&b, "Project profile:\n%s\n\n", profJSON)
	}
	if st.FileDigest != "" {
		fmt.Fprintf(&b, "Key files:\n%s\n", st.FileDigest)
	}
	if tags := verifiedTags(ctx, s.Tags, st.Profile); len(tags) > 0 {
		fmt.Fprintf(&b, "Verified registry tags for the suggested base image: %s\n\n", strings.Join(tags, ", "))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "The previous attempt failed with: %s\n", st.LastError)
		if st.LastErrorDetail != nil {
			fmt.Fprintf(&b, "Classified as %s. Suggested fix: %s\n", st.LastErrorDetail.Category, st.LastErrorDetail.SuggestedFix)
		}
		b.WriteString("\n")
	}
	if lessons := ledgerLessons(st.RetryLedger); lessons != "" {
		fmt.Fprintf(&b, "Lessons from earlier attempts:\n%s\n", lessons)
	}

	resp, err := s.Oracle.Complete(ctx, OracleRequest{
		Task:   string(StagePlan),
		System: planSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("plan oracle: %w", err)
	}

	var plan BuildPlan
	if err := decodeOracleJSON(resp.Text, &plan); err != nil {
		return nil, fmt.Errorf("plan decode: %w", err)
	}

	return &Outcome{
		Update: StateUpdate{
			Plan:  &plan,
			Usage: []UsageRecord{usageRecord(StagePlan, resp)},
		},
		Notes: plan.BaseImageApproach,
	}, nil
}

// verifiedTags looks up registry tags for the profile's suggested base
// image. Lookup failures yield nothing; tags only ever inform prompts.
func verifiedTags(ctx context.Context, tags TagLookup, profile *ProjectProfile) []string {
	if tags == nil || profile == nil || profile.BaseImage == "" {
		return nil
	}
	image := profile.BaseImage
	if idx := strings.IndexByte(image, ':'); idx > 0 {
		image = image[:idx]
	}
	found := tags.Tags(ctx, image)
	const maxTags = 20
	if len(found) > maxTags {
		found = found[:maxTags]
	}
	return found
}

// ledgerLessons flattens the retry ledger into a compact bullet list.
func ledgerLessons(ledger []RetryAttempt) string {
	if len(ledger) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range ledger {
		fmt.Fprintf(&b, "- attempt %d (%s): tried %s; failed because %s; lesson: %s\n",
			a.Attempt, a.Category, a.WhatWasTried, a.WhyItFailed, a.Lesson)
	}
	return b.String()
}
