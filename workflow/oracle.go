// ABOUTME: Narrow contract for the text-generation oracle consumed by the workflow stages.
// ABOUTME: Includes the fence-tolerant JSON decoder for structured oracle replies.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Oracle is the text-generation collaborator used by the analyze, plan,
// generate, review, reflect, and classify stages. Calls are synchronous;
// transient failures are retried by the implementation, permanent failures
// propagate as stage errors (never as artifact retries).
type Oracle interface {
	Complete(ctx context.Context, req OracleRequest) (*OracleResult, error)
}

// OracleRequest is one structured prompt. Task names the calling stage for
// logging and model routing; System and Prompt carry the instruction text.
type OracleRequest struct {
	Task   string
	System string
	Prompt string
}

// OracleResult is the oracle's reply plus token accounting.
type OracleResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// usageRecord builds a UsageRecord for the given stage from an oracle result.
func usageRecord(stage StageName, res *OracleResult) UsageRecord {
	return UsageRecord{
		Stage:            stage,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		At:               time.Now(),
	}
}

// decodeOracleJSON unmarshals an oracle reply into out. Models frequently
// wrap JSON in markdown fences or preamble text, so the decoder trims fences
// and falls back to the outermost brace-delimited object.
func decodeOracleJSON(text string, out any) error {
	candidate := strings.TrimSpace(text)
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		if idx := strings.LastIndex(candidate, "```"); idx >= 0 {
			candidate = candidate[:idx]
		}
		candidate = strings.TrimSpace(candidate)
	}
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("oracle reply contains no JSON object")
	}
	if err := json.Unmarshal([]byte(candidate[start:end+1]), out); err != nil {
		return fmt.Errorf("decode oracle JSON: %w", err)
	}
	return nil
}
