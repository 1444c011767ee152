// ABOUTME: Adapts the llm client to the workflow's Oracle contract.
package workflow

import (
	"context"

	"github.com/dockwright/dockwright/llm"
)

// LLMOracle implements Oracle on top of the llm completion client. The
// client's own retry policy handles transient provider failures, so
// permanent errors reaching the engine are genuine stage failures.
type LLMOracle struct {
	Client *llm.Client
}

var _ Oracle = (*LLMOracle)(nil)

func (o *LLMOracle) Complete(ctx context.Context, req OracleRequest) (*OracleResult, error) {
	resp, err := o.Client.Complete(ctx, llm.Request{
		Task:   req.Task,
		System: req.System,
		Prompt: req.Prompt,
	})
	if err != nil {
		return nil, err
	}
	return &OracleResult{
		Text:             resp.Text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
