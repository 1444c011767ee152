// ABOUTME: Synchronous chat-completions client on the OpenAI SDK with base URL support.
// ABOUTME: Wraps every call in the package retry policy and maps SDK errors to the local hierarchy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultMaxTokens = 4096

// Client makes synchronous completion calls against any OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	api     openai.Client
	model   string
	retry   RetryPolicy
	verbose bool
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithVerbose enables per-call logging.
func WithVerbose(v bool) Option {
	return func(c *Client) { c.verbose = v }
}

// NewClient creates a client for the given API key, default model, and
// optional base URL (empty = api.openai.com).
func NewClient(apiKey, model, baseURL string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, NewConfigurationError("missing API key")
	}
	if model == "" {
		return nil, NewConfigurationError("missing model name")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	c := &Client{
		api:   openai.NewClient(reqOpts...),
		model: model,
		retry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete sends the request and returns the full reply. Transient provider
// failures (rate limits, 5xx, transport errors) are retried with backoff;
// permanent failures return immediately.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               model,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	params.Messages = messages

	policy := c.retry
	if policy.OnRetry == nil {
		task := req.Task
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			log.Printf("component=llm action=retry task=%s attempt=%d delay=%s err=%v", task, attempt+1, delay, err)
		}
	}

	var resp *openai.ChatCompletion
	start := time.Now()
	err := Retry(ctx, policy, func() error {
		var callErr error
		resp, callErr = c.api.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return mapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("completion task=%s: %w", req.Task, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ClientError{Message: fmt.Sprintf("completion task=%s returned no choices", req.Task)}
	}

	out := &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if c.verbose {
		log.Printf("component=llm action=complete task=%s model=%s tokens=%d elapsed=%s",
			req.Task, out.Model, out.Usage.Total(), time.Since(start).Round(time.Millisecond))
	}
	return out, nil
}

// mapError converts SDK errors to the local hierarchy so retry decisions and
// the workflow's transience checks stay SDK-independent.
func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := &ProviderError{
			ClientError: ClientError{Message: "chat completion failed", Cause: err},
			StatusCode:  apiErr.StatusCode,
		}
		if apiErr.Response != nil {
			if ra := apiErr.Response.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.ParseFloat(ra, 64); perr == nil {
					pe.RetryAfter = secs
				}
			}
		}
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &NetworkError{ClientError{Message: "chat completion transport failure", Cause: err}}
}
