// ABOUTME: Request/response types for the structured text-generation client.
package llm

// Request is a single synchronous completion call.
type Request struct {
	Task        string  // caller label for logging (e.g. "analyze", "reflect")
	System      string  // system instruction
	Prompt      string  // user prompt
	Model       string  // override of the client default model; empty = default
	MaxTokens   int     // 0 = client default
	Temperature float64 // sampling temperature
}

// Response is the completed reply plus token accounting.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is per-call token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}
