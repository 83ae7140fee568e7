package adapter

import "context"

// DefaultMaxTokens bounds completion length when a request does not set one.
const DefaultMaxTokens = 4096

// Request carries a single generation call to a backend.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int     // 0 means DefaultMaxTokens
	Temperature float64 // 0 means provider default
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response wraps a backend completion and its usage data.
type Response struct {
	Text  string
	Usage Usage
}

// Adapter defines the interface for text-generation backends.
type Adapter interface {
	// Generate sends a prompt to the backend and returns the completion.
	// Errors are classified for retry via IsTransient.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the backend identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// NormalizeUsage fills TotalTokens when the backend reports only the parts.
func NormalizeUsage(u Usage) Usage {
	if u.TotalTokens == 0 && (u.PromptTokens > 0 || u.CompletionTokens > 0) {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// AddUsage sums two usage records field by field.
func AddUsage(a Usage, b Usage) Usage {
	return Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
