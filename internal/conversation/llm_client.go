package conversation

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is an internal message representation that can include system prompts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Total returns TotalTokens, or the sum of input and output when the provider omits it.
func (u TokenUsage) Total() int32 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is the completion gateway. Each call is a single attempt; the
// engine owns timeouts and never retries a failed completion.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// ProviderNamer is implemented by clients that can label metrics and spans.
type ProviderNamer interface {
	Provider() string
}

func providerName(c LLMClient) string {
	if named, ok := c.(ProviderNamer); ok {
		return named.Provider()
	}
	return "unknown"
}
