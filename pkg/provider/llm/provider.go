// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g. OpenAI GPT models,
// Anthropic Claude, or a local Ollama instance) behind a uniform completion
// interface. The conversation agent performs one prompt-to-reply exchange per
// turn, so no streaming or tool-calling surface is exposed here.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Roles used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Request carries everything the LLM needs to produce a reply.
type Request struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as
	// a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the user role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the
	// provider default.
	MaxTokens int
}

// Response is the model's reply to a Request.
type Response struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req Request) (*Response, error)
}
