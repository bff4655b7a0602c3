// Package llm defines the provider-neutral completion contract that every
// provider adapter and middleware implements.
package llm

import (
	"context"
	"strings"
)

// CompletionRole is the author of one message in a request.
type CompletionRole string

// Message authors.
const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens is the output budget used when a request does not set one.
	DefaultMaxTokens = 8192

	// TemperatureDefault suits classification, planning and review.
	TemperatureDefault = 0.3

	// TemperatureDeterministic is used for file content and command lines.
	TemperatureDeterministic = 0.2
)

// CompletionMessage is one turn of a request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest is a single provider call. Agents send exactly one
// system message and one user payload.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// System joins the request's system messages with blank lines.
func (r CompletionRequest) System() string {
	var parts []string
	for i := range r.Messages {
		if r.Messages[i].Role == RoleSystem {
			parts = append(parts, r.Messages[i].Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Text concatenates every non-system message. Token estimation uses it
// when the provider reports no usage.
func (r CompletionRequest) Text() string {
	var b strings.Builder
	for i := range r.Messages {
		if r.Messages[i].Role == RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.Messages[i].Content)
	}
	return b.String()
}

// Usage carries token counts as reported by the provider.
// Reported is false when the provider returned no usage block.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Reported     bool
}

// CompletionResponse is the provider's answer.
type CompletionResponse struct {
	Content    string
	StopReason string // "end_turn", "max_tokens", ...
	Usage      Usage
}

// LLMClient is implemented by provider adapters and middleware.
type LLMClient interface { //nolint:revive // package-qualified name reads llm.LLMClient
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model identifier used for pricing and metrics.
	GetModelName() string
}

// NewCompletionRequest returns a request with default budget and temperature.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage returns a system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage returns a user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}
