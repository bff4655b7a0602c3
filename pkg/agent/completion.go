package agent

import (
	"context"
	"fmt"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/proto"
)

// CompletionClient is the role-level call contract used by agents.
type CompletionClient interface {
	// Invoke sends one system prompt and payload for role and returns the raw text.
	// After the retry budget is spent the error is an llmerrors ExhaustedRetries error.
	Invoke(ctx context.Context, role proto.Role, systemPrompt, payload string) (string, error)

	// Model returns the model identifier serving role.
	Model(role proto.Role) string
}

// Client implements CompletionClient on top of an LLMClientFactory.
type Client struct {
	factory   *LLMClientFactory
	maxTokens int
}

// NewClient returns a CompletionClient backed by factory.
func NewClient(factory *LLMClientFactory) *Client {
	return &Client{
		factory:   factory,
		maxTokens: factory.config.Resilience.MaxOutputTokens,
	}
}

// Invoke implements CompletionClient.
func (c *Client) Invoke(ctx context.Context, role proto.Role, systemPrompt, payload string) (string, error) {
	client, err := c.factory.CreateClient(string(role))
	if err != nil {
		return "", fmt.Errorf("completion client for %s: %w", role, err)
	}

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(payload),
	})
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if role == proto.RoleImplementer {
		req.Temperature = llm.TemperatureDeterministic
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", role, err)
	}
	return resp.Content, nil
}

// Model implements CompletionClient.
func (c *Client) Model(role proto.Role) string {
	return c.factory.config.ModelFor(string(role))
}
