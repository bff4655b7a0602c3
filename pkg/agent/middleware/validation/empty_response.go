// Package validation provides response validation middleware for LLM clients.
package validation

import (
	"context"
	"strings"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
)

// EmptyResponse returns a middleware that turns a blank completion into an
// ErrorTypeEmptyResponse error, which the retry layer treats as transient.
func EmptyResponse() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err //nolint:wrapcheck // pass through unchanged
				}
				if strings.TrimSpace(resp.Content) == "" {
					return resp, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
						"model "+next.GetModelName()+" returned no content (stop_reason="+resp.StopReason+")")
				}
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
