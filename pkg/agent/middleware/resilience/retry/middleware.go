package retry

import (
	"context"
	"fmt"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
	"agentflow/pkg/logx"
)

// Middleware returns a middleware that retries retryable failures according to policy.
// Once the attempt budget is spent it returns an ErrorTypeExhaustedRetries error
// wrapping the last failure.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	if policy == nil {
		policy = NewPolicy(DefaultConfig)
	}
	if logger == nil {
		logger = logx.NewLogger("retry")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if ctx.Err() != nil {
						return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					}
					if !ShouldRetry(err) {
						return llm.CompletionResponse{}, err //nolint:wrapcheck // pass through unchanged
					}
					if attempt == policy.Config.MaxAttempts {
						break
					}

					delay := policy.DelayFor(err, attempt)
					logger.Warn("🔁 %s attempt %d/%d failed (%s), retrying in %s",
						next.GetModelName(), attempt, policy.Config.MaxAttempts, llmerrors.TypeOf(err), delay)
					if sleepErr := policy.Sleep(ctx, delay); sleepErr != nil {
						return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", sleepErr)
					}
				}
				return llm.CompletionResponse{}, llmerrors.NewExhaustedRetriesError(lastErr, policy.Config.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}
