// Package metrics provides the usage and cost middleware for LLM clients.
package metrics

import (
	"context"
	"time"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
	"agentflow/pkg/logx"
	"agentflow/pkg/telemetry"
	"agentflow/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor returns token usage for a finished call and whether the
// counts were estimated locally rather than reported by the provider.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int, estimated bool)

// DefaultUsageExtractor prefers provider-reported usage and otherwise counts
// with tiktoken (which itself falls back to the length heuristic).
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int, estimated bool) {
	if resp.Usage.Reported {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens, false
	}
	prompt := utils.CountTokens(req.System()) + utils.CountTokens(req.Text())
	return prompt, utils.CountTokens(resp.Content), true
}

// Options configures the middleware for one role.
type Options struct {
	Recorder telemetry.Recorder
	Sink     telemetry.Sink
	Price    telemetry.Pricer
	Usage    UsageExtractor
	Logger   *logx.Logger
	Role     string
}

// Middleware records one telemetry.Record per successful call and feeds
// Prometheus for every call. It must sit outside the retry layer so that
// failed attempts never produce records.
func Middleware(opts Options) llm.Middleware {
	if opts.Recorder == nil {
		opts.Recorder = telemetry.Nop()
	}
	if opts.Usage == nil {
		opts.Usage = DefaultUsageExtractor
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err != nil {
					opts.Recorder.ObserveRequest(opts.Role, model, 0, 0, 0, false, llmerrors.TypeOf(err).String(), duration)
					if opts.Logger != nil {
						opts.Logger.Debug("🎯 LLM Request: role=%s model=%s status=%s duration=%dms",
							opts.Role, model, statusError, duration.Milliseconds())
					}
					return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				promptTokens, completionTokens, estimated := opts.Usage(req, resp)
				var cost float64
				if opts.Price != nil {
					cost = opts.Price(opts.Role, model, promptTokens, completionTokens)
				}
				opts.Recorder.ObserveRequest(opts.Role, model, promptTokens, completionTokens, cost, true, "", duration)
				if opts.Sink != nil {
					opts.Sink.Append(telemetry.Record{
						Timestamp:  start,
						Role:       opts.Role,
						Model:      model,
						TokensIn:   promptTokens,
						TokensOut:  completionTokens,
						CostUSD:    cost,
						DurationMS: duration.Milliseconds(),
						Estimated:  estimated,
					})
				}
				if opts.Logger != nil {
					opts.Logger.Info("🎯 LLM Request: role=%s model=%s tokens=%d+%d=%d cost=$%.4f status=%s duration=%dms",
						opts.Role, model, promptTokens, completionTokens, promptTokens+completionTokens,
						cost, statusSuccess, duration.Milliseconds())
				}
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
