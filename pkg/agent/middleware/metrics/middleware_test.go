package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
	"agentflow/pkg/agent/middleware/resilience/retry"
	"agentflow/pkg/telemetry"
)

type flakyClient struct {
	failures int
	calls    int
	usage    llm.Usage
}

func (f *flakyClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "503 service unavailable")
	}
	return llm.CompletionResponse{Content: "the answer", Usage: f.usage}, nil
}

func (f *flakyClient) GetModelName() string { return "model-x" }

type countingRecorder struct {
	successes int
	failures  int
}

func (c *countingRecorder) ObserveRequest(_, _ string, _, _ int, _ float64, success bool, _ string, _ time.Duration) {
	if success {
		c.successes++
	} else {
		c.failures++
	}
}

func (c *countingRecorder) ObserveStep(string, string, time.Duration) {}

func noSleep(context.Context, time.Duration) error { return nil }

func TestOneRecordAfterTransientFailures(t *testing.T) {
	base := &flakyClient{failures: 3, usage: llm.Usage{InputTokens: 120, OutputTokens: 30, Reported: true}}
	collector := telemetry.NewCollector()
	collector.Begin("run")
	rec := &countingRecorder{}

	client := llm.Chain(base,
		Middleware(Options{
			Role:     "planner",
			Recorder: rec,
			Sink:     collector,
			Price: func(role, model string, in, out int) float64 {
				assert.Equal(t, "planner", role)
				assert.Equal(t, "model-x", model)
				return float64(in+out) / 1000
			},
		}),
		retry.Middleware(retry.NewPolicy(retry.Config{MaxAttempts: 5}).WithSleep(noSleep), nil),
	)

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, 4, base.calls)

	records := collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 120, records[0].TokensIn)
	assert.Equal(t, 30, records[0].TokensOut)
	assert.InDelta(t, 0.15, records[0].CostUSD, 1e-9)
	assert.False(t, records[0].Estimated)
	assert.Equal(t, 1, rec.successes)
	assert.Equal(t, 0, rec.failures)
}

func TestFailedCallRecordsNothing(t *testing.T) {
	base := &flakyClient{failures: 10}
	collector := telemetry.NewCollector()
	rec := &countingRecorder{}
	client := llm.Chain(base,
		Middleware(Options{Role: "reviewer", Recorder: rec, Sink: collector}),
		retry.Middleware(retry.NewPolicy(retry.Config{MaxAttempts: 3}).WithSleep(noSleep), nil),
	)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.Error(t, err)
	assert.True(t, llmerrors.IsExhaustedRetries(err))
	assert.Empty(t, collector.Records())
	assert.Equal(t, 1, rec.failures)
}

func TestEstimatedUsageWhenNotReported(t *testing.T) {
	base := &flakyClient{}
	collector := telemetry.NewCollector()
	client := Middleware(Options{Role: "implementer", Sink: collector})(base)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("You are an implementer."),
		llm.NewUserMessage("Edit a.ts"),
	}))
	require.NoError(t, err)
	records := collector.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Estimated)
	assert.Positive(t, records[0].TokensIn)
	assert.Positive(t, records[0].TokensOut)
	assert.Zero(t, records[0].CostUSD)
}
