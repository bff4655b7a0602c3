package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
)

// scriptedClient returns the queued errors in order, then succeeds.
type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return llm.CompletionResponse{}, err
	}
	return llm.CompletionResponse{Content: "done"}, nil
}

func (s *scriptedClient) GetModelName() string { return "scripted" }

func recordingPolicy(cfg Config, waits *[]time.Duration) *Policy {
	return NewPolicy(cfg).WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestMiddlewareRecoversFromTransientFailures(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")
	base := &scriptedClient{errs: []error{transient, transient, transient}}
	var waits []time.Duration
	client := Middleware(recordingPolicy(Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}, &waits), nil)(base)

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 4, base.calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestMiddlewareExhaustsBudget(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "connection reset")
	base := &scriptedClient{errs: []error{transient, transient, transient, transient, transient, transient}}
	var waits []time.Duration
	client := Middleware(recordingPolicy(Config{MaxAttempts: 5}, &waits), nil)(base)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.Error(t, err)
	assert.True(t, llmerrors.IsExhaustedRetries(err))
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 5, base.calls)
	assert.Len(t, waits, 4, "no sleep after the final attempt")
}

func TestMiddlewareRateLimitUsesHint(t *testing.T) {
	limited := &llmerrors.Error{Type: llmerrors.ErrorTypeRateLimit, StatusCode: 429, RetryAfter: 9 * time.Second}
	unhinted := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "slow down")
	base := &scriptedClient{errs: []error{limited, unhinted}}
	var waits []time.Duration
	client := Middleware(recordingPolicy(Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}, &waits), nil)(base)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{9 * time.Second, 2 * time.Second}, waits)
}

func TestMiddlewareDoesNotRetryPermanentErrors(t *testing.T) {
	auth := llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid key")
	base := &scriptedClient{errs: []error{auth}}
	var waits []time.Duration
	client := Middleware(recordingPolicy(Config{MaxAttempts: 5}, &waits), nil)(base)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.Error(t, err)
	assert.Same(t, auth, err)
	assert.Equal(t, 1, base.calls)
	assert.Empty(t, waits)
}

func TestMiddlewareStopsWhenSleepCancelled(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")
	base := &scriptedClient{errs: []error{transient, transient}}
	policy := NewPolicy(Config{MaxAttempts: 5}).WithSleep(func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	})
	client := Middleware(policy, nil)(base)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, base.calls)
}
