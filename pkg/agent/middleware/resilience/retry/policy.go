// Package retry provides retry logic with exponential backoff for resilient LLM calls.
package retry

import (
	"context"
	"errors"
	"time"

	"agentflow/pkg/agent/llmerrors"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts int           `json:"max_attempts"` // Maximum number of attempts (including initial)
	BaseDelay   time.Duration `json:"base_delay"`   // Delay before the first retry; doubled per attempt
	MaxDelay    time.Duration `json:"max_delay"`    // Cap on the computed delay
}

// DefaultConfig provides the default retry budget.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    60 * time.Second,
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ShouldRetry reports whether err is worth another attempt: transient
// failures (network, timeout, 5xx, empty response) and rate limits.
// Everything else, including caller cancellation, propagates immediately.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	// Per-request timeouts surface as DeadlineExceeded while the parent is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return llmerrors.IsTransientNetworkError(err)
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Sleep  SleepFunc
	Config Config
}

// NewPolicy creates a retry policy, filling zero fields from DefaultConfig.
func NewPolicy(config Config) *Policy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Policy{Config: config, Sleep: Sleep}
}

// WithSleep replaces the sleep function, used by tests to avoid real waits.
func (p *Policy) WithSleep(fn SleepFunc) *Policy {
	p.Sleep = fn
	return p
}

// Backoff returns base * 2^(attempt-1) capped at MaxDelay, where attempt is
// the number of the attempt that just failed (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Config.MaxDelay {
			return p.Config.MaxDelay
		}
	}
	if delay > p.Config.MaxDelay {
		return p.Config.MaxDelay
	}
	return delay
}

// DelayFor returns the wait before retrying after err failed the given attempt.
// An explicit retry-after hint on the error overrides the computed backoff.
func (p *Policy) DelayFor(err error, attempt int) time.Duration {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) && llmErr.RetryAfter > 0 {
		return llmErr.RetryAfter
	}
	return p.Backoff(attempt)
}
