// Package llmerrors provides structured error classification for LLM API interactions.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agentflow/pkg/utils"
)

// ErrorType represents different categories of LLM errors for retry logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, violates policy).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown

	// ErrorTypeExhaustedRetries is returned once the retry budget is spent.
	// It wraps the last underlying error and is never retried again.
	ErrorTypeExhaustedRetries
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeExhaustedRetries:
		return "exhausted_retries"
	default:
		return "invalid"
	}
}

// Error represents a classified LLM error with retry metadata.
type Error struct {
	Err        error         // Wrapped underlying error
	Message    string        // Human-readable error message
	BodyStub   string        // First portion of response body (guards PII)
	Type       ErrorType     // Classified error type
	StatusCode int           // HTTP status code if applicable
	RetryAfter time.Duration // Explicit server hint; zero when absent
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the retry middleware may attempt the call again.
// Only transient failures, empty responses and rate limits qualify.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified LLM error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified LLM error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified LLM error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// IsExhaustedRetries checks if the error reports a spent retry budget.
func IsExhaustedRetries(err error) bool {
	return Is(err, ErrorTypeExhaustedRetries)
}

// NewExhaustedRetriesError wraps the last attempt's error once the budget is spent.
func NewExhaustedRetriesError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeExhaustedRetries,
		Err:     cause,
		Message: fmt.Sprintf("giving up after %d attempts: %v", attempts, cause),
	}
}

// ClassifyStatus maps an HTTP status code onto an error type.
func ClassifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorTypeAuth
	case code == http.StatusRequestTimeout:
		return ErrorTypeTransient
	case code >= 500:
		// 529 (overloaded) lands here too.
		return ErrorTypeTransient
	case code >= 400:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}

// FromStatus builds a classified error for a provider failure that carried an HTTP status.
// The retry-after header value (seconds) wins over any hint found in the message.
func FromStatus(code int, retryAfterHeader string, cause error) *Error {
	e := &Error{
		Type:       ClassifyStatus(code),
		StatusCode: code,
		Err:        cause,
	}
	if cause != nil {
		e.Message = fmt.Sprintf("status %d: %s", code, SanitizePrompt(cause.Error(), 400))
		e.BodyStub = stub(cause.Error())
	}
	if d, ok := parseRetryAfterHeader(retryAfterHeader); ok {
		e.RetryAfter = d
	} else if cause != nil {
		e.RetryAfter = ParseRetryAfter(cause.Error())
	}
	return e
}

// Classify returns err as an *Error, classifying network-level failures that
// never reached an HTTP status. Already classified errors are returned as-is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if IsTransientNetworkError(err) {
		return NewErrorWithCause(ErrorTypeTransient, err, err.Error())
	}
	e := NewErrorWithCause(ErrorTypeUnknown, err, err.Error())
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		e.Type = ErrorTypeRateLimit
		e.RetryAfter = ParseRetryAfter(err.Error())
	case strings.Contains(lower, "overloaded") || strings.Contains(lower, "service unavailable"):
		e.Type = ErrorTypeTransient
	}
	return e
}

// IsTransientNetworkError reports connection-level failures: resets, refused
// connections, unexpected EOFs and network timeouts. Context cancellation is
// not transient.
func IsTransientNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "broken pipe")
}

var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry[ -]after|try again in)[:\s]*(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?`)

// ParseRetryAfter extracts an explicit delay hint such as "retry after 7 seconds",
// "retry-after: 3" or "try again in 1.5s" from error text. Zero means no hint.
func ParseRetryAfter(text string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return 0
	}
	unit := strings.ToLower(m[2])
	if strings.HasPrefix(unit, "m") {
		return time.Duration(n * float64(time.Millisecond))
	}
	return time.Duration(n * float64(time.Second))
}

func parseRetryAfterHeader(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func stub(body string) string {
	return utils.TruncateBytes(body, 256)
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// For large prompts, it returns first/last portions plus a hash of the full content.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	first := utils.TruncateBytes(prompt, halfMax)
	last := utils.TailBytes(prompt, halfMax)

	hash := sha256.Sum256([]byte(prompt))
	hashStr := fmt.Sprintf("%x", hash)[:16]

	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s",
		first, len(prompt), hashStr, last)
}
