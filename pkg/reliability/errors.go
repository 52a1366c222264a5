// Package reliability implements the per-agent Reliability Envelope: retry
// with exponential backoff, a per-agent circuit breaker, and the statistics
// counters that back both.
package reliability

import "errors"

// Sentinel error kinds the rest of the pipeline classifies against with
// errors.Is, mirroring the teacher's services.ValidationError sentinel
// pattern and pkg/mcp/recovery.go's classify-then-dispatch shape.
var (
	// ErrTransient marks an error the Envelope should retry (network
	// timeouts, connection resets, HTTP 429/5xx, "overloaded").
	ErrTransient = errors.New("reliability: transient error")
	// ErrCircuitOpen is returned immediately when an agent's circuit is
	// OPEN or when a concurrent probe is already in flight during HALF_OPEN.
	ErrCircuitOpen = errors.New("reliability: circuit open")
	// ErrInvalidInput marks a non-retryable caller error (bad task input,
	// missing required context field).
	ErrInvalidInput = errors.New("reliability: invalid input")
	// ErrInsufficientCredits marks the credit gate rejecting a run.
	ErrInsufficientCredits = errors.New("reliability: insufficient credits")
	// ErrProviderSchema marks a response that didn't parse into the
	// expected typed result even after best-effort degraded conversion.
	ErrProviderSchema = errors.New("reliability: provider response schema mismatch")
	// ErrCancelled marks operation cancellation (never retried).
	ErrCancelled = errors.New("reliability: cancelled")
	// ErrFatal marks a stage failure that must abort the whole run.
	ErrFatal = errors.New("reliability: fatal stage failure")
)

// StatusError wraps an HTTP-like status code alongside one of the sentinel
// kinds above, so callers can both classify (errors.Is) and inspect the code
// (errors.As) without the reliability package knowing about HTTP.
type StatusError struct {
	StatusCode int
	Kind       error
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *StatusError) Unwrap() error { return e.Kind }

// NewStatusError builds a StatusError, classifying the status code into
// ErrTransient (429, 5xx) or ErrInvalidInput (other 4xx) automatically.
func NewStatusError(statusCode int, message string) *StatusError {
	kind := ErrInvalidInput
	if statusCode == 429 || statusCode >= 500 {
		kind = ErrTransient
	}
	return &StatusError{StatusCode: statusCode, Kind: kind, Message: message}
}
