package reliability

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// IsRetryable reports whether err's cause chain represents a transient
// failure the Envelope should retry. Ported from the teacher's
// ClassifyError dispatch shape (pkg/mcp/recovery.go), generalized from
// MCP-transport errors to the spec's retryable-classification rule: read/
// connect/socket timeout, connection refused/reset, HTTP 429/5xx,
// "overloaded", or a generic I/O error on POST/GET. Auth errors, other 4xx,
// schema/parse errors, and cancellation are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is never retried — the caller asked to stop. A deadline
	// error is classified by isRetryableTimeout.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return isRetryableTimeout(err)
	}

	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrProviderSchema) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return errors.Is(statusErr.Kind, ErrTransient)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || isConnectionError(err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	return isConnectionError(err)
}

// isRetryableTimeout treats every deadline error as retryable, matching
// "read/connect/socket timeout" in the classification rule. A per-attempt
// provider-call timeout and the Envelope's own outer deadline both wrap
// context.DeadlineExceeded identically and are not told apart here; the
// Envelope checks its outer context before consulting IsRetryable, so an
// elapsed outer deadline is not retried.
func isRetryableTimeout(err error) bool { return true }

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
		"overloaded",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
