package models

import "time"

// RetryMetrics are process-wide, monotonic counters kept per agent_id
// (spec §3, §4.A "CRITICAL CONTRACT").
type RetryMetrics struct {
	AgentID               AgentID
	TotalAttempts         int64
	TotalRetries          int64
	SuccessfulOperations  int64
	SuccessfulRetries     int64
	FailedOperations      int64
}

// OverallSuccessRate is the headline metric: successful / all completed
// outer operations. Returns 0 when no operations have completed.
func (m RetryMetrics) OverallSuccessRate() float64 {
	total := m.SuccessfulOperations + m.FailedOperations
	if total == 0 {
		return 0
	}
	return float64(m.SuccessfulOperations) / float64(total)
}

// RetrySuccessRate is successful-after-retry / total retries. Returns 0
// when there have been no retries, never divides by zero.
func (m RetryMetrics) RetrySuccessRate() float64 {
	if m.TotalRetries == 0 {
		return 0
	}
	return float64(m.SuccessfulRetries) / float64(m.TotalRetries)
}

// CircuitBreakerState is the lifecycle state of a per-agent circuit (spec §4.A).
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "CLOSED"
	CircuitOpen     CircuitBreakerState = "OPEN"
	CircuitHalfOpen CircuitBreakerState = "HALF_OPEN"
)

// CircuitState is the per-agent circuit breaker state (spec §3).
type CircuitState struct {
	AgentID             AgentID
	State               CircuitBreakerState
	ConsecutiveFailures int
	OpenedAt            *time.Time
	TripsTotal          int64
}
