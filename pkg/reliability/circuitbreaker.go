package reliability

import (
	"sync"
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// CircuitBreakerConfig holds the process-wide circuit parameters (spec §4.A
// — these are not per-agent, only the failure counters are).
type CircuitBreakerConfig struct {
	FailureThreshold     int
	OpenDuration         time.Duration
	HalfOpenProbeTimeout time.Duration
}

// CircuitBreaker is a single agent's circuit state machine: CLOSED ->
// (consecutive failures reach threshold) -> OPEN -> (open_duration elapses)
// -> HALF_OPEN -> (probe succeeds) -> CLOSED, or (probe fails) -> OPEN.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    CircuitBreakerConfig
	state  models.CircuitState
	probed bool // true while a HALF_OPEN probe is in flight
}

// NewCircuitBreaker returns a CLOSED circuit for agentID.
func NewCircuitBreaker(agentID models.AgentID, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg,
		state: models.CircuitState{AgentID: agentID, State: models.CircuitClosed},
	}
}

// Restore seeds the breaker from a persisted state (on process startup).
func (cb *CircuitBreaker) Restore(state models.CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = state
}

// Allow decides whether a call may proceed right now. It returns
// ErrCircuitOpen if the circuit is OPEN and open_duration hasn't elapsed, or
// if the circuit is HALF_OPEN and a probe is already in flight. A true
// return with no error means the caller holds the probe slot (only
// meaningful in HALF_OPEN; callers must call RecordResult exactly once).
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state.State {
	case models.CircuitClosed:
		return nil
	case models.CircuitOpen:
		if cb.state.OpenedAt != nil && time.Since(*cb.state.OpenedAt) >= cb.cfg.OpenDuration {
			cb.state.State = models.CircuitHalfOpen
			cb.probed = true
			return nil
		}
		return ErrCircuitOpen
	case models.CircuitHalfOpen:
		if cb.probed {
			return ErrCircuitOpen
		}
		cb.probed = true
		return nil
	default:
		return nil
	}
}

// RecordResult updates the circuit after a call completes. Must only be
// called after a corresponding successful Allow().
func (cb *CircuitBreaker) RecordResult(success bool) (tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state.State == models.CircuitHalfOpen {
		cb.probed = false
		if success {
			cb.state.State = models.CircuitClosed
			cb.state.ConsecutiveFailures = 0
			cb.state.OpenedAt = nil
			return false
		}
		now := time.Now()
		cb.state.State = models.CircuitOpen
		cb.state.OpenedAt = &now
		cb.state.TripsTotal++
		return true
	}

	if success {
		cb.state.ConsecutiveFailures = 0
		return false
	}

	cb.state.ConsecutiveFailures++
	if cb.state.ConsecutiveFailures >= cb.cfg.FailureThreshold && cb.state.State == models.CircuitClosed {
		now := time.Now()
		cb.state.State = models.CircuitOpen
		cb.state.OpenedAt = &now
		cb.state.TripsTotal++
		return true
	}
	return false
}

// Snapshot returns a copy of the current state for persistence/reporting.
func (cb *CircuitBreaker) Snapshot() models.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
