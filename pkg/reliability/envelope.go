package reliability

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/paperflow/pipeline/pkg/models"
)

// Store persists RetryMetrics/CircuitState so the envelope survives a
// process restart instead of resetting every counter to zero. Satisfied by
// *pkg/pgdb.ReliabilityRepo; kept as a narrow interface so Envelope stays
// unit-testable without a database.
type Store interface {
	RecordAttempt(ctx context.Context, agentID models.AgentID, attempts int64, retried, succeeded bool) error
	SaveCircuit(ctx context.Context, cs models.CircuitState, trip bool) error
	ResetMetrics(ctx context.Context, agentID models.AgentID) error
}

// Envelope is the process-wide Reliability Envelope: one CircuitBreaker and
// one backoff configuration per agent, plus the shared Stats tracker. This
// is the sole public contract described by spec §4.A:
//
//	execute_with_retry(agent_id, op) -> result
type Envelope struct {
	mu       sync.Mutex
	circuits map[models.AgentID]*CircuitBreaker
	backoffs map[models.AgentID]AgentBackoffConfig
	cbConfig CircuitBreakerConfig
	Stats    *Stats
	store    Store
}

// NewEnvelope builds an Envelope from the per-agent backoff table and the
// single process-wide circuit breaker configuration (spec §4.A).
func NewEnvelope(perAgent map[models.AgentID]AgentBackoffConfig, cbConfig CircuitBreakerConfig) *Envelope {
	env := &Envelope{
		circuits: make(map[models.AgentID]*CircuitBreaker, len(perAgent)),
		backoffs: perAgent,
		cbConfig: cbConfig,
		Stats:    NewStats(),
	}
	for agentID := range perAgent {
		env.circuits[agentID] = NewCircuitBreaker(agentID, cbConfig)
	}
	return env
}

// SetStore wires the durable backing store. Call before serving traffic;
// Restore/Seed the in-memory state from it first (see cmd/paperflow's
// wireApplication) so counters and circuit state survive a restart.
func (e *Envelope) SetStore(store Store) { e.store = store }

// Reset zeroes one agent's in-memory RetryMetrics and, if a store is wired,
// the persisted row too — used by both the `reset-stats` CLI subcommand and
// the admin HTTP endpoint, so an operator reset doesn't silently diverge
// from what the next process restart would reseed.
func (e *Envelope) Reset(ctx context.Context, agentID models.AgentID) {
	e.Stats.Reset(agentID)
	if e.store == nil {
		return
	}
	if err := e.store.ResetMetrics(ctx, agentID); err != nil {
		slog.Error("reliability: persisting stats reset failed", "agent_id", agentID, "error", err)
	}
}

// Circuit returns the CircuitBreaker for agentID, creating a fresh CLOSED
// one if this agent wasn't in the original configuration table.
func (e *Envelope) Circuit(agentID models.AgentID) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.circuits[agentID]
	if !ok {
		cb = NewCircuitBreaker(agentID, e.cbConfig)
		e.circuits[agentID] = cb
	}
	return cb
}

// ExecuteWithRetry runs op under agentID's retry policy and circuit breaker.
// It returns op's first successful value, or the last error once retries
// are exhausted, the error is non-retryable, or the circuit is open.
func ExecuteWithRetry[T any](ctx context.Context, e *Envelope, agentID models.AgentID, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	cb := e.Circuit(agentID)
	if err := cb.Allow(); err != nil {
		return zero, err
	}

	cfg, ok := e.backoffs[agentID]
	if !ok {
		cfg = AgentBackoffConfig{MaxRetries: 0, PerAttemptTimeout: 0}
	}

	var (
		result   T
		attempts int64
	)
	operation := func() error {
		attempts++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
		}

		v, err := op(attemptCtx)
		if err != nil {
			if ctx.Err() != nil || !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}

	err := backoff.Retry(operation, newExponentialBackoff(cfg))

	// Cancellation is never a reliability failure (spec §5): it must not
	// count against the success-rate stats or trip the circuit breaker —
	// the caller asked to stop, the agent didn't misbehave.
	if !errors.Is(ctx.Err(), context.Canceled) {
		succeeded := err == nil
		retried := attempts > 1
		e.Stats.Record(agentID, attempts, retried, succeeded)
		tripped := cb.RecordResult(succeeded)
		e.persist(agentID, attempts, retried, succeeded, cb, tripped)
	} else {
		// No result is recorded for a cancelled call, but a HALF_OPEN probe
		// slot it held is released so the next caller can probe.
		cb.mu.Lock()
		if cb.state.State == models.CircuitHalfOpen {
			cb.probed = false
		}
		cb.mu.Unlock()
	}

	if err != nil {
		var permanent *backoff.PermanentError
		if asPermanent(err, &permanent) {
			return zero, permanent.Unwrap()
		}
		return zero, err
	}
	return result, nil
}

// persist mirrors one completed operation's outcome into the durable store,
// if one is wired. Best-effort: a storage error is logged, never returned to
// the caller, since the in-memory Stats/CircuitBreaker are already the
// source of truth for this process's own decisions.
func (e *Envelope) persist(agentID models.AgentID, attempts int64, retried, succeeded bool, cb *CircuitBreaker, tripped bool) {
	if e.store == nil {
		return
	}
	ctx := context.Background()
	if err := e.store.RecordAttempt(ctx, agentID, attempts, retried, succeeded); err != nil {
		slog.Error("reliability: persisting retry metrics failed", "agent_id", agentID, "error", err)
	}
	if err := e.store.SaveCircuit(ctx, cb.Snapshot(), tripped); err != nil {
		slog.Error("reliability: persisting circuit state failed", "agent_id", agentID, "error", err)
	}
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
