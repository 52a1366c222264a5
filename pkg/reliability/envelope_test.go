package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/models"
)

func testEnvelope() *Envelope {
	agent := models.AgentCitationVerifier
	return NewEnvelope(
		map[models.AgentID]AgentBackoffConfig{
			agent: {MaxRetries: 3, InitialDelay: time.Millisecond, PerAttemptTimeout: time.Second},
		},
		CircuitBreakerConfig{FailureThreshold: 3, OpenDuration: 50 * time.Millisecond, HalfOpenProbeTimeout: 10 * time.Millisecond},
	)
}

func TestExecuteWithRetry_FirstAttemptSuccess(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier

	calls := 0
	result, err := ExecuteWithRetry(context.Background(), env, agent, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)

	m := env.Stats.Get(agent)
	assert.Equal(t, int64(1), m.SuccessfulOperations)
	assert.Equal(t, int64(0), m.SuccessfulRetries)
}

func TestExecuteWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier

	calls := 0
	result, err := ExecuteWithRetry(context.Background(), env, agent, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, ErrTransient
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)

	m := env.Stats.Get(agent)
	// Both first-attempt and retried successes land in successful_operations —
	// the critical contract the bug fix covers.
	assert.Equal(t, int64(1), m.SuccessfulOperations)
	assert.Equal(t, int64(1), m.SuccessfulRetries)
	assert.Equal(t, int64(2), m.TotalRetries)
}

func TestExecuteWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier

	calls := 0
	_, err := ExecuteWithRetry(context.Background(), env, agent, func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrInvalidInput
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 1, calls)

	m := env.Stats.Get(agent)
	assert.Equal(t, int64(1), m.FailedOperations)
}

func TestExecuteWithRetry_ExhaustsRetriesAndFails(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier

	calls := 0
	_, err := ExecuteWithRetry(context.Background(), env, agent, func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrTransient
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls) // 1 initial + 3 retries (max_retries=3)

	m := env.Stats.Get(agent)
	assert.Equal(t, int64(1), m.FailedOperations)
}

func TestExecuteWithRetry_CancellationDoesNotCountAsFailureOrTripCircuit(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithRetry(ctx, env, agent, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	require.Error(t, err)

	m := env.Stats.Get(agent)
	assert.Equal(t, int64(0), m.FailedOperations, "cancellation must not count as a failed operation")
	assert.Equal(t, int64(0), m.SuccessfulOperations)
	assert.Equal(t, models.CircuitClosed, env.Circuit(agent).Snapshot().State, "cancellation must not trip the circuit")
}

func TestCircuitBreaker_TripsOpensAndHalfOpenProbes(t *testing.T) {
	agent := models.AgentQualityChecker
	cb := NewCircuitBreaker(agent, CircuitBreakerConfig{
		FailureThreshold: 3, OpenDuration: 30 * time.Millisecond, HalfOpenProbeTimeout: time.Second,
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		tripped := cb.RecordResult(false)
		assert.False(t, tripped)
	}
	require.NoError(t, cb.Allow())
	tripped := cb.RecordResult(false)
	assert.True(t, tripped)
	assert.Equal(t, models.CircuitOpen, cb.Snapshot().State)
	assert.Equal(t, int64(1), cb.Snapshot().TripsTotal)

	// Fails fast while open.
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(40 * time.Millisecond)

	// First caller after open_duration gets the HALF_OPEN probe slot.
	require.NoError(t, cb.Allow())
	assert.Equal(t, models.CircuitHalfOpen, cb.Snapshot().State)
	// A concurrent second caller is rejected.
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.RecordResult(true)
	assert.Equal(t, models.CircuitClosed, cb.Snapshot().State)
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
	// One successful probe closes the circuit without counting as a second
	// trip (spec.md §8 Scenario 3: trips_total stays 1).
	assert.Equal(t, int64(1), cb.Snapshot().TripsTotal)
}

// fakeStore is an in-memory reliability.Store used to verify ExecuteWithRetry
// mirrors its outcome into the durable store without a database.
type fakeStore struct {
	attempts []models.AgentID
	circuits []models.CircuitState
	resets   []models.AgentID
}

func (f *fakeStore) RecordAttempt(_ context.Context, agentID models.AgentID, _ int64, _, _ bool) error {
	f.attempts = append(f.attempts, agentID)
	return nil
}

func (f *fakeStore) SaveCircuit(_ context.Context, cs models.CircuitState, _ bool) error {
	f.circuits = append(f.circuits, cs)
	return nil
}

func (f *fakeStore) ResetMetrics(_ context.Context, agentID models.AgentID) error {
	f.resets = append(f.resets, agentID)
	return nil
}

func TestExecuteWithRetry_PersistsToStoreWhenWired(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier
	store := &fakeStore{}
	env.SetStore(store)

	_, err := ExecuteWithRetry(context.Background(), env, agent, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)

	require.Len(t, store.attempts, 1)
	assert.Equal(t, agent, store.attempts[0])
	require.Len(t, store.circuits, 1)
	assert.Equal(t, agent, store.circuits[0].AgentID)
}

func TestEnvelope_ResetPersistsToStoreWhenWired(t *testing.T) {
	env := testEnvelope()
	agent := models.AgentCitationVerifier
	store := &fakeStore{}
	env.SetStore(store)

	env.Reset(context.Background(), agent)

	require.Len(t, store.resets, 1)
	assert.Equal(t, agent, store.resets[0])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransient))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.True(t, IsRetryable(NewStatusError(503, "upstream overloaded")))
	assert.False(t, IsRetryable(NewStatusError(401, "unauthorized")))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}
