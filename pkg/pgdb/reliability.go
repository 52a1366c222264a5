package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paperflow/pipeline/pkg/models"
)

// ReliabilityRepo persists RetryMetrics and CircuitState rows, the durable
// backing store behind the in-process reliability envelope (spec §4.A).
type ReliabilityRepo struct {
	db *sql.DB
}

// Reliability returns the reliability repository.
func (c *Client) Reliability() *ReliabilityRepo { return &ReliabilityRepo{db: c.db} }

// RecordAttempt upserts retry_metrics counters for one completed outer
// operation. retried is true when at least one retry occurred; succeeded is
// the final outcome. This implements the §4.A CRITICAL CONTRACT: success
// counts both first-attempt and eventual-retry successes into
// successful_operations, while successful_retries only counts the
// retried-and-succeeded subset.
func (r *ReliabilityRepo) RecordAttempt(ctx context.Context, agentID models.AgentID, attempts int64, retried, succeeded bool) error {
	var successfulOps, successfulRetries, failedOps int64
	if succeeded {
		successfulOps = 1
		if retried {
			successfulRetries = 1
		}
	} else {
		failedOps = 1
	}
	var totalRetries int64
	if attempts > 1 {
		totalRetries = attempts - 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retry_metrics
			(agent_id, total_attempts, total_retries, successful_operations, successful_retries, failed_operations, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			total_attempts        = retry_metrics.total_attempts + EXCLUDED.total_attempts,
			total_retries         = retry_metrics.total_retries + EXCLUDED.total_retries,
			successful_operations = retry_metrics.successful_operations + EXCLUDED.successful_operations,
			successful_retries    = retry_metrics.successful_retries + EXCLUDED.successful_retries,
			failed_operations     = retry_metrics.failed_operations + EXCLUDED.failed_operations,
			updated_at            = now()`,
		string(agentID), attempts, totalRetries, successfulOps, successfulRetries, failedOps)
	if err != nil {
		return fmt.Errorf("pgdb: recording retry metrics: %w", err)
	}
	return nil
}

// GetMetrics fetches the RetryMetrics row for one agent, returning a
// zero-valued row (not an error) if none exists yet.
func (r *ReliabilityRepo) GetMetrics(ctx context.Context, agentID models.AgentID) (models.RetryMetrics, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, total_attempts, total_retries, successful_operations, successful_retries, failed_operations
		FROM retry_metrics WHERE agent_id = $1`, string(agentID))

	var m models.RetryMetrics
	var aid string
	err := row.Scan(&aid, &m.TotalAttempts, &m.TotalRetries, &m.SuccessfulOperations, &m.SuccessfulRetries, &m.FailedOperations)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.RetryMetrics{AgentID: agentID}, nil
	case err != nil:
		return models.RetryMetrics{}, fmt.Errorf("pgdb: fetching retry metrics: %w", err)
	}
	m.AgentID = models.AgentID(aid)
	return m, nil
}

// AllMetrics returns the RetryMetrics row for every agent that has recorded
// at least one attempt.
func (r *ReliabilityRepo) AllMetrics(ctx context.Context) ([]models.RetryMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, total_attempts, total_retries, successful_operations, successful_retries, failed_operations
		FROM retry_metrics ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("pgdb: listing retry metrics: %w", err)
	}
	defer rows.Close()

	var out []models.RetryMetrics
	for rows.Next() {
		var m models.RetryMetrics
		var aid string
		if err := rows.Scan(&aid, &m.TotalAttempts, &m.TotalRetries, &m.SuccessfulOperations, &m.SuccessfulRetries, &m.FailedOperations); err != nil {
			return nil, err
		}
		m.AgentID = models.AgentID(aid)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ResetMetrics zeroes all counters for an agent (admin reset-stats command).
func (r *ReliabilityRepo) ResetMetrics(ctx context.Context, agentID models.AgentID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retry_metrics (agent_id, updated_at) VALUES ($1, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			total_attempts = 0, total_retries = 0, successful_operations = 0,
			successful_retries = 0, failed_operations = 0, updated_at = now()`,
		string(agentID))
	return err
}

// GetCircuit fetches the CircuitState row for one agent, defaulting to
// CLOSED if no row exists yet.
func (r *ReliabilityRepo) GetCircuit(ctx context.Context, agentID models.AgentID) (models.CircuitState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, state, consecutive_failures, opened_at, trips_total
		FROM circuit_states WHERE agent_id = $1`, string(agentID))

	var cs models.CircuitState
	var aid, state string
	err := row.Scan(&aid, &state, &cs.ConsecutiveFailures, &cs.OpenedAt, &cs.TripsTotal)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.CircuitState{AgentID: agentID, State: models.CircuitClosed}, nil
	case err != nil:
		return models.CircuitState{}, fmt.Errorf("pgdb: fetching circuit state: %w", err)
	}
	cs.AgentID = models.AgentID(aid)
	cs.State = models.CircuitBreakerState(state)
	return cs, nil
}

// SaveCircuit upserts the full CircuitState row, incrementing trips_total
// only when the transition is CLOSED/HALF_OPEN -> OPEN (a genuine trip).
func (r *ReliabilityRepo) SaveCircuit(ctx context.Context, cs models.CircuitState, trip bool) error {
	var tripDelta int64
	if trip {
		tripDelta = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO circuit_states (agent_id, state, consecutive_failures, opened_at, trips_total, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			state = EXCLUDED.state,
			consecutive_failures = EXCLUDED.consecutive_failures,
			opened_at = EXCLUDED.opened_at,
			trips_total = circuit_states.trips_total + $6,
			updated_at = now()`,
		string(cs.AgentID), string(cs.State), cs.ConsecutiveFailures, cs.OpenedAt, cs.TripsTotal, tripDelta)
	if err != nil {
		return fmt.Errorf("pgdb: saving circuit state: %w", err)
	}
	return nil
}

// AllCircuits returns every recorded circuit state.
func (r *ReliabilityRepo) AllCircuits(ctx context.Context) ([]models.CircuitState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, state, consecutive_failures, opened_at, trips_total
		FROM circuit_states ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("pgdb: listing circuit states: %w", err)
	}
	defer rows.Close()

	var out []models.CircuitState
	for rows.Next() {
		var cs models.CircuitState
		var aid, state string
		if err := rows.Scan(&aid, &state, &cs.ConsecutiveFailures, &cs.OpenedAt, &cs.TripsTotal); err != nil {
			return nil, err
		}
		cs.AgentID = models.AgentID(aid)
		cs.State = models.CircuitBreakerState(state)
		out = append(out, cs)
	}
	return out, rows.Err()
}
