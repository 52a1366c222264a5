package pgdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// ErrNoTaskAvailable is returned by ClaimNextTask when the pending queue for
// the requested agent is empty.
var ErrNoTaskAvailable = errors.New("pgdb: no task available")

// ErrNotFound is returned when a lookup by primary key finds no row.
var ErrNotFound = errors.New("pgdb: not found")

// TaskRepo persists AgentTask records.
type TaskRepo struct {
	db *sql.DB
}

// Tasks returns the task repository.
func (c *Client) Tasks() *TaskRepo { return &TaskRepo{db: c.db} }

// CreateTask inserts a new pending AgentTask, optionally attached to a run.
func (r *TaskRepo) CreateTask(ctx context.Context, t *models.AgentTask, runID models.RunID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (task_id, run_id, agent_id, user_id, input, status, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		t.TaskID, string(runID), string(t.AgentID), string(t.UserID), []byte(t.Input), string(t.Status), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgdb: create task: %w", err)
	}
	return nil
}

// ClaimNextTask atomically claims the oldest pending task for agentID using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent worker pools (or replicas)
// never double-claim the same task.
func (r *TaskRepo) ClaimNextTask(ctx context.Context, agentID models.AgentID, workerID string) (*models.AgentTask, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pgdb: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT task_id, run_id, agent_id, user_id, input, status, created_at
		FROM agent_tasks
		WHERE agent_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, string(agentID))

	var t models.AgentTask
	var taskID, aid, uid, status string
	var runID sql.NullString
	var input []byte
	if err := row.Scan(&taskID, &runID, &aid, &uid, &input, &status, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTaskAvailable
		}
		return nil, fmt.Errorf("pgdb: querying pending task: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = 'processing', worker_id = $2, started_at = $3, heartbeat_at = $3
		WHERE task_id = $1`, taskID, workerID, now); err != nil {
		return nil, fmt.Errorf("pgdb: claiming task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pgdb: committing claim: %w", err)
	}

	t.TaskID = models.TaskID(taskID)
	t.RunID = models.RunID(runID.String)
	t.AgentID = models.AgentID(aid)
	t.UserID = models.UserID(uid)
	t.Input = input
	t.Status = models.TaskProcessing
	t.StartedAt = &now
	return &t, nil
}

// MarkStarted transitions a single known task from pending to processing,
// implementing the service-level start_task(task_id) operation directly
// (as distinct from ClaimNextTask's dequeue-by-agent semantics used by the
// worker pool). Returns ErrNotFound if the task isn't currently pending —
// callers treat that as an illegal transition, never silently overwritten.
func (r *TaskRepo) MarkStarted(ctx context.Context, taskID models.TaskID) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = 'processing', started_at = $2, heartbeat_at = $2
		WHERE task_id = $1 AND status = 'pending'`,
		string(taskID), now)
	if err != nil {
		return fmt.Errorf("pgdb: starting task: %w", err)
	}
	return requireRowsAffected(res)
}

// Heartbeat refreshes heartbeat_at for a processing task, used by the
// background heartbeat goroutine to signal the task is still alive.
func (r *TaskRepo) Heartbeat(ctx context.Context, taskID models.TaskID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_tasks SET heartbeat_at = $2 WHERE task_id = $1 AND status = 'processing'`,
		string(taskID), time.Now())
	return err
}

// CompleteTask transitions a processing task to completed and stores its result.
func (r *TaskRepo) CompleteTask(ctx context.Context, taskID models.TaskID, result models.AgentResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("pgdb: marshaling task result: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = 'completed', result = $2, completed_at = $3
		WHERE task_id = $1 AND status = 'processing'`,
		string(taskID), resultJSON, time.Now())
	if err != nil {
		return fmt.Errorf("pgdb: completing task: %w", err)
	}
	return requireRowsAffected(res)
}

// FailTask transitions a processing task to failed with an error message.
func (r *TaskRepo) FailTask(ctx context.Context, taskID models.TaskID, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = 'failed', error = $2, completed_at = $3
		WHERE task_id = $1 AND status = 'processing'`,
		string(taskID), errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("pgdb: failing task: %w", err)
	}
	return requireRowsAffected(res)
}

// ListStaleProcessing returns the ids of tasks in "processing" whose
// started_at predates the cutoff, backing the spec §4.B timeout reaper
// (terminal TASK_TIMEOUT), distinct from ClaimOrphans' heartbeat-based
// worker-crash recovery (which resurrects tasks back to "pending").
func (r *TaskRepo) ListStaleProcessing(ctx context.Context, startedBefore time.Duration) ([]models.TaskID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id FROM agent_tasks
		WHERE status = 'processing' AND started_at < $1`,
		time.Now().Add(-startedBefore))
	if err != nil {
		return nil, fmt.Errorf("pgdb: listing stale processing tasks: %w", err)
	}
	defer rows.Close()

	var ids []models.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgdb: scanning stale task id: %w", err)
		}
		ids = append(ids, models.TaskID(id))
	}
	return ids, rows.Err()
}

// ClaimOrphans reclaims tasks stuck in "processing" whose heartbeat is older
// than staleAfter, resetting them to "pending" so a worker re-claims them.
// Grounded on the teacher's detectAndRecoverOrphans sweep.
func (r *TaskRepo) ClaimOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = 'pending', worker_id = '', started_at = NULL, heartbeat_at = NULL
		WHERE status = 'processing' AND heartbeat_at < $1`,
		time.Now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("pgdb: reclaiming orphans: %w", err)
	}
	return res.RowsAffected()
}

// CleanupOld deletes completed/failed tasks older than retention, run by the
// hourly cleanup sweep (spec §4.B, 7-day retention).
func (r *TaskRepo) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM agent_tasks
		WHERE status IN ('completed', 'failed') AND completed_at < $1`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pgdb: cleanup sweep: %w", err)
	}
	return res.RowsAffected()
}

// Get fetches a single task by id.
func (r *TaskRepo) Get(ctx context.Context, taskID models.TaskID) (*models.AgentTask, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_id, run_id, agent_id, user_id, input, status, error, result, created_at, started_at, completed_at
		FROM agent_tasks WHERE task_id = $1`, string(taskID))

	var t models.AgentTask
	var aid, uid, status string
	var runID sql.NullString
	var input, result []byte
	if err := row.Scan(&t.TaskID, &runID, &aid, &uid, &input, &status, &t.Error, &result, &t.CreatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pgdb: fetching task: %w", err)
	}
	t.RunID = models.RunID(runID.String)
	t.AgentID = models.AgentID(aid)
	t.UserID = models.UserID(uid)
	t.Input = input
	t.Status = models.TaskStatus(status)
	t.Result = result
	return &t, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
