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

// RunRepo persists PipelineRun records.
type RunRepo struct {
	db *sql.DB
}

// Runs returns the pipeline run repository.
func (c *Client) Runs() *RunRepo { return &RunRepo{db: c.db} }

// Create inserts a new PipelineRun.
func (r *RunRepo) Create(ctx context.Context, run *models.PipelineRun) error {
	cfgJSON, err := json.Marshal(run.Configuration)
	if err != nil {
		return fmt.Errorf("pgdb: marshaling run configuration: %w", err)
	}
	ctxJSON, err := run.ContextJSON()
	if err != nil {
		return fmt.Errorf("pgdb: marshaling run context: %w", err)
	}
	errsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("pgdb: marshaling run errors: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(run_id, paper_id, user_id, status, progress_percent, current_stage,
			 started_at, completed_at, configuration, context, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		string(run.RunID), string(run.PaperID), string(run.UserID), string(run.Status),
		run.ProgressPercent, string(run.CurrentStage), run.StartedAt, run.CompletedAt,
		cfgJSON, ctxJSON, errsJSON)
	if err != nil {
		return fmt.Errorf("pgdb: creating run: %w", err)
	}
	return nil
}

// UpdateStatus transitions a run's status, and for terminal statuses stamps
// completed_at. Used by the orchestrator's run state machine.
func (r *RunRepo) UpdateStatus(ctx context.Context, runID models.RunID, status models.RunStatus) error {
	var completedAt *time.Time
	if status == models.RunCompleted || status == models.RunFailed || status == models.RunCancelled {
		now := time.Now()
		completedAt = &now
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, completed_at = COALESCE($3, completed_at), updated_at = now()
		WHERE run_id = $1`, string(runID), string(status), completedAt)
	if err != nil {
		return fmt.Errorf("pgdb: updating run status: %w", err)
	}
	return nil
}

// UpdateProgress updates progress_percent and current_stage (spec §4.D
// progress reporting table).
func (r *RunRepo) UpdateProgress(ctx context.Context, runID models.RunID, percent int, stage models.AgentID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET progress_percent = $2, current_stage = $3, updated_at = now()
		WHERE run_id = $1`, string(runID), percent, string(stage))
	if err != nil {
		return fmt.Errorf("pgdb: updating run progress: %w", err)
	}
	return nil
}

// AppendContext stores an agent's result in the run's JSON context map.
func (r *RunRepo) AppendContext(ctx context.Context, runID models.RunID, agentID models.AgentID, result *models.AgentResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("pgdb: marshaling agent result: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET context = jsonb_set(context, $2::text[], $3::jsonb, true), updated_at = now()
		WHERE run_id = $1`,
		string(runID), pgTextPathArray(string(agentID)), resultJSON)
	if err != nil {
		return fmt.Errorf("pgdb: appending run context: %w", err)
	}
	return nil
}

// AppendError appends a StageError to the run's error list (spec §7).
func (r *RunRepo) AppendError(ctx context.Context, runID models.RunID, stageErr models.StageError) error {
	errJSON, err := json.Marshal(stageErr)
	if err != nil {
		return fmt.Errorf("pgdb: marshaling stage error: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET errors = errors || $2::jsonb, updated_at = now()
		WHERE run_id = $1`, string(runID), "["+string(errJSON)+"]")
	if err != nil {
		return fmt.Errorf("pgdb: appending run error: %w", err)
	}
	return nil
}

// Get fetches a run by id, including its full context and error list.
func (r *RunRepo) Get(ctx context.Context, runID models.RunID) (*models.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, paper_id, user_id, status, progress_percent, current_stage,
		       started_at, completed_at, configuration, context, errors
		FROM pipeline_runs WHERE run_id = $1`, string(runID))

	var run models.PipelineRun
	var status, stage string
	var cfgJSON, ctxJSON, errsJSON []byte
	if err := row.Scan(&run.RunID, &run.PaperID, &run.UserID, &status, &run.ProgressPercent, &stage,
		&run.StartedAt, &run.CompletedAt, &cfgJSON, &ctxJSON, &errsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pgdb: fetching run: %w", err)
	}
	run.Status = models.RunStatus(status)
	run.CurrentStage = models.AgentID(stage)
	if err := json.Unmarshal(cfgJSON, &run.Configuration); err != nil {
		return nil, fmt.Errorf("pgdb: unmarshaling run configuration: %w", err)
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("pgdb: unmarshaling run context: %w", err)
		}
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &run.Errors); err != nil {
			return nil, fmt.Errorf("pgdb: unmarshaling run errors: %w", err)
		}
	}
	return &run, nil
}

// ListByUser returns runs for a user, newest first, for admin/status surfaces.
func (r *RunRepo) ListByUser(ctx context.Context, userID models.UserID, limit int) ([]*models.PipelineRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id FROM pipeline_runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		string(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("pgdb: listing runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.PipelineRun, 0, len(ids))
	for _, id := range ids {
		run, err := r.Get(ctx, models.RunID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// pgTextPathArray builds a Postgres text[] literal for a single jsonb_set path segment.
func pgTextPathArray(key string) string {
	return `{` + key + `}`
}
