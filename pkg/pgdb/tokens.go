package pgdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// TokenMetricsRepo persists per-call token usage records and supports the
// 30-day bounded replay used to reconstruct in-memory running totals on
// startup (spec §3, Open Question — see DESIGN.md).
type TokenMetricsRepo struct {
	db *sql.DB
}

// TokenMetrics returns the token metrics repository.
func (c *Client) TokenMetrics() *TokenMetricsRepo { return &TokenMetricsRepo{db: c.db} }

// Record inserts one token usage record. The agent runtime calls it once per
// successful provider call; failed calls are not recorded.
func (r *TokenMetricsRepo) Record(ctx context.Context, rec models.TokenMetricsRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_metrics_records
			(user_id, provider, agent_type, task_id, input_tokens, output_tokens,
			 total_tokens, estimated_cost, processing_time_ms, success, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		string(rec.UserID), rec.Provider, string(rec.AgentType), string(rec.TaskID),
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.EstimatedCost,
		rec.ProcessingTimeMS, rec.Success, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("pgdb: recording token metrics: %w", err)
	}
	return nil
}

// ReplayWindow returns every record created within the last window,
// ordered oldest first, so the caller can fold them into running totals at
// process startup without scanning the whole table.
func (r *TokenMetricsRepo) ReplayWindow(ctx context.Context, window time.Duration) ([]models.TokenMetricsRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, provider, agent_type, task_id, input_tokens, output_tokens,
		       total_tokens, estimated_cost, processing_time_ms, success, created_at
		FROM token_metrics_records
		WHERE created_at >= $1
		ORDER BY created_at ASC`, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("pgdb: replaying token metrics window: %w", err)
	}
	defer rows.Close()

	var out []models.TokenMetricsRecord
	for rows.Next() {
		var rec models.TokenMetricsRecord
		var agentType, taskID string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Provider, &agentType, &taskID,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.EstimatedCost,
			&rec.ProcessingTimeMS, &rec.Success, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.AgentType = models.AgentID(agentType)
		rec.TaskID = models.TaskID(taskID)
		out = append(out, rec)
	}
	return out, rows.Err()
}
