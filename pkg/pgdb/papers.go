package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paperflow/pipeline/pkg/models"
)

// PaperRepo tracks which (user, paper) pairs have already completed a run,
// backing the idempotent processed-papers memory described in spec §4.C.
type PaperRepo struct {
	db *sql.DB
}

// Papers returns the processed-papers repository.
func (c *Client) Papers() *PaperRepo { return &PaperRepo{db: c.db} }

// LastRun returns the run id of the most recent completed run for this
// (user, paper) pair, or ErrNotFound if the paper has never been processed.
func (r *PaperRepo) LastRun(ctx context.Context, userID models.UserID, paperID models.PaperID) (models.RunID, error) {
	var runID string
	err := r.db.QueryRowContext(ctx, `
		SELECT last_run_id FROM processed_papers WHERE user_id = $1 AND paper_id = $2`,
		string(userID), string(paperID)).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pgdb: fetching processed paper: %w", err)
	}
	return models.RunID(runID), nil
}

// MarkProcessed records runID as the latest completed run for (user, paper).
func (r *PaperRepo) MarkProcessed(ctx context.Context, userID models.UserID, paperID models.PaperID, runID models.RunID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_papers (user_id, paper_id, last_run_id, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, paper_id) DO UPDATE SET
			last_run_id = EXCLUDED.last_run_id, processed_at = now()`,
		string(userID), string(paperID), string(runID))
	if err != nil {
		return fmt.Errorf("pgdb: marking paper processed: %w", err)
	}
	return nil
}
