package api

import "github.com/paperflow/pipeline/pkg/models"

// RunResponse is returned by POST /api/v1/runs, GET /api/v1/runs/:id, and
// GET /api/v1/runs/:id/wait — implementing spec §6's
// status(run_id) -> {status, progress, current_stage, errors[]}.
type RunResponse struct {
	RunID           string              `json:"run_id"`
	Status          models.RunStatus    `json:"status"`
	ProgressPercent int                 `json:"progress_percent"`
	CurrentStage    models.AgentID      `json:"current_stage,omitempty"`
	Errors          []models.StageError `json:"errors,omitempty"`
}

func runResponse(run *models.PipelineRun) RunResponse {
	return RunResponse{
		RunID:           string(run.RunID),
		Status:          run.Status,
		ProgressPercent: run.ProgressPercent,
		CurrentStage:    run.CurrentStage,
		Errors:          run.Errors,
	}
}

// CancelResponse is returned by POST /api/v1/runs/:id/cancel.
type CancelResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Agents         int    `json:"agents,omitempty"`
	DisabledStages int    `json:"disabled_stages,omitempty"`
}

// StatsResponse is returned by GET /api/v1/admin/stats — the process-wide
// reliability counters and circuit states per agent (spec §4.A).
type StatsResponse struct {
	Retry    []models.RetryMetrics `json:"retry_metrics"`
	Circuits []models.CircuitState `json:"circuits"`
}

// ErrorResponse is the uniform JSON error body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
