package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/orchestrator"
)

// isTerminal reports whether a run has reached a status wait_for should
// stop polling at (spec §3's status enum, minus the in-flight states).
func isTerminal(status models.RunStatus) bool {
	switch status {
	case models.RunCompleted, models.RunFailed, models.RunCancelled, models.RunPendingCredits:
		return true
	default:
		return false
	}
}

func toRunConfiguration(req StartRunRequest) models.RunConfiguration {
	disabled := make([]models.AgentID, 0, len(req.Configuration.DisabledStages))
	for _, s := range req.Configuration.DisabledStages {
		disabled = append(disabled, models.AgentID(s))
	}
	var timeout time.Duration
	if req.Configuration.RunTimeoutSeconds > 0 {
		timeout = time.Duration(req.Configuration.RunTimeoutSeconds) * time.Second
	}
	return models.RunConfiguration{
		DisabledStages:      disabled,
		MaxConcurrentAgents: req.Configuration.MaxConcurrentAgents,
		RunTimeout:          timeout,
		CreditReservation:   req.Configuration.CreditReservation,
	}
}

// startRunHandler handles POST /api/v1/runs, spec §6's start_run. The run
// id is minted here and returned immediately; the pipeline itself drives to
// completion in the background, the same fire-and-dispatch shape as the
// teacher's CreateAlert -> go s.processSession(sess).
func (s *Server) startRunHandler(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	runID := models.RunID(uuid.NewString())
	runReq := orchestrator.StartRunRequest{
		RunID:         runID,
		PaperID:       models.PaperID(req.PaperID),
		UserID:        models.UserID(req.UserID),
		Input:         req.Input,
		Configuration: toRunConfiguration(req),
	}

	go func() {
		// Detached from the request context: the run must keep driving
		// after the HTTP response is written. The orchestrator enforces
		// its own RunTimeout internally.
		if _, err := s.orchestrator.StartRun(context.Background(), runReq); err != nil {
			// StartRun only returns an error for conditions it can't itself
			// represent as a terminal run status (e.g. a failed initial
			// persistence write); such failures are unrecoverable from here,
			// and StartRun does not log them itself, so they are logged here.
			slog.Error("api: start_run failed", "run_id", runID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, RunResponse{
		RunID:  string(runID),
		Status: models.RunInitializing,
	})
}

// statusHandler handles GET /api/v1/runs/:id, spec §6's status(run_id).
func (s *Server) statusHandler(c *gin.Context) {
	runID := models.RunID(c.Param("id"))
	run, err := s.runs.Get(c.Request.Context(), runID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

// cancelRunHandler handles POST /api/v1/runs/:id/cancel, spec §6's
// cancel_run(run_id).
func (s *Server) cancelRunHandler(c *gin.Context) {
	runID := models.RunID(c.Param("id"))
	if err := s.orchestrator.Cancel(runID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{RunID: string(runID), Message: "cancellation requested"})
}

// waitForHandler handles GET /api/v1/runs/:id/wait, spec §6's
// wait_for(run_id) -> final_status. Blocks, polling the run store, until
// the run reaches a terminal status or the request's own context is
// cancelled (client disconnect or its own deadline).
func (s *Server) waitForHandler(c *gin.Context) {
	runID := models.RunID(c.Param("id"))
	ctx := c.Request.Context()

	ticker := time.NewTicker(s.waitPollInterval)
	defer ticker.Stop()

	for {
		run, err := s.runs.Get(ctx, runID)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		if isTerminal(run.Status) {
			c.JSON(http.StatusOK, runResponse(run))
			return
		}

		select {
		case <-ctx.Done():
			c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "wait_for: request context ended before run reached a terminal status"})
			return
		case <-ticker.C:
		}
	}
}
