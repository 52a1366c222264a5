// Package orchestrator implements the Pipeline Orchestrator (spec §4.D):
// the stage DAG, job context, credit gate, progress reporting, run state
// machine, and cancellation semantics. Grounded on the teacher's
// pkg/agent/orchestrator/runner.go (SubAgentRunner's dispatch/collect/cancel
// shape), adapted from a chat sub-agent fan-out to a fixed paper-processing
// stage graph backed by durable AgentTasks instead of in-memory goroutines.
package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/paperflow/pipeline/pkg/models"
)

// TaskService is the subset of pkg/agenttask.Service the orchestrator needs:
// create a task for a stage, and read it back once it reaches a terminal
// state. Narrowed to an interface so Orchestrator is unit-testable without
// a database or a real agent runtime.
type TaskService interface {
	CreateTask(ctx context.Context, taskID models.TaskID, runID models.RunID, agentID models.AgentID, userID models.UserID, input json.RawMessage) (*models.AgentTask, error)
	Get(ctx context.Context, taskID models.TaskID) (*models.AgentTask, error)
}

// CreditGate is the subset of pkg/credit.Service the orchestrator needs for
// the run-start credit reservation and failure/cancellation refund (spec
// §4.D "Credit gate").
type CreditGate interface {
	Reserve(ctx context.Context, userID models.UserID, amount int, referenceID string) (int, error)
	Refund(ctx context.Context, userID models.UserID, amount int, referenceID string) (int, error)
}

// RunStore is the subset of pkg/pgdb.RunRepo the orchestrator needs to
// persist a PipelineRun's lifecycle.
type RunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	UpdateStatus(ctx context.Context, runID models.RunID, status models.RunStatus) error
	UpdateProgress(ctx context.Context, runID models.RunID, percent int, stage models.AgentID) error
	AppendContext(ctx context.Context, runID models.RunID, agentID models.AgentID, result *models.AgentResult) error
	AppendError(ctx context.Context, runID models.RunID, stageErr models.StageError) error
	Get(ctx context.Context, runID models.RunID) (*models.PipelineRun, error)
}

// TaskCanceller is implemented by pkg/agentruntime.Pool: propagates a
// cancellation into an in-flight provider call for one agent's worker pool.
type TaskCanceller interface {
	CancelTask(taskID models.TaskID) bool
}

// StartRunRequest is the caller-supplied (upload handler's) request to begin
// processing one paper (spec §6 inbound API's start_run).
type StartRunRequest struct {
	RunID         models.RunID
	PaperID       models.PaperID
	UserID        models.UserID
	// Input is the PAPER_PROCESSOR stage's raw input (e.g. a file reference);
	// every later stage's input is instead projected from the job context.
	Input         json.RawMessage
	Configuration models.RunConfiguration
	// OnProgress, if set, is called after every stage transition with the
	// run's new progress_percent and current_stage (spec §4.D "Progress is
	// reported via a user-supplied callback and as events on the event bus").
	OnProgress func(percent int, stage models.AgentID)
}
