// Package events implements fire-and-forget event publication: typed
// payloads are persisted to the events table and broadcast via PostgreSQL
// NOTIFY in one transaction (pkg/pgdb's EventRepo.PersistAndNotify), with an
// in-process Bus fan-out for local consumers (the CLI admin surface,
// tests). There is no WebSocket transport here — see DESIGN.md for why.
package events

// Event type constants, one per AgentTask/PipelineRun/reliability
// transition that spec §4.B/§4.D/§4.A requires to "emit exactly one event",
// named exactly as spec §6 lists them.
const (
	EventTaskCreated   = "TASK_CREATED"
	EventTaskStarted   = "TASK_STARTED"
	EventTaskCompleted = "TASK_COMPLETED"
	EventTaskFailed    = "TASK_FAILED"
	EventTaskTimeout   = "TASK_TIMEOUT"

	EventPipelineStarted       = "PIPELINE_STARTED"
	EventPipelineStageStarted  = "PIPELINE_STAGE_STARTED"
	EventPipelineStageComplete = "PIPELINE_STAGE_COMPLETED"
	EventPipelineStageFailed   = "PIPELINE_STAGE_FAILED"
	EventPipelineCompleted     = "PIPELINE_COMPLETED"
	EventPipelineFailed        = "PIPELINE_FAILED"
	EventPipelineCancelled     = "PIPELINE_CANCELLED"

	EventCircuitOpened   = "CIRCUIT_OPENED"
	EventCircuitHalfOpen = "CIRCUIT_HALF_OPEN"
	EventCircuitClosed   = "CIRCUIT_CLOSED"
)

// RunChannel returns the pg_notify channel name for one pipeline run,
// mirroring the teacher's SessionChannel helper.
func RunChannel(runID string) string { return "run:" + runID }

// GlobalRunsChannel is the channel carrying every run's status transitions,
// used by admin/monitoring consumers that want a single subscription.
const GlobalRunsChannel = "runs"
