package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the PipelineRun lifecycle state (spec §4.D).
type RunStatus string

const (
	RunPending          RunStatus = "PENDING"
	RunPendingCredits    RunStatus = "PENDING_CREDITS"
	RunInitializing     RunStatus = "INITIALIZING"
	RunRunning          RunStatus = "RUNNING"
	RunCompleted        RunStatus = "COMPLETED"
	RunFailed           RunStatus = "FAILED"
	RunCancelled        RunStatus = "CANCELLED"
)

// RunConfiguration holds the per-run stage toggles, timeouts, and
// concurrency caps referenced by spec §3 ("configuration").
type RunConfiguration struct {
	// DisabledStages lists agent IDs to skip entirely; skipped stages
	// contribute no progress change (spec §4.D).
	DisabledStages []AgentID `json:"disabled_stages,omitempty"`
	// MaxConcurrentAgents bounds the parallel fan-out between
	// PAPER_PROCESSOR and QUALITY_CHECKER. Zero means use the configured
	// default (4).
	MaxConcurrentAgents int `json:"max_concurrent_agents,omitempty"`
	// RunTimeout bounds the whole pipeline run (spec §5, default 15 min).
	RunTimeout time.Duration `json:"run_timeout,omitempty"`
	// CreditReservation overrides the default pipeline-wide credit cost
	// (spec §4.D "Credit gate", default 30).
	CreditReservation int `json:"credit_reservation,omitempty"`
}

// PipelineRun is one end-to-end processing of one paper through the
// configured stages.
type PipelineRun struct {
	RunID           RunID
	PaperID         PaperID
	UserID          UserID
	Status          RunStatus
	ProgressPercent int
	CurrentStage    AgentID
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Configuration   RunConfiguration
	// Context maps stage name -> AgentResult, threaded through the run
	// (spec §3 "context", §4.D "Job context").
	Context map[AgentID]*AgentResult
	// Errors accumulates structured, user-visible failure descriptions
	// (spec §7 "User-visible failures").
	Errors []StageError
}

// StageError is a structured, stack-trace-free failure description attached
// to a run (spec §7).
type StageError struct {
	AgentID   AgentID   `json:"agent_id"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextJSON marshals Context for storage in the context JSON column.
func (r *PipelineRun) ContextJSON() (json.RawMessage, error) {
	return json.Marshal(r.Context)
}
