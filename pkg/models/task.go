package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is the AgentTask lifecycle state (spec §3, §4.B).
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// AgentTask is the durable record of one agent invocation.
type AgentTask struct {
	TaskID      TaskID
	RunID       RunID
	AgentID     AgentID
	UserID      UserID
	Input       json.RawMessage
	Status      TaskStatus
	Error       string
	Result      json.RawMessage // nil unless Status == TaskCompleted
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// AgentResult is the in-memory value returned by an agent invocation. It is
// also what gets marshaled into AgentTask.Result on success.
type AgentResult struct {
	TaskID         TaskID          `json:"task_id"`
	Success        bool            `json:"success"`
	ResultData     json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ProcessingTime time.Duration   `json:"processing_time"`
	// Degraded marks a best-effort, schema-mismatched conversion performed per
	// spec §4.C step 4 ("Robustness requirement"). Degraded results still set
	// Success=true and ResultData≠nil — only the flag and RawPayload differ
	// from a clean parse.
	Degraded   bool            `json:"degraded,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}
