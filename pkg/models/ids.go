// Package models holds the plain value types shared across paperflow's
// components. None of these types carry persistence concerns — repositories
// in pkg/pgdb map them to and from SQL rows.
package models

// RunID identifies a PipelineRun.
type RunID string

// TaskID identifies an AgentTask.
type TaskID string

// UserID identifies the user who owns credits, tasks, and runs.
type UserID string

// PaperID identifies the uploaded paper a run processes.
type PaperID string
