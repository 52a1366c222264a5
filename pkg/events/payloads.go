package events

import "time"

// Event is the generic envelope spec §6 requires every published event to
// carry: "type, timestamp (UTC, ms), correlation ids (run_id, task_id,
// user_id, agent_id), and a free-form detail map." Every publish call below
// builds one of these; Detail holds whatever is specific to that event kind
// (status, progress_percent, task_snapshot, error, ...).
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// TimestampMS is the event's timestamp in UTC milliseconds, as spec §6
// requires on the wire ("timestamp (UTC, ms)").
func (e Event) TimestampMS() int64 {
	return e.Timestamp.UTC().UnixMilli()
}

// TaskEventPayload backs TASK_CREATED/STARTED/COMPLETED/FAILED/TIMEOUT: spec
// §4.B requires every AgentTask transition to carry "(event_type, task_id,
// agent_id, user_id, status, timestamp, task_snapshot)".
type TaskEventPayload struct {
	Type      string
	TaskID    string
	AgentID   string
	UserID    string
	Status    string
	Timestamp time.Time
	Error     string
	Snapshot  map[string]any
}

func (p TaskEventPayload) toEvent() Event {
	detail := map[string]any{"status": p.Status}
	if p.Error != "" {
		detail["error"] = p.Error
	}
	if p.Snapshot != nil {
		detail["task_snapshot"] = p.Snapshot
	}
	return Event{
		Type: p.Type, Timestamp: p.Timestamp,
		TaskID: p.TaskID, AgentID: p.AgentID, UserID: p.UserID,
		Detail: detail,
	}
}

// CircuitEventPayload backs CIRCUIT_OPENED/HALF_OPEN/CLOSED, emitted on every
// per-agent circuit breaker state transition (spec §6).
type CircuitEventPayload struct {
	Type      string
	AgentID   string
	Timestamp time.Time
}

func (p CircuitEventPayload) toEvent() Event {
	return Event{Type: p.Type, Timestamp: p.Timestamp, AgentID: p.AgentID}
}

// RunEventPayload backs the PIPELINE_* family: STARTED, STAGE_STARTED,
// STAGE_COMPLETED, STAGE_FAILED, COMPLETED, FAILED, CANCELLED (spec §4.D,
// §6). CurrentStage and ProgressPercent are only meaningful for the
// STAGE_* and progress-bearing kinds; zero values are omitted from Detail.
type RunEventPayload struct {
	Type            string
	RunID           string
	PaperID         string
	UserID          string
	Status          string
	CurrentStage    string
	ProgressPercent int
	Timestamp       time.Time
}

func (p RunEventPayload) toEvent() Event {
	detail := map[string]any{}
	if p.PaperID != "" {
		detail["paper_id"] = p.PaperID
	}
	if p.Status != "" {
		detail["status"] = p.Status
	}
	if p.CurrentStage != "" {
		detail["current_stage"] = p.CurrentStage
	}
	if p.ProgressPercent > 0 {
		detail["progress_percent"] = p.ProgressPercent
	}
	return Event{
		Type: p.Type, Timestamp: p.Timestamp,
		RunID: p.RunID, UserID: p.UserID, Detail: detail,
	}
}
