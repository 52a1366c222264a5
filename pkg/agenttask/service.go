// Package agenttask implements the durable AgentTask lifecycle service: the
// create/start/complete/fail/timeout state machine, event emission, and the
// background timeout reaper and cleanup sweep. Grounded on the teacher's
// pkg/services/session_service.go (validate-then-write pattern) and
// pkg/queue/orphan.go (reaper loop shape, markSessionTimedOut helper).
package agenttask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paperflow/pipeline/pkg/events"
	"github.com/paperflow/pipeline/pkg/models"
)

// ErrIllegalTransition is returned when a caller attempts a transition the
// state machine doesn't allow (e.g. completed -> failed). Spec §5 requires
// these be "rejected and logged, never silently overwritten."
var ErrIllegalTransition = errors.New("agenttask: illegal state transition")

// TaskStore is the subset of pgdb.TaskRepo the service needs, narrowed to an
// interface so Service is unit-testable without a database.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.AgentTask, runID models.RunID) error
	MarkStarted(ctx context.Context, taskID models.TaskID) error
	ClaimNextTask(ctx context.Context, agentID models.AgentID, workerID string) (*models.AgentTask, error)
	Heartbeat(ctx context.Context, taskID models.TaskID) error
	CompleteTask(ctx context.Context, taskID models.TaskID, result models.AgentResult) error
	FailTask(ctx context.Context, taskID models.TaskID, errMsg string) error
	ListStaleProcessing(ctx context.Context, startedBefore time.Duration) ([]models.TaskID, error)
	ClaimOrphans(ctx context.Context, staleAfter time.Duration) (int64, error)
	CleanupOld(ctx context.Context, retention time.Duration) (int64, error)
	Get(ctx context.Context, taskID models.TaskID) (*models.AgentTask, error)
}

// ProcessedPapers is the idempotent "has this paper already been processed
// for this user" memory store, backing the complete_task side effect for
// PAPER_PROCESSOR (spec §4.B).
type ProcessedPapers interface {
	LastRun(ctx context.Context, userID models.UserID, paperID models.PaperID) (models.RunID, error)
	MarkProcessed(ctx context.Context, userID models.UserID, paperID models.PaperID, runID models.RunID) error
}

const (
	// TimeoutReaperInterval matches spec §4.B ("every 5 min").
	TimeoutReaperInterval = 5 * time.Minute
	// TaskStaleAfter matches spec §4.B / §5 ("5 min since started_at").
	TaskStaleAfter = 5 * time.Minute
	// CleanupInterval matches spec §4.B ("every hour").
	CleanupInterval = time.Hour
	// CleanupRetention matches spec §4.B ("older than 7 days").
	CleanupRetention = 7 * 24 * time.Hour

	// OrphanScanInterval is the [EXPANSION] heartbeat-based worker-crash
	// detector's cadence — separate from, and supplemental to, the plain
	// started_at-based timeout reaper above (SPEC_FULL §4).
	OrphanScanInterval = time.Minute
	// OrphanHeartbeatThreshold is how stale a heartbeat must be before a
	// processing task is presumed to belong to a crashed worker.
	OrphanHeartbeatThreshold = 2 * time.Minute
)

// Service implements the AgentTask operations of spec §4.B.
type Service struct {
	store   TaskStore
	papers  ProcessedPapers
	pub     *events.Publisher
	stopCh  chan struct{}
	stopped sync.Once
}

// NewService wires a TaskStore, the processed-papers memory, and the event
// publisher together.
func NewService(store TaskStore, papers ProcessedPapers, pub *events.Publisher) *Service {
	return &Service{store: store, papers: papers, pub: pub, stopCh: make(chan struct{})}
}

// CreateTask inserts a new pending AgentTask and emits TASK_CREATED.
func (s *Service) CreateTask(ctx context.Context, taskID models.TaskID, runID models.RunID, agentID models.AgentID, userID models.UserID, input json.RawMessage) (*models.AgentTask, error) {
	task := &models.AgentTask{
		TaskID:    taskID,
		RunID:     runID,
		AgentID:   agentID,
		UserID:    userID,
		Input:     input,
		Status:    models.TaskPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateTask(ctx, task, runID); err != nil {
		return nil, fmt.Errorf("agenttask: create: %w", err)
	}
	s.emitTask(ctx, events.EventTaskCreated, task)
	return task, nil
}

// StartTask transitions a known task pending -> processing and emits
// TASK_STARTED. Used when a task's id is already known to the caller
// (as distinct from ClaimNext's dequeue-by-agent path).
func (s *Service) StartTask(ctx context.Context, taskID models.TaskID) (*models.AgentTask, error) {
	if err := s.store.MarkStarted(ctx, taskID); err != nil {
		slog.Warn("agenttask: rejected illegal start transition", "task_id", taskID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("agenttask: fetching started task: %w", err)
	}
	s.emitTask(ctx, events.EventTaskStarted, task)
	return task, nil
}

// ClaimNext dequeues and starts the oldest pending task for agentID,
// atomically, and emits TASK_STARTED. Used by the agentruntime worker pool.
func (s *Service) ClaimNext(ctx context.Context, agentID models.AgentID, workerID string) (*models.AgentTask, error) {
	task, err := s.store.ClaimNextTask(ctx, agentID, workerID)
	if err != nil {
		return nil, err
	}
	s.emitTask(ctx, events.EventTaskStarted, task)
	return task, nil
}

// Heartbeat refreshes the liveness marker for a processing task.
func (s *Service) Heartbeat(ctx context.Context, taskID models.TaskID) error {
	return s.store.Heartbeat(ctx, taskID)
}

// CompleteTask transitions processing -> completed, emits TASK_COMPLETED,
// and, for PAPER_PROCESSOR, idempotently records the paper as processed.
func (s *Service) CompleteTask(ctx context.Context, taskID models.TaskID, result models.AgentResult) error {
	if err := s.store.CompleteTask(ctx, taskID, result); err != nil {
		slog.Warn("agenttask: rejected illegal complete transition", "task_id", taskID, "error", err)
		return fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("agenttask: fetching completed task: %w", err)
	}

	if task.AgentID == models.AgentPaperProcessor && task.RunID != "" {
		if err := s.markPaperProcessed(ctx, task); err != nil {
			slog.Error("agenttask: recording processed paper failed", "task_id", taskID, "error", err)
		}
	}

	s.emitTask(ctx, events.EventTaskCompleted, task)
	return nil
}

// markPaperProcessed extracts paper_id from the paper-processor task's input
// and records it, skipping the write entirely if already present — spec
// §4.B requires this be "idempotent: no-op if already present."
func (s *Service) markPaperProcessed(ctx context.Context, task *models.AgentTask) error {
	var body struct {
		PaperID string `json:"paper_id"`
	}
	if err := json.Unmarshal(task.Input, &body); err != nil || body.PaperID == "" {
		return nil
	}
	paperID := models.PaperID(body.PaperID)

	if _, err := s.papers.LastRun(ctx, task.UserID, paperID); err == nil {
		return nil // already recorded — no-op
	}
	return s.papers.MarkProcessed(ctx, task.UserID, paperID, task.RunID)
}

// FailTask transitions processing -> failed and emits TASK_FAILED.
func (s *Service) FailTask(ctx context.Context, taskID models.TaskID, errMsg string) error {
	if err := s.store.FailTask(ctx, taskID, errMsg); err != nil {
		slog.Warn("agenttask: rejected illegal fail transition", "task_id", taskID, "error", err)
		return fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("agenttask: fetching failed task: %w", err)
	}
	s.emitTask(ctx, events.EventTaskFailed, task)
	return nil
}

// TimeoutTask transitions processing -> failed with the standard
// "Task timed out: <reason>" message and emits TASK_TIMEOUT instead of
// TASK_FAILED.
func (s *Service) TimeoutTask(ctx context.Context, taskID models.TaskID, reason string) error {
	msg := "Task timed out: " + reason
	if err := s.store.FailTask(ctx, taskID, msg); err != nil {
		slog.Warn("agenttask: rejected illegal timeout transition", "task_id", taskID, "error", err)
		return fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("agenttask: fetching timed-out task: %w", err)
	}
	s.emitTask(ctx, events.EventTaskTimeout, task)
	return nil
}

// Get fetches the current state of a task, used by pkg/orchestrator after a
// completion notification to read the finished AgentResult/error.
func (s *Service) Get(ctx context.Context, taskID models.TaskID) (*models.AgentTask, error) {
	return s.store.Get(ctx, taskID)
}

func (s *Service) emitTask(ctx context.Context, kind string, task *models.AgentTask) {
	if s.pub == nil {
		return
	}
	payload := events.TaskEventPayload{
		Type: kind, TaskID: string(task.TaskID), AgentID: string(task.AgentID),
		UserID: string(task.UserID), Status: string(task.Status), Timestamp: time.Now(),
		Error:    task.Error,
		Snapshot: taskSnapshot(task),
	}
	if err := s.pub.PublishTask(ctx, task.RunID, payload); err != nil {
		slog.Error("agenttask: publishing event failed", "kind", kind, "task_id", task.TaskID, "error", err)
	}
}

func taskSnapshot(task *models.AgentTask) map[string]any {
	snap := map[string]any{
		"task_id":  string(task.TaskID),
		"agent_id": string(task.AgentID),
		"status":   string(task.Status),
	}
	if task.Error != "" {
		snap["error"] = task.Error
	}
	return snap
}

// Close stops any running background loops started via RunBackgroundDuties.
func (s *Service) Close() {
	s.stopped.Do(func() { close(s.stopCh) })
}
