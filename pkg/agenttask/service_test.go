package agenttask

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/events"
	"github.com/paperflow/pipeline/pkg/models"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[models.TaskID]*models.AgentTask
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[models.TaskID]*models.AgentTask)}
}

func (m *memStore) CreateTask(ctx context.Context, t *models.AgentTask, runID models.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.RunID = runID
	m.tasks[t.TaskID] = &cp
	return nil
}

func (m *memStore) MarkStarted(ctx context.Context, taskID models.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskPending {
		return errors.New("not pending")
	}
	now := time.Now()
	t.Status = models.TaskProcessing
	t.StartedAt = &now
	return nil
}

func (m *memStore) ClaimNextTask(ctx context.Context, agentID models.AgentID, workerID string) (*models.AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.AgentID == agentID && t.Status == models.TaskPending {
			now := time.Now()
			t.Status = models.TaskProcessing
			t.StartedAt = &now
			cp := *t
			return &cp, nil
		}
	}
	return nil, errors.New("no task available")
}

func (m *memStore) Heartbeat(ctx context.Context, taskID models.TaskID) error { return nil }

func (m *memStore) CompleteTask(ctx context.Context, taskID models.TaskID, result models.AgentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskProcessing {
		return errors.New("not processing")
	}
	now := time.Now()
	t.Status = models.TaskCompleted
	t.CompletedAt = &now
	body, _ := json.Marshal(result)
	t.Result = body
	return nil
}

func (m *memStore) FailTask(ctx context.Context, taskID models.TaskID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != models.TaskProcessing {
		return errors.New("not processing")
	}
	now := time.Now()
	t.Status = models.TaskFailed
	t.CompletedAt = &now
	t.Error = errMsg
	return nil
}

func (m *memStore) ListStaleProcessing(ctx context.Context, startedBefore time.Duration) ([]models.TaskID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskID
	cutoff := time.Now().Add(-startedBefore)
	for id, t := range m.tasks {
		if t.Status == models.TaskProcessing && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) ClaimOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return 0, nil
}

func (m *memStore) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (m *memStore) Get(ctx context.Context, taskID models.TaskID) (*models.AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *t
	return &cp, nil
}

type memPapers struct {
	mu      sync.Mutex
	records map[string]models.RunID
}

func newMemPapers() *memPapers { return &memPapers{records: make(map[string]models.RunID)} }

func (p *memPapers) key(userID models.UserID, paperID models.PaperID) string {
	return string(userID) + "/" + string(paperID)
}

func (p *memPapers) LastRun(ctx context.Context, userID models.UserID, paperID models.PaperID) (models.RunID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	runID, ok := p.records[p.key(userID, paperID)]
	if !ok {
		return "", errors.New("not found")
	}
	return runID, nil
}

func (p *memPapers) MarkProcessed(ctx context.Context, userID models.UserID, paperID models.PaperID, runID models.RunID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[p.key(userID, paperID)] = runID
	return nil
}

type recordingStore struct{}

func (recordingStore) PersistAndNotify(ctx context.Context, runID models.RunID, kind string, payload []byte, channel string) (int64, error) {
	return 1, nil
}

func newTestService() (*Service, *memStore, *memPapers) {
	store := newMemStore()
	papers := newMemPapers()
	pub := events.NewPublisher(recordingStore{}, events.NewBus())
	return NewService(store, papers, pub), store, papers
}

func TestCreateStartComplete_HappyPath(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	input, _ := json.Marshal(map[string]string{"paper_id": "paper-1"})
	task, err := svc.CreateTask(ctx, "task-1", "run-1", models.AgentPaperProcessor, "user-1", input)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)

	started, err := svc.StartTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, started.Status)

	err = svc.CompleteTask(ctx, "task-1", models.AgentResult{TaskID: "task-1", Success: true})
	require.NoError(t, err)

	final, err := svc.store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, final.Status)
}

func TestCompleteTask_PaperProcessorRecordsProcessedPaperIdempotently(t *testing.T) {
	svc, _, papers := newTestService()
	ctx := context.Background()

	input, _ := json.Marshal(map[string]string{"paper_id": "paper-42"})
	_, err := svc.CreateTask(ctx, "task-2", "run-7", models.AgentPaperProcessor, "user-9", input)
	require.NoError(t, err)
	_, err = svc.StartTask(ctx, "task-2")
	require.NoError(t, err)
	require.NoError(t, svc.CompleteTask(ctx, "task-2", models.AgentResult{TaskID: "task-2", Success: true}))

	lastRun, err := papers.LastRun(ctx, "user-9", "paper-42")
	require.NoError(t, err)
	assert.Equal(t, models.RunID("run-7"), lastRun)

	// Re-creating and completing another task for the same paper must not
	// clobber the recorded run id via a second, redundant write path issue —
	// MarkProcessed is itself idempotent from the caller's perspective since
	// LastRun short-circuits when a record already exists.
	_, err = svc.CreateTask(ctx, "task-3", "run-8", models.AgentPaperProcessor, "user-9", input)
	require.NoError(t, err)
	_, err = svc.StartTask(ctx, "task-3")
	require.NoError(t, err)
	require.NoError(t, svc.CompleteTask(ctx, "task-3", models.AgentResult{TaskID: "task-3", Success: true}))

	lastRun, err = papers.LastRun(ctx, "user-9", "paper-42")
	require.NoError(t, err)
	assert.Equal(t, models.RunID("run-7"), lastRun, "first recorded run must stick; no-op on repeat")
}

func TestFailTask_RejectsIllegalTransitionFromCompleted(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "task-4", "run-1", models.AgentQualityChecker, "user-1", []byte("{}"))
	require.NoError(t, err)
	_, err = svc.StartTask(ctx, "task-4")
	require.NoError(t, err)
	require.NoError(t, svc.CompleteTask(ctx, "task-4", models.AgentResult{TaskID: "task-4", Success: true}))

	err = svc.FailTask(ctx, "task-4", "too late")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	task, err := svc.store.Get(ctx, "task-4")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status, "status must not be silently overwritten")
}

func TestTimeoutTask_SetsStandardMessageAndTerminalStatus(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "task-5", "run-1", models.AgentCitationVerifier, "user-1", []byte("{}"))
	require.NoError(t, err)
	_, err = svc.StartTask(ctx, "task-5")
	require.NoError(t, err)

	require.NoError(t, svc.TimeoutTask(ctx, "task-5", "provider unresponsive"))

	task, err := svc.store.Get(ctx, "task-5")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, "Task timed out: provider unresponsive", task.Error)
}

func TestReapTimedOutTasks_TimesOutStaleProcessingTasks(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "task-6", "run-1", models.AgentConceptExplainer, "user-1", []byte("{}"))
	require.NoError(t, err)
	_, err = svc.StartTask(ctx, "task-6")
	require.NoError(t, err)

	// Backdate started_at past the stale threshold.
	store.mu.Lock()
	old := time.Now().Add(-TaskStaleAfter - time.Minute)
	store.tasks["task-6"].StartedAt = &old
	store.mu.Unlock()

	require.NoError(t, svc.reapTimedOutTasks(ctx))

	task, err := svc.store.Get(ctx, "task-6")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Contains(t, task.Error, "Task timed out")
}
