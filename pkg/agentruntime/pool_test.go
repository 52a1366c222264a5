package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/reliability"
)

type fakeProvider struct {
	mu       sync.Mutex
	invoke   func(ctx context.Context, input json.RawMessage) (*ProviderResponse, error)
	numCalls int
}

func (f *fakeProvider) Invoke(ctx context.Context, input json.RawMessage) (*ProviderResponse, error) {
	f.mu.Lock()
	f.numCalls++
	f.mu.Unlock()
	return f.invoke(ctx, input)
}

type fakeTaskService struct {
	mu        sync.Mutex
	pending   []*models.AgentTask
	completed map[models.TaskID]models.AgentResult
	failed    map[models.TaskID]string
	claimed   chan struct{}
}

func newFakeTaskService(tasks ...*models.AgentTask) *fakeTaskService {
	return &fakeTaskService{
		pending: tasks, completed: make(map[models.TaskID]models.AgentResult),
		failed: make(map[models.TaskID]string), claimed: make(chan struct{}, 16),
	}
}

func (f *fakeTaskService) ClaimNext(ctx context.Context, agentID models.AgentID, workerID string) (*models.AgentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.pending {
		if t.AgentID == agentID {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			f.claimed <- struct{}{}
			return t, nil
		}
	}
	return nil, errors.New("no task available")
}

func (f *fakeTaskService) Heartbeat(ctx context.Context, taskID models.TaskID) error { return nil }

func (f *fakeTaskService) CompleteTask(ctx context.Context, taskID models.TaskID, result models.AgentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[taskID] = result
	return nil
}

func (f *fakeTaskService) FailTask(ctx context.Context, taskID models.TaskID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[taskID] = errMsg
	return nil
}

func testPoolEnvelope(agentID models.AgentID) *reliability.Envelope {
	return reliability.NewEnvelope(
		map[models.AgentID]reliability.AgentBackoffConfig{
			agentID: {MaxRetries: 2, InitialDelay: time.Millisecond, PerAttemptTimeout: time.Second},
		},
		reliability.CircuitBreakerConfig{FailureThreshold: 5, OpenDuration: 50 * time.Millisecond, HalfOpenProbeTimeout: 10 * time.Millisecond},
	)
}

func waitForCompletion(t *testing.T, ts *fakeTaskService, taskID models.TaskID, timeout time.Duration) models.AgentResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		result, ok := ts.completed[taskID]
		ts.mu.Unlock()
		if ok {
			return result
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never completed", taskID)
	return models.AgentResult{}
}

func waitForFailure(t *testing.T, ts *fakeTaskService, taskID models.TaskID, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		msg, ok := ts.failed[taskID]
		ts.mu.Unlock()
		if ok {
			return msg
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never failed", taskID)
	return ""
}

func TestPool_ProcessesTaskSuccessfully(t *testing.T) {
	agentID := models.AgentCitationVerifier
	task := &models.AgentTask{TaskID: "t-1", AgentID: agentID, UserID: "u-1", Status: models.TaskProcessing}
	ts := newFakeTaskService(task)

	provider := &fakeProvider{invoke: func(ctx context.Context, input json.RawMessage) (*ProviderResponse, error) {
		return &ProviderResponse{Data: json.RawMessage(`{"verified":true}`), InputTokens: 10, OutputTokens: 5}, nil
	}}

	pool := NewPool("pod-1", PoolConfig{AgentID: agentID, Provider: provider, WorkerCount: 1, PollInterval: time.Millisecond}, ts, nil, testPoolEnvelope(agentID), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	result := waitForCompletion(t, ts, "t-1", time.Second)
	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.JSONEq(t, `{"verified":true}`, string(result.ResultData))
}

func TestPool_DegradesNonConformingButValidJSON(t *testing.T) {
	agentID := models.AgentQualityChecker
	task := &models.AgentTask{TaskID: "t-2", AgentID: agentID, UserID: "u-1", Status: models.TaskProcessing}
	ts := newFakeTaskService(task)

	provider := &fakeProvider{invoke: func(ctx context.Context, input json.RawMessage) (*ProviderResponse, error) {
		return &ProviderResponse{Data: json.RawMessage(`{"unexpected_shape":"value"}`)}, nil
	}}

	alwaysInvalid := func(raw json.RawMessage) error { return errors.New("schema mismatch") }
	pool := NewPool("pod-1", PoolConfig{AgentID: agentID, Provider: provider, Validate: alwaysInvalid, WorkerCount: 1, PollInterval: time.Millisecond}, ts, nil, testPoolEnvelope(agentID), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	result := waitForCompletion(t, ts, "t-2", time.Second)
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.RawPayload)
}

func TestPool_FailsTaskAfterRetriesExhausted(t *testing.T) {
	agentID := models.AgentPerplexityResearcher
	task := &models.AgentTask{TaskID: "t-3", AgentID: agentID, UserID: "u-1", Status: models.TaskProcessing}
	ts := newFakeTaskService(task)

	provider := &fakeProvider{invoke: func(ctx context.Context, input json.RawMessage) (*ProviderResponse, error) {
		return nil, reliability.ErrTransient
	}}

	pool := NewPool("pod-1", PoolConfig{AgentID: agentID, Provider: provider, WorkerCount: 1, PollInterval: time.Millisecond}, ts, nil, testPoolEnvelope(agentID), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	msg := waitForFailure(t, ts, "t-3", time.Second)
	assert.Contains(t, msg, "transient")
}

func TestPool_CancelTaskMarksFailedAsCancelled(t *testing.T) {
	agentID := models.AgentMetadataEnhancer
	task := &models.AgentTask{TaskID: "t-4", AgentID: agentID, UserID: "u-1", Status: models.TaskProcessing}
	ts := newFakeTaskService(task)

	invoked := make(chan struct{})
	provider := &fakeProvider{invoke: func(ctx context.Context, input json.RawMessage) (*ProviderResponse, error) {
		close(invoked)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	pool := NewPool("pod-1", PoolConfig{AgentID: agentID, Provider: provider, WorkerCount: 1, PollInterval: time.Millisecond}, ts, nil, testPoolEnvelope(agentID), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	<-invoked
	require.Eventually(t, func() bool { return pool.CancelTask("t-4") }, time.Second, time.Millisecond)

	msg := waitForFailure(t, ts, "t-4", time.Second)
	assert.Equal(t, "cancelled", msg)
}
