package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/paperflow/pipeline/pkg/events"
	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/reliability"
)

// TaskService is the subset of agenttask.Service the runtime needs, kept as
// an interface so Pool/Worker stay unit-testable without a database.
type TaskService interface {
	ClaimNext(ctx context.Context, agentID models.AgentID, workerID string) (*models.AgentTask, error)
	Heartbeat(ctx context.Context, taskID models.TaskID) error
	CompleteTask(ctx context.Context, taskID models.TaskID, result models.AgentResult) error
	FailTask(ctx context.Context, taskID models.TaskID, errMsg string) error
}

// TokenAccounting is the subset of pkg/credit's service the runtime needs to
// record usage after a successful provider call (spec §4.C step 5, §4.E).
type TokenAccounting interface {
	Record(ctx context.Context, rec models.TokenMetricsRecord) error
}

// PoolConfig configures one agent's worker pool.
type PoolConfig struct {
	AgentID           models.AgentID
	Provider          Provider
	Validate          Validator
	WorkerCount       int // default 4 per spec §4.C
	PollInterval      time.Duration
	PollJitter        time.Duration
	HeartbeatInterval time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return c
}

// Pool is one agent_id's worker pool: WorkerCount goroutines polling,
// claiming, and executing AgentTasks. Grounded on the teacher's
// queue.WorkerPool.
type Pool struct {
	cfg     PoolConfig
	tasks   TaskService
	tokens  TokenAccounting
	env     *reliability.Envelope
	pub     *events.Publisher
	podID   string
	workers []*worker
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	mu       sync.RWMutex
	cancels  map[models.TaskID]context.CancelFunc
	draining bool
}

// NewPool builds a Pool for one agent. podID identifies this process for
// worker ids and task ownership logging.
func NewPool(podID string, cfg PoolConfig, tasks TaskService, tokens TokenAccounting, env *reliability.Envelope, pub *events.Publisher) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg: cfg, tasks: tasks, tokens: tokens, env: env, pub: pub, podID: podID,
		stopCh:  make(chan struct{}),
		cancels: make(map[models.TaskID]context.CancelFunc),
	}
}

// Start spawns WorkerCount worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := &worker{
			id:   fmt.Sprintf("%s-%s-%d", p.podID, p.cfg.AgentID, i),
			pool: p,
		}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
}

// Drain stops accepting new claims but lets in-flight tasks finish, then
// blocks until they do — grounded on the teacher's WorkerPool.Stop()
// graceful-shutdown semantics, exposed as the `drain` CLI subcommand.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Stop signals every worker to exit (after finishing its current task, if
// any) and waits for them to return.
func (p *Pool) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// CancelTask cancels an in-flight task's context if this pool owns it.
// Returns true if found.
func (p *Pool) CancelTask(taskID models.TaskID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cancel, ok := p.cancels[taskID]
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) registerTask(taskID models.TaskID, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[taskID] = cancel
}

func (p *Pool) unregisterTask(taskID models.TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, taskID)
}

func (p *Pool) isDraining() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.draining
}

// pollInterval returns PollInterval ± PollJitter, grounded on the teacher's
// Worker.pollInterval().
func (p *Pool) pollInterval() time.Duration {
	base, jitter := p.cfg.PollInterval, p.cfg.PollJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

type worker struct {
	id   string
	pool *Pool
}

func (w *worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id, "agent_id", w.pool.cfg.AgentID)
	log.Info("agentruntime worker started")
	for {
		select {
		case <-w.pool.stopCh:
			log.Info("agentruntime worker stopping")
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.pool.isDraining() {
			return
		}

		task, err := w.pool.tasks.ClaimNext(ctx, w.pool.cfg.AgentID, w.id)
		if err != nil {
			w.sleep(w.pool.pollInterval())
			continue
		}

		w.process(ctx, task)
	}
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.pool.stopCh:
	case <-time.After(d):
	}
}

// heartbeat keeps a claimed task's heartbeat_at fresh while process() runs,
// so the orphan scan (pkg/agenttask's heartbeat-based reaper) doesn't mistake
// a slow-but-alive task for a crashed worker. Grounded on the teacher's
// Worker.runHeartbeat in pkg/queue/worker.go.
func (w *worker) heartbeat(ctx context.Context, taskID models.TaskID, stop <-chan struct{}) {
	ticker := time.NewTicker(w.pool.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := w.pool.tasks.Heartbeat(ctx, taskID); err != nil {
				slog.Warn("agentruntime: heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// process implements spec §4.C steps 2-7 for one claimed task (step 1,
// start_task, already happened inside ClaimNext).
func (w *worker) process(ctx context.Context, task *models.AgentTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	w.pool.registerTask(task.TaskID, cancel)
	defer func() {
		cancel()
		w.pool.unregisterTask(task.TaskID)
	}()

	stopHeartbeat := make(chan struct{})
	go w.heartbeat(taskCtx, task.TaskID, stopHeartbeat)
	defer close(stopHeartbeat)

	start := time.Now()
	resp, err := reliability.ExecuteWithRetry(taskCtx, w.pool.env, w.pool.cfg.AgentID,
		func(ctx context.Context) (*ProviderResponse, error) {
			return w.pool.cfg.Provider.Invoke(ctx, task.Input)
		})
	elapsed := time.Since(start)

	if err != nil {
		w.finalizeFailure(ctx, task, err)
		return
	}

	data, degraded, parseErr := parseResult(resp.Data, w.pool.cfg.Validate)
	if parseErr != nil {
		w.finalizeFailure(ctx, task, parseErr)
		return
	}

	w.recordTokens(ctx, task, resp, data)

	result := models.AgentResult{
		TaskID: task.TaskID, Success: true, ResultData: data,
		ProcessingTime: elapsed, Degraded: degraded, RawPayload: rawPayloadIfDegraded(degraded, resp.Data),
	}
	if err := w.pool.tasks.CompleteTask(ctx, task.TaskID, result); err != nil {
		slog.Error("agentruntime: complete_task failed", "task_id", task.TaskID, "error", err)
	}
}

func rawPayloadIfDegraded(degraded bool, raw json.RawMessage) json.RawMessage {
	if !degraded {
		return nil
	}
	return raw
}

// finalizeFailure fails the task with one of two reasons: "cancelled" for a
// cancelled context (its circuit/stats exemption is already handled inside
// ExecuteWithRetry), or the error's own text for every other failure,
// including an open circuit and exhausted or non-retryable errors.
func (w *worker) finalizeFailure(ctx context.Context, task *models.AgentTask, err error) {
	var msg string
	switch {
	case taskCtxCancelled(err):
		msg = "cancelled"
	default:
		msg = err.Error()
	}
	if failErr := w.pool.tasks.FailTask(ctx, task.TaskID, msg); failErr != nil {
		slog.Error("agentruntime: fail_task failed", "task_id", task.TaskID, "error", failErr)
	}
}

func taskCtxCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (w *worker) recordTokens(ctx context.Context, task *models.AgentTask, resp *ProviderResponse, data json.RawMessage) {
	if w.pool.tokens == nil {
		return
	}
	inputTokens, outputTokens := resp.InputTokens, resp.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		outputTokens = EstimateTokens(string(data))
	}
	rec := models.TokenMetricsRecord{
		UserID: task.UserID, AgentType: task.AgentID, TaskID: task.TaskID,
		InputTokens: inputTokens, OutputTokens: outputTokens,
		TotalTokens: inputTokens + outputTokens, EstimatedCost: resp.Cost,
		Success: true, Timestamp: time.Now(),
	}
	if err := w.pool.tokens.Record(ctx, rec); err != nil {
		slog.Error("agentruntime: token accounting record failed", "task_id", task.TaskID, "error", err)
	}
}
