package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/credit"
	"github.com/paperflow/pipeline/pkg/events"
	"github.com/paperflow/pipeline/pkg/models"
)

// ErrRunNotFound is returned by Cancel when runID has no in-flight run.
var ErrRunNotFound = errors.New("orchestrator: run not in flight")

// Orchestrator drives pipeline runs through the fixed stage DAG (spec
// §4.D). One Orchestrator instance serves every run; concurrency across
// runs is unbounded: neither the Orchestrator nor the HTTP handler that
// calls StartRun enforces QueueConfig.MaxConcurrentPipelines.
type Orchestrator struct {
	tasks   TaskService
	runs    RunStore
	credits CreditGate
	pub     *events.Publisher

	queueCfg     config.QueueConfig
	creditCfg    config.CreditConfig
	pollInterval time.Duration

	mu          sync.Mutex
	cancelFuncs map[models.RunID]context.CancelFunc
	inFlight    map[models.RunID]map[models.TaskID]models.AgentID
	cancellers  map[models.AgentID]TaskCanceller
}

// New builds an Orchestrator. cancellers maps agent_id -> its
// agentruntime.Pool, used to propagate Cancel into an in-flight provider
// call; a nil or partial map is fine, cancellation still stops the
// orchestrator's own wait loop.
func New(tasks TaskService, runs RunStore, credits CreditGate, pub *events.Publisher, queueCfg config.QueueConfig, creditCfg config.CreditConfig, cancellers map[models.AgentID]TaskCanceller) *Orchestrator {
	if queueCfg.RunTimeout <= 0 {
		queueCfg.RunTimeout = 15 * time.Minute
	}
	if queueCfg.MaxConcurrentAgents <= 0 {
		queueCfg.MaxConcurrentAgents = 4
	}
	return &Orchestrator{
		tasks: tasks, runs: runs, credits: credits, pub: pub,
		queueCfg: queueCfg, creditCfg: creditCfg,
		pollInterval: 200 * time.Millisecond,
		cancelFuncs:  make(map[models.RunID]context.CancelFunc),
		inFlight:     make(map[models.RunID]map[models.TaskID]models.AgentID),
		cancellers:   cancellers,
	}
}

// reservationCost resolves the flat pipeline-wide credit cost (spec §4.D,
// DESIGN.md Open Question 1).
func (o *Orchestrator) reservationCost(cfg models.RunConfiguration) int {
	if cfg.CreditReservation > 0 {
		return cfg.CreditReservation
	}
	if o.creditCfg.PipelineReservation > 0 {
		return o.creditCfg.PipelineReservation
	}
	return 30
}

// StartRun implements spec §4.D's run state machine from PENDING through to
// a terminal status, driving every enabled stage in DAG order. It blocks
// until the run reaches a terminal state; callers that want async behavior
// should invoke it in a goroutine and use Cancel/o.runs.Get for control and
// status (spec §6's inbound API).
func (o *Orchestrator) StartRun(ctx context.Context, req StartRunRequest) (*models.PipelineRun, error) {
	if req.RunID == "" {
		req.RunID = models.RunID(uuid.NewString())
	}
	cost := o.reservationCost(req.Configuration)

	run := &models.PipelineRun{
		RunID: req.RunID, PaperID: req.PaperID, UserID: req.UserID,
		Status: models.RunPending, Configuration: req.Configuration,
		Context: make(map[models.AgentID]*models.AgentResult),
	}

	if _, err := o.credits.Reserve(ctx, req.UserID, cost, string(req.RunID)); err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) {
			run.Status = models.RunPendingCredits
			if err := o.runs.Create(ctx, run); err != nil {
				return nil, fmt.Errorf("orchestrator: persisting pending_credits run: %w", err)
			}
			o.emitRun(ctx, run, events.EventPipelineFailed, "")
			return run, nil
		}
		return nil, fmt.Errorf("orchestrator: reserving credits: %w", err)
	}

	run.Status = models.RunInitializing
	now := time.Now()
	run.StartedAt = &now
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: persisting run: %w", err)
	}
	o.emitRun(ctx, run, events.EventPipelineStarted, "")

	runTimeout := o.queueCfg.RunTimeout
	if req.Configuration.RunTimeout > 0 {
		runTimeout = req.Configuration.RunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	o.registerRun(req.RunID, cancel)
	defer o.unregisterRun(req.RunID)
	defer cancel()

	run.Status = models.RunRunning
	_ = o.runs.UpdateStatus(runCtx, req.RunID, models.RunRunning)

	if outcome := o.drive(runCtx, run, req); outcome != nil {
		return o.finalize(ctx, run, outcome)
	}
	return o.finalize(ctx, run, &stageOutcome{completed: true})
}

// stageOutcome carries how the run's stage loop ended, so StartRun's single
// finalize call can apply the right terminal status/refund logic.
type stageOutcome struct {
	completed bool
	cancelled bool
	fatalErr  error
	fatalFrom models.AgentID
}

// drive runs every enabled stage in DAG order, returning nil only when
// every stage ran to completion (success or best-effort failure).
func (o *Orchestrator) drive(ctx context.Context, run *models.PipelineRun, req StartRunRequest) *stageOutcome {
	disabled := run.Configuration.DisabledStages

	if stageEnabled(disabled, models.AgentPaperProcessor) {
		result, err := o.runStage(ctx, run, models.AgentPaperProcessor, req.Input, req.OnProgress, true)
		if outcome := o.handleStageOutcome(run, models.AgentPaperProcessor, result, err); outcome != nil {
			return outcome
		}
	}

	if outcome := o.driveParallelGroup(ctx, run, req.OnProgress); outcome != nil {
		return outcome
	}

	for _, agentID := range SequentialTail {
		if !stageEnabled(disabled, agentID) {
			continue
		}
		input, projErr := buildStageInput(run, upstreamFor(agentID))
		var result *models.AgentResult
		var err error
		if projErr != nil {
			err = projErr
		} else {
			result, err = o.runStage(ctx, run, agentID, input, req.OnProgress, true)
		}
		if outcome := o.handleStageOutcome(run, agentID, result, err); outcome != nil {
			return outcome
		}
	}
	return nil
}

// upstreamFor names the single stage each SequentialTail stage reads its
// input from. QUALITY_CHECKER prefers CONTENT_SUMMARIZER's text (the
// canonical post-parallel-group artifact); later stages chain off the
// immediately preceding stage.
func upstreamFor(agentID models.AgentID) models.AgentID {
	switch agentID {
	case models.AgentQualityChecker:
		return models.AgentContentSummarizer
	case models.AgentCitationFormatter:
		return models.AgentQualityChecker
	case models.AgentCitationVerifier:
		return models.AgentCitationFormatter
	case models.AgentPerplexityResearcher:
		return models.AgentCitationVerifier
	case models.AgentRelatedPaperDiscovery:
		return models.AgentPerplexityResearcher
	default:
		return models.AgentPaperProcessor
	}
}

// driveParallelGroup runs METADATA_ENHANCER/CONTENT_SUMMARIZER/
// CONCEPT_EXPLAINER concurrently (bounded by MaxConcurrentAgents), all
// reading PAPER_PROCESSOR's output, and joins before QUALITY_CHECKER (spec
// §4.D stage graph).
func (o *Orchestrator) driveParallelGroup(ctx context.Context, run *models.PipelineRun, onProgress func(int, models.AgentID)) *stageOutcome {
	disabled := run.Configuration.DisabledStages
	limit := o.queueCfg.MaxConcurrentAgents
	if run.Configuration.MaxConcurrentAgents > 0 {
		limit = run.Configuration.MaxConcurrentAgents
	}
	sem := make(chan struct{}, limit)

	type groupResult struct {
		agentID models.AgentID
		result  *models.AgentResult
		err     error
	}
	var wg sync.WaitGroup
	results := make(map[models.AgentID]groupResult, len(ParallelGroup))
	var resultsMu sync.Mutex

	for _, agentID := range ParallelGroup {
		if !stageEnabled(disabled, agentID) {
			continue
		}
		agentID := agentID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			input, err := buildStageInput(run, models.AgentPaperProcessor)
			var result *models.AgentResult
			if err == nil {
				result, err = o.runStage(ctx, run, agentID, input, onProgress, false)
			}
			resultsMu.Lock()
			results[agentID] = groupResult{agentID: agentID, result: result, err: err}
			resultsMu.Unlock()
		}()
	}
	wg.Wait()

	// Apply outcomes and progress in fixed DAG order, not completion order:
	// goroutine finish order is non-deterministic and would otherwise make
	// progress_percent (and fatal-abort attribution) depend on scheduling.
	var outcome *stageOutcome
	for _, agentID := range ParallelGroup {
		gr, ran := results[agentID]
		if !ran {
			continue
		}
		if gr.err == nil {
			o.reportStageProgress(ctx, run, agentID, onProgress)
		}
		if next := o.handleStageOutcome(run, gr.agentID, gr.result, gr.err); next != nil && outcome == nil {
			outcome = next
		}
	}
	return outcome
}

// handleStageOutcome applies spec §4.D's stage failure policy: a fatal
// stage's failure (or a cancellation) aborts the run; a best-effort stage's
// failure is recorded and the run continues with an empty context entry.
func (o *Orchestrator) handleStageOutcome(run *models.PipelineRun, agentID models.AgentID, result *models.AgentResult, err error) *stageOutcome {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &stageOutcome{cancelled: true, fatalFrom: agentID}
		}
		delete(run.Context, agentID)
		_ = o.runs.AppendError(context.Background(), run.RunID, models.StageError{
			AgentID: agentID, Message: err.Error(), Fatal: IsFatal(agentID), Timestamp: time.Now(),
		})
		run.Errors = append(run.Errors, models.StageError{AgentID: agentID, Message: err.Error(), Fatal: IsFatal(agentID), Timestamp: time.Now()})
		if IsFatal(agentID) {
			return &stageOutcome{fatalErr: err, fatalFrom: agentID}
		}
		return nil
	}

	if !result.Success {
		// A failed-but-returned AgentResult (retries exhausted, err == nil) is
		// absent from the job context exactly like a fatal/cancelled failure
		// above — spec.md Scenario 4's `context["METADATA_ENHANCER"] = null`
		// means genuinely absent, not a present-but-failed result.
		delete(run.Context, agentID)
		msg := result.ErrorMessage
		run.Errors = append(run.Errors, models.StageError{AgentID: agentID, Message: msg, Fatal: IsFatal(agentID), Timestamp: time.Now()})
		_ = o.runs.AppendError(context.Background(), run.RunID, models.StageError{
			AgentID: agentID, Message: msg, Fatal: IsFatal(agentID), Timestamp: time.Now(),
		})
		if IsFatal(agentID) {
			return &stageOutcome{fatalErr: fmt.Errorf("stage %s failed: %s", agentID, msg), fatalFrom: agentID}
		}
		return nil
	}

	run.Context[agentID] = result
	return nil
}

// runStage creates one AgentTask for agentID, waits for it to reach a
// terminal state, records it into the job context, and emits the STAGE_*
// events. Progress reporting is the caller's responsibility (see
// reportProgress): stages in ParallelGroup run concurrently and must not
// each report progress as they individually finish, since completion order
// across goroutines is non-deterministic and would make progress_percent
// appear to go backwards.
func (o *Orchestrator) runStage(ctx context.Context, run *models.PipelineRun, agentID models.AgentID, input json.RawMessage, onProgress func(int, models.AgentID), reportProgress bool) (*models.AgentResult, error) {
	taskID := models.TaskID(uuid.NewString())
	o.registerInFlight(run.RunID, taskID, agentID)
	defer o.unregisterInFlight(run.RunID, taskID)

	o.emitRun(ctx, run, events.EventPipelineStageStarted, agentID)

	if _, err := o.tasks.CreateTask(ctx, taskID, run.RunID, agentID, run.UserID, input); err != nil {
		return nil, fmt.Errorf("orchestrator: creating %s task: %w", agentID, err)
	}

	result, err := o.awaitTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if canceller, ok := o.cancellers[agentID]; ok {
				canceller.CancelTask(taskID)
			}
		}
		return nil, err
	}

	if reportProgress {
		o.reportStageProgress(ctx, run, agentID, onProgress)
	}
	if err := o.runs.AppendContext(ctx, run.RunID, agentID, result); err != nil {
		slog.Warn("orchestrator: appending run context failed", "run_id", run.RunID, "error", err)
	}

	kind := events.EventPipelineStageComplete
	if !result.Success {
		kind = events.EventPipelineStageFailed
	}
	o.emitRun(ctx, run, kind, agentID)

	return result, nil
}

// reportStageProgress applies agentID's fixed ProgressTable percentage to
// the run, the one place progress_percent actually advances.
func (o *Orchestrator) reportStageProgress(ctx context.Context, run *models.PipelineRun, agentID models.AgentID, onProgress func(int, models.AgentID)) {
	percent, ok := ProgressTable[agentID]
	if !ok {
		return
	}
	if err := o.runs.UpdateProgress(ctx, run.RunID, percent, agentID); err != nil {
		slog.Warn("orchestrator: updating progress failed", "run_id", run.RunID, "error", err)
	}
	run.ProgressPercent = percent
	run.CurrentStage = agentID
	if onProgress != nil {
		onProgress(percent, agentID)
	}
}

// awaitTask polls the task service until taskID reaches a terminal state
// (spec §5: "the stage barrier inside the orchestrator" is a suspension
// point). Polling, not the in-process event Bus, drives this: the Bus is
// explicitly fire-and-forget/drop-on-full (see pkg/events.Bus), unsuitable
// for a control-flow dependency that must never silently miss a wakeup.
func (o *Orchestrator) awaitTask(ctx context.Context, taskID models.TaskID) (*models.AgentResult, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			task, err := o.tasks.Get(ctx, taskID)
			if err != nil {
				continue
			}
			switch task.Status {
			case models.TaskCompleted:
				var result models.AgentResult
				if err := json.Unmarshal(task.Result, &result); err != nil {
					return nil, fmt.Errorf("orchestrator: unmarshaling %s result: %w", taskID, err)
				}
				return &result, nil
			case models.TaskFailed:
				return &models.AgentResult{TaskID: taskID, Success: false, ErrorMessage: task.Error}, nil
			}
		}
	}
}

// finalize transitions the run to its terminal status, refunding credits
// per DESIGN.md's single-reservation model: COMPLETED keeps the full
// reservation charged; FAILED and CANCELLED refund it in full, since the
// flat model never partially consumes it mid-run.
func (o *Orchestrator) finalize(ctx context.Context, run *models.PipelineRun, outcome *stageOutcome) (*models.PipelineRun, error) {
	now := time.Now()
	run.CompletedAt = &now

	switch {
	case outcome.cancelled:
		run.Status = models.RunCancelled
		o.refundReservation(ctx, run)
		_ = o.runs.UpdateStatus(ctx, run.RunID, models.RunCancelled)
		o.emitRun(ctx, run, events.EventPipelineCancelled, outcome.fatalFrom)
	case outcome.fatalErr != nil:
		run.Status = models.RunFailed
		o.refundReservation(ctx, run)
		_ = o.runs.UpdateStatus(ctx, run.RunID, models.RunFailed)
		o.emitRun(ctx, run, events.EventPipelineFailed, outcome.fatalFrom)
	default:
		run.Status = models.RunCompleted
		run.ProgressPercent = FinalizeProgress
		_ = o.runs.UpdateProgress(ctx, run.RunID, FinalizeProgress, "")
		_ = o.runs.UpdateStatus(ctx, run.RunID, models.RunCompleted)
		o.emitRun(ctx, run, events.EventPipelineCompleted, "")
	}
	return run, nil
}

func (o *Orchestrator) refundReservation(ctx context.Context, run *models.PipelineRun) {
	cost := o.reservationCost(run.Configuration)
	if _, err := o.credits.Refund(ctx, run.UserID, cost, string(run.RunID)); err != nil {
		slog.Error("orchestrator: refunding reservation failed", "run_id", run.RunID, "error", err)
	}
}

// Cancel requests cancellation of an in-flight run (spec §4.D
// "Cancellation"): it cancels the run's derived context (unblocking
// awaitTask) and propagates into any currently-executing stage task via its
// agent's TaskCanceller.
func (o *Orchestrator) Cancel(runID models.RunID) error {
	o.mu.Lock()
	cancel, ok := o.cancelFuncs[runID]
	inFlight := make(map[models.TaskID]models.AgentID, len(o.inFlight[runID]))
	for taskID, agentID := range o.inFlight[runID] {
		inFlight[taskID] = agentID
	}
	o.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}

	cancel()
	for taskID, agentID := range inFlight {
		if canceller, ok := o.cancellers[agentID]; ok {
			canceller.CancelTask(taskID)
		}
	}
	return nil
}

func (o *Orchestrator) registerRun(runID models.RunID, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelFuncs[runID] = cancel
	o.inFlight[runID] = make(map[models.TaskID]models.AgentID)
}

func (o *Orchestrator) unregisterRun(runID models.RunID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancelFuncs, runID)
	delete(o.inFlight, runID)
}

func (o *Orchestrator) registerInFlight(runID models.RunID, taskID models.TaskID, agentID models.AgentID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[runID] == nil {
		o.inFlight[runID] = make(map[models.TaskID]models.AgentID)
	}
	o.inFlight[runID][taskID] = agentID
}

func (o *Orchestrator) unregisterInFlight(runID models.RunID, taskID models.TaskID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight[runID], taskID)
}

func (o *Orchestrator) emitRun(ctx context.Context, run *models.PipelineRun, kind string, stage models.AgentID) {
	if o.pub == nil {
		return
	}
	payload := events.RunEventPayload{
		Type: kind, RunID: string(run.RunID), PaperID: string(run.PaperID), UserID: string(run.UserID),
		Status: string(run.Status), CurrentStage: string(stage), ProgressPercent: run.ProgressPercent,
		Timestamp: time.Now(),
	}
	if err := o.pub.PublishRun(ctx, run.RunID, payload); err != nil {
		slog.Error("orchestrator: publishing run event failed", "kind", kind, "run_id", run.RunID, "error", err)
	}
}
