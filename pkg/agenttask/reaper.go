package agenttask

import (
	"context"
	"log/slog"
	"time"
)

// RunBackgroundDuties starts the timeout reaper, the cleanup sweep, and the
// heartbeat-based orphan scan, and blocks until ctx is cancelled or Close is
// called. Grounded on the teacher's runOrphanDetection ticker loop shape.
func (s *Service) RunBackgroundDuties(ctx context.Context) {
	go s.runTimeoutReaper(ctx)
	go s.runCleanupSweep(ctx)
	go s.runOrphanScan(ctx)
	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}
}

// runTimeoutReaper implements spec §4.B's plain reaper: any task in
// "processing" whose started_at predates TaskStaleAfter is moved to the
// terminal "failed" state via TimeoutTask, emitting TASK_TIMEOUT.
func (s *Service) runTimeoutReaper(ctx context.Context) {
	ticker := time.NewTicker(TimeoutReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.reapTimedOutTasks(ctx); err != nil {
				slog.Error("agenttask: timeout reaper failed", "error", err)
			}
		}
	}
}

func (s *Service) reapTimedOutTasks(ctx context.Context) error {
	stale, err := s.store.ListStaleProcessing(ctx, TaskStaleAfter)
	if err != nil {
		return err
	}
	for _, taskID := range stale {
		reason := "processing exceeded " + TaskStaleAfter.String()
		if err := s.TimeoutTask(ctx, taskID, reason); err != nil {
			slog.Error("agenttask: timing out stale task failed", "task_id", taskID, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Warn("agenttask: timeout reaper processed stale tasks", "count", len(stale))
	}
	return nil
}

// runOrphanScan is the [EXPANSION] heartbeat-based worker-crash detector: it
// resets tasks abandoned by a dead worker (stale heartbeat) back to pending
// so another worker picks them up, rather than failing them outright.
func (s *Service) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(OrphanScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			n, err := s.store.ClaimOrphans(ctx, OrphanHeartbeatThreshold)
			if err != nil {
				slog.Error("agenttask: orphan scan failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("agenttask: recovered orphaned tasks to pending", "count", n)
			}
		}
	}
}

func (s *Service) runCleanupSweep(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			n, err := s.store.CleanupOld(ctx, CleanupRetention)
			if err != nil {
				slog.Error("agenttask: cleanup sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("agenttask: cleanup sweep deleted terminal tasks", "count", n)
			}
		}
	}
}
