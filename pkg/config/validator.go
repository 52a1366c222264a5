package config

import "github.com/paperflow/pipeline/pkg/models"

// validate checks the fully-merged Config for internal consistency,
// including that the per-agent table still covers every known agent after
// the YAML overlay was merged over newDefaultConfig.
func validate(cfg *Config) error {
	for _, id := range models.AllAgentIDs {
		row, ok := cfg.Reliability[id]
		if !ok {
			return newValidationError("reliability", "missing row for agent "+string(id))
		}
		if row.MaxRetries < 0 {
			return newValidationError("reliability."+string(id)+".max_retries", "must be >= 0")
		}
		if row.PerAttemptTimeout <= 0 {
			return newValidationError("reliability."+string(id)+".per_attempt_timeout", "must be > 0")
		}
		if row.WorkerCount <= 0 {
			return newValidationError("reliability."+string(id)+".worker_count", "must be > 0")
		}
	}

	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		return newValidationError("circuit_breaker.failure_threshold", "must be > 0")
	}
	if cfg.CircuitBreaker.OpenDuration <= 0 {
		return newValidationError("circuit_breaker.open_duration", "must be > 0")
	}

	if cfg.Queue.MaxConcurrentAgents <= 0 {
		return newValidationError("queue.max_concurrent_agents", "must be > 0")
	}
	if cfg.Queue.MaxConcurrentPipelines <= 0 {
		return newValidationError("queue.max_concurrent_pipelines", "must be > 0")
	}
	if cfg.Queue.TaskTimeout <= 0 {
		return newValidationError("queue.task_timeout", "must be > 0")
	}

	if cfg.Credit.PipelineReservation < 0 {
		return newValidationError("credit.pipeline_reservation", "must be >= 0")
	}

	for _, id := range cfg.DisabledStages {
		if !id.Valid() {
			return newValidationError("disabled_stages", "unknown agent id "+string(id))
		}
	}

	return nil
}
