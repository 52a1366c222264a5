// Package config loads and validates paperflow's YAML configuration: the
// per-agent reliability envelope table (§4.A), queue/worker-pool sizing,
// credit costs, and provider connection settings.
package config

import (
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// AgentReliabilityConfig is one row of the §4.A per-agent table.
type AgentReliabilityConfig struct {
	MaxRetries        int           `yaml:"max_retries" validate:"min=0"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	PerAttemptTimeout time.Duration `yaml:"per_attempt_timeout"`
	// WorkerCount is the size of this agent's worker pool (§4.C, default 4).
	WorkerCount int `yaml:"worker_count,omitempty"`
}

// CircuitBreakerConfig is the single, process-wide set of circuit parameters
// (spec §4.A — these are not per-agent, only the failure counters are).
type CircuitBreakerConfig struct {
	FailureThreshold     int           `yaml:"failure_threshold"`
	OpenDuration         time.Duration `yaml:"open_duration"`
	HalfOpenProbeTimeout time.Duration `yaml:"half_open_probe_timeout"`
}

// QueueConfig governs AgentTask polling/claiming and background workers,
// mirroring the shape of the teacher's queue.Config.
type QueueConfig struct {
	WorkerCount            int           `yaml:"worker_count"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	PollIntervalJitter     time.Duration `yaml:"poll_interval_jitter"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	TaskTimeout            time.Duration `yaml:"task_timeout"`             // reaper threshold, §4.B (5m)
	ReaperInterval         time.Duration `yaml:"reaper_interval"`          // §4.B (5m)
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`         // §4.B (1h)
	CleanupRetention       time.Duration `yaml:"cleanup_retention"`        // §4.B (7d)
	MaxConcurrentAgents    int           `yaml:"max_concurrent_agents"`    // §4.D fan-out bound (4)
	MaxConcurrentPipelines int           `yaml:"max_concurrent_pipelines"` // §5 (8)
	RunTimeout             time.Duration `yaml:"run_timeout"`              // §5 (15m)
}

// CreditConfig governs the credit gate (spec §4.D, Open Question 1).
type CreditConfig struct {
	// PipelineReservation is the flat per-run credit cost reserved up front.
	PipelineReservation int `yaml:"pipeline_reservation"`
	// StageCosts is an optional per-agent cost table, consulted by
	// HasCredits/charge for out-of-pipeline single-agent billing. See
	// DESIGN.md Open Question 1.
	StageCosts map[models.AgentID]int `yaml:"stage_costs,omitempty"`
}

// ProviderRateLimit is the minimum inter-request delay enforced per external
// provider (spec §5).
type ProviderRateLimit struct {
	Provider string        `yaml:"provider"`
	MinDelay time.Duration `yaml:"min_delay"`
}

// ProviderConfig holds connection settings for one external provider client.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	UserAgent      string        `yaml:"user_agent,omitempty"`
}

// Config is the umbrella configuration object, the primary object returned
// by Load() and used throughout the application.
type Config struct {
	configDir string

	Reliability    map[models.AgentID]AgentReliabilityConfig `yaml:"reliability"`
	CircuitBreaker CircuitBreakerConfig                      `yaml:"circuit_breaker"`
	Queue          QueueConfig                               `yaml:"queue"`
	Credit         CreditConfig                              `yaml:"credit"`
	RateLimits     []ProviderRateLimit                        `yaml:"rate_limits"`
	Providers      map[string]ProviderConfig                  `yaml:"providers"`
	DisabledStages []models.AgentID                           `yaml:"disabled_stages,omitempty"`
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ReliabilityFor returns the agent's reliability row, falling back to the
// DefaultReliability table entry if the operator omitted it from YAML.
func (c *Config) ReliabilityFor(id models.AgentID) AgentReliabilityConfig {
	if row, ok := c.Reliability[id]; ok {
		return row
	}
	return DefaultReliability[id]
}

// RateLimitFor returns the configured minimum inter-request delay for a
// provider, or 0 if none is configured.
func (c *Config) RateLimitFor(provider string) time.Duration {
	for _, rl := range c.RateLimits {
		if rl.Provider == provider {
			return rl.MinDelay
		}
	}
	return 0
}
