package config

import (
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// DefaultReliability is the §4.A per-agent table, exactly as specified.
var DefaultReliability = map[models.AgentID]AgentReliabilityConfig{
	models.AgentPaperProcessor: {
		MaxRetries: 3, InitialDelay: 10 * time.Second, PerAttemptTimeout: 5 * time.Minute, WorkerCount: 4,
	},
	models.AgentContentSummarizer: {
		MaxRetries: 4, InitialDelay: 8 * time.Second, PerAttemptTimeout: 5 * time.Minute, WorkerCount: 4,
	},
	models.AgentConceptExplainer: {
		MaxRetries: 4, InitialDelay: 5 * time.Second, PerAttemptTimeout: 5 * time.Minute, WorkerCount: 4,
	},
	models.AgentMetadataEnhancer: {
		MaxRetries: 4, InitialDelay: 5 * time.Second, PerAttemptTimeout: 3 * time.Minute, WorkerCount: 4,
	},
	models.AgentQualityChecker: {
		MaxRetries: 3, InitialDelay: 6 * time.Second, PerAttemptTimeout: 5 * time.Minute, WorkerCount: 4,
	},
	models.AgentCitationFormatter: {
		MaxRetries: 3, InitialDelay: 4 * time.Second, PerAttemptTimeout: 3 * time.Minute, WorkerCount: 4,
	},
	models.AgentCitationVerifier: {
		MaxRetries: 3, InitialDelay: 6 * time.Second, PerAttemptTimeout: 3 * time.Minute, WorkerCount: 4,
	},
	models.AgentPerplexityResearcher: {
		MaxRetries: 5, InitialDelay: 15 * time.Second, PerAttemptTimeout: 5 * time.Minute, WorkerCount: 4,
	},
	models.AgentRelatedPaperDiscovery: {
		MaxRetries: 4, InitialDelay: 12 * time.Second, PerAttemptTimeout: 5 * time.Minute, WorkerCount: 4,
	},
}

// DefaultCircuitBreaker is the fixed, process-wide circuit breaker config
// (spec §4.A).
var DefaultCircuitBreaker = CircuitBreakerConfig{
	FailureThreshold:     3,
	OpenDuration:         5 * time.Minute,
	HalfOpenProbeTimeout: 45 * time.Second,
}

// DefaultQueue is the §4.B/§4.D/§5 default timing table.
var DefaultQueue = QueueConfig{
	WorkerCount:            4,
	PollInterval:           2 * time.Second,
	PollIntervalJitter:     500 * time.Millisecond,
	HeartbeatInterval:      30 * time.Second,
	TaskTimeout:            5 * time.Minute,
	ReaperInterval:         5 * time.Minute,
	CleanupInterval:        time.Hour,
	CleanupRetention:       7 * 24 * time.Hour,
	MaxConcurrentAgents:    4,
	MaxConcurrentPipelines: 8,
	RunTimeout:             15 * time.Minute,
}

// DefaultCredit is the §4.D default credit-gate configuration.
var DefaultCredit = CreditConfig{
	PipelineReservation: 30,
}

// DefaultRateLimits is the §5 minimum inter-request delay table.
var DefaultRateLimits = []ProviderRateLimit{
	{Provider: "semantic_scholar", MinDelay: 200 * time.Millisecond},
	{Provider: "crossref", MinDelay: 100 * time.Millisecond},
	{Provider: "arxiv", MinDelay: 3 * time.Second},
	{Provider: "perplexity", MinDelay: 500 * time.Millisecond},
	{Provider: "llm", MinDelay: 0},
}

// newDefaultConfig builds a Config populated entirely from the defaults
// above, before any YAML overrides are merged in.
func newDefaultConfig(configDir string) *Config {
	reliability := make(map[models.AgentID]AgentReliabilityConfig, len(DefaultReliability))
	for id, row := range DefaultReliability {
		reliability[id] = row
	}
	return &Config{
		configDir:      configDir,
		Reliability:    reliability,
		CircuitBreaker: DefaultCircuitBreaker,
		Queue:          DefaultQueue,
		Credit:         DefaultCredit,
		RateLimits:     append([]ProviderRateLimit(nil), DefaultRateLimits...),
		Providers:      map[string]ProviderConfig{},
	}
}
