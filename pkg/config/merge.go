package config

import (
	"fmt"

	"dario.cat/mergo"
)

// yamlOverlay is the subset of Config fields an operator may set in
// paperflow.yaml. Fields left zero-valued do not override the defaults
// (mergo.WithOverride only replaces non-zero values).
type yamlOverlay struct {
	Reliability    map[string]AgentReliabilityConfig `yaml:"reliability"`
	CircuitBreaker CircuitBreakerConfig               `yaml:"circuit_breaker"`
	Queue          QueueConfig                        `yaml:"queue"`
	Credit         CreditConfig                       `yaml:"credit"`
	RateLimits     []ProviderRateLimit                `yaml:"rate_limits"`
	Providers      map[string]ProviderConfig          `yaml:"providers"`
	DisabledStages []string                           `yaml:"disabled_stages"`
}

// mergeOverlay merges a parsed YAML overlay onto the default Config.
// User-supplied values win; omitted fields keep their default.
func mergeOverlay(base *Config, overlay *yamlOverlay) error {
	for name, row := range overlay.Reliability {
		id := agentIDFromString(name)
		if id == "" {
			return fmt.Errorf("config: unknown agent id %q in reliability table", name)
		}
		merged := base.Reliability[id]
		if err := mergo.Merge(&merged, row, mergo.WithOverride); err != nil {
			return fmt.Errorf("config: merging reliability row for %s: %w", id, err)
		}
		base.Reliability[id] = merged
	}

	if err := mergo.Merge(&base.CircuitBreaker, overlay.CircuitBreaker, mergo.WithOverride); err != nil {
		return fmt.Errorf("config: merging circuit breaker config: %w", err)
	}
	if err := mergo.Merge(&base.Queue, overlay.Queue, mergo.WithOverride); err != nil {
		return fmt.Errorf("config: merging queue config: %w", err)
	}
	if err := mergo.Merge(&base.Credit, overlay.Credit, mergo.WithOverride); err != nil {
		return fmt.Errorf("config: merging credit config: %w", err)
	}

	if len(overlay.RateLimits) > 0 {
		merged := append([]ProviderRateLimit(nil), base.RateLimits...)
		for _, rl := range overlay.RateLimits {
			found := false
			for i, existing := range merged {
				if existing.Provider == rl.Provider {
					merged[i] = rl
					found = true
					break
				}
			}
			if !found {
				merged = append(merged, rl)
			}
		}
		base.RateLimits = merged
	}

	for name, pc := range overlay.Providers {
		base.Providers[name] = pc
	}

	for _, name := range overlay.DisabledStages {
		id := agentIDFromString(name)
		if id == "" {
			return fmt.Errorf("config: unknown agent id %q in disabled_stages", name)
		}
		base.DisabledStages = append(base.DisabledStages, id)
	}

	return nil
}
