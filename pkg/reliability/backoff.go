package reliability

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AgentBackoffConfig is one row of the §4.A per-agent reliability table.
type AgentBackoffConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	PerAttemptTimeout time.Duration
}

// maxBackoffInterval caps every agent's delay at 30s regardless of
// max_retries/initial_delay (spec §4.A backoff formula).
const maxBackoffInterval = 30 * time.Second

// newExponentialBackoff builds a cenkalti/backoff/v4 policy matching the
// spec's formula exactly: delay(n) = min(initial_delay * 2^n * (1 ± jitter),
// 30s), jitter uniform in [0, 0.5], with the first attempt unconditional
// (ExponentialBackOff's first NextBackOff call uses InitialInterval itself,
// before any multiplication — so attempt 0 never waits, matching the spec).
func newExponentialBackoff(cfg AgentBackoffConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialDelay
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.5
	eb.MaxInterval = maxBackoffInterval
	eb.MaxElapsedTime = 0 // unbounded elapsed time; max_retries caps attempts instead
	eb.Reset()

	return backoff.WithMaxRetries(eb, uint64(cfg.MaxRetries))
}
