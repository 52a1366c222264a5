package reliability

import (
	"sync"

	"github.com/paperflow/pipeline/pkg/models"
)

// Stats keeps the process-wide, in-memory RetryMetrics counters per agent
// (spec §4.A). The Envelope mirrors each recorded outcome into its Store
// (pkg/pgdb) so counters survive restarts; Stats itself has no persistence
// dependency.
type Stats struct {
	mu      sync.Mutex
	metrics map[models.AgentID]*models.RetryMetrics
}

// NewStats returns an empty Stats tracker.
func NewStats() *Stats {
	return &Stats{metrics: make(map[models.AgentID]*models.RetryMetrics)}
}

// Seed installs a starting value for an agent, used to restore counters
// persisted from a previous process.
func (s *Stats) Seed(m models.RetryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.metrics[m.AgentID] = &cp
}

// Record applies one completed outer operation's outcome to the counters.
// attempts is the total number of calls made (including the first); retried
// is true when attempts > 1; succeeded is the final outcome.
//
// This is the CRITICAL CONTRACT from spec §4.A: successful_operations counts
// BOTH first-attempt successes and eventual-retry successes — the known
// source bug this corrects counted only the latter.
func (s *Stats) Record(agentID models.AgentID, attempts int64, retried, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metrics[agentID]
	if m == nil {
		m = &models.RetryMetrics{AgentID: agentID}
		s.metrics[agentID] = m
	}

	m.TotalAttempts += attempts
	if attempts > 1 {
		m.TotalRetries += attempts - 1
	}
	if succeeded {
		m.SuccessfulOperations++
		if retried {
			m.SuccessfulRetries++
		}
	} else {
		m.FailedOperations++
	}
}

// Get returns a copy of the current counters for one agent.
func (s *Stats) Get(agentID models.AgentID) models.RetryMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.metrics[agentID]; m != nil {
		return *m
	}
	return models.RetryMetrics{AgentID: agentID}
}

// All returns a copy of every tracked agent's counters, used by the
// dump-stats admin command.
func (s *Stats) All() []models.RetryMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RetryMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, *m)
	}
	return out
}

// Reset zeroes one agent's counters (admin reset-stats command).
func (s *Stats) Reset(agentID models.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[agentID] = &models.RetryMetrics{AgentID: agentID}
}
