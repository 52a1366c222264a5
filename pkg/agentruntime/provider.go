// Package agentruntime owns the per-agent worker pool (spec §4.C): one
// instance per agent_id, each polling for pending tasks, dispatching them to
// a provider client under the Reliability Envelope, and finalizing through
// the AgentTask service. Grounded on the teacher's pkg/queue/pool.go and
// pkg/queue/worker.go (pool owns N workers + background goroutine; worker
// owns claim/execute/finalize loop).
package agentruntime

import (
	"context"
	"encoding/json"
)

// Provider is the black-box external call an agent makes — an LLM
// completion, a Crossref lookup, whatever backs this agent_id. Spec §6
// treats every outbound client as "black boxes behind an interface
// returning Future<RawJson>"; Invoke is that interface's synchronous form
// (cancellation is carried by ctx, same effect as a cancellable future).
type Provider interface {
	Invoke(ctx context.Context, input json.RawMessage) (*ProviderResponse, error)
}

// ProviderResponse is the raw result of one provider call plus whatever
// usage metadata the provider reported.
type ProviderResponse struct {
	Data json.RawMessage
	// InputTokens/OutputTokens are zero when the provider didn't report
	// them; the caller then estimates via EstimateTokens.
	InputTokens  int
	OutputTokens int
	// Cost is the provider's own cost estimate, if it reports one; zero
	// otherwise, and the caller records that zero as the estimated cost.
	Cost float64
}

// EstimateTokens implements spec §4.C step 5's fallback: "estimate as
// ceil(chars / 4)" when a provider response carries no token counts.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
