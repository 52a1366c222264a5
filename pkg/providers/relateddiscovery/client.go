// Package relateddiscovery composes Semantic Scholar and arXiv into
// RELATED_PAPER_DISCOVERY's agentruntime.Provider (spec §4.F lists both as
// backing this agent): Semantic Scholar supplies citation-graph neighbors,
// arXiv supplies a keyword-search fallback for papers the citation graph
// hasn't indexed yet.
package relateddiscovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/providers/arxiv"
	"github.com/paperflow/pipeline/pkg/providers/semanticscholar"
)

// Client discovers related papers via both sources.
type Client struct {
	semanticScholar *semanticscholar.Client
	arxiv           *arxiv.Client
}

// New wires a related-paper discovery client from its two backing provider
// clients.
func New(ss *semanticscholar.Client, ax *arxiv.Client) *Client {
	return &Client{semanticScholar: ss, arxiv: ax}
}

type discoverRequest struct {
	Query string `json:"query"`
}

// Invoke implements agentruntime.Provider.
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req discoverRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("relateddiscovery: decoding input: %w", err)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("relateddiscovery: empty query")
	}

	merged := map[string]any{}

	ssInput, _ := json.Marshal(map[string]string{"query": req.Query})
	if resp, err := c.semanticScholar.Invoke(ctx, ssInput); err == nil {
		merged["semantic_scholar"] = json.RawMessage(resp.Data)
	}

	axInput, _ := json.Marshal(map[string]string{"query": req.Query})
	if resp, err := c.arxiv.Invoke(ctx, axInput); err == nil {
		merged["arxiv"] = json.RawMessage(resp.Data)
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("relateddiscovery: both semantic scholar and arxiv lookups failed")
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("relateddiscovery: encoding merged result: %w", err)
	}
	return &agentruntime.ProviderResponse{Data: data}, nil
}
