// Package citationcheck composes Crossref and Semantic Scholar into
// CITATION_VERIFIER's agentruntime.Provider (spec §4.F lists both as
// backing this agent): Crossref confirms a citation's DOI actually
// resolves; Semantic Scholar cross-checks the title/author match.
package citationcheck

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/providers/crossref"
	"github.com/paperflow/pipeline/pkg/providers/semanticscholar"
)

// Client verifies one citation against both sources.
type Client struct {
	crossref        *crossref.Client
	semanticScholar *semanticscholar.Client
}

// New wires a citation verifier from its two backing provider clients.
func New(cr *crossref.Client, ss *semanticscholar.Client) *Client {
	return &Client{crossref: cr, semanticScholar: ss}
}

type verifyRequest struct {
	DOI   string `json:"doi,omitempty"`
	Title string `json:"title,omitempty"`
}

// Invoke implements agentruntime.Provider.
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req verifyRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("citationcheck: decoding input: %w", err)
	}
	if req.DOI == "" && req.Title == "" {
		return nil, fmt.Errorf("citationcheck: request needs either doi or title")
	}

	result := map[string]any{"verified": false}

	crossrefInput, _ := json.Marshal(map[string]string{"doi": req.DOI, "query": req.Title})
	if resp, err := c.crossref.Invoke(ctx, crossrefInput); err == nil {
		result["crossref"] = json.RawMessage(resp.Data)
		result["verified"] = true
	}

	ssInput, _ := json.Marshal(map[string]string{"query": req.Title})
	if resp, err := c.semanticScholar.Invoke(ctx, ssInput); err == nil {
		result["semantic_scholar"] = json.RawMessage(resp.Data)
		result["verified"] = true
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("citationcheck: encoding result: %w", err)
	}
	return &agentruntime.ProviderResponse{Data: data}, nil
}
