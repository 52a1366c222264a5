// Package metadata composes the Crossref and Semantic Scholar clients into
// METADATA_ENHANCER's single agentruntime.Provider (spec §4.F lists both as
// backing this agent). Crossref resolves the canonical bibliographic record
// by DOI/title; Semantic Scholar supplements it with abstract, citation
// count, and venue data the Crossref API doesn't carry.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/providers/crossref"
	"github.com/paperflow/pipeline/pkg/providers/semanticscholar"
)

// Client fans a single lookup request out to Crossref and Semantic
// Scholar and merges both into one result object.
type Client struct {
	crossref        *crossref.Client
	semanticScholar *semanticscholar.Client
}

// New wires a metadata enhancer from its two backing provider clients.
func New(cr *crossref.Client, ss *semanticscholar.Client) *Client {
	return &Client{crossref: cr, semanticScholar: ss}
}

type lookupRequest struct {
	DOI   string `json:"doi,omitempty"`
	Title string `json:"title,omitempty"`
}

// Invoke implements agentruntime.Provider. Either source failing is
// tolerated — the agent's own schema validator (spec §4.C step 4) decides
// whether a partial merge is still a usable result.
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req lookupRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("metadata: decoding input: %w", err)
	}
	if req.DOI == "" && req.Title == "" {
		return nil, fmt.Errorf("metadata: request needs either doi or title")
	}

	merged := map[string]any{}

	crossrefInput, _ := json.Marshal(map[string]string{"doi": req.DOI, "query": req.Title})
	if resp, err := c.crossref.Invoke(ctx, crossrefInput); err == nil {
		merged["crossref"] = json.RawMessage(resp.Data)
	}

	ssInput, _ := json.Marshal(map[string]string{"query": req.Title})
	if resp, err := c.semanticScholar.Invoke(ctx, ssInput); err == nil {
		merged["semantic_scholar"] = json.RawMessage(resp.Data)
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("metadata: both crossref and semantic scholar lookups failed")
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("metadata: encoding merged result: %w", err)
	}
	return &agentruntime.ProviderResponse{Data: data}, nil
}
