// Package localextract implements PAPER_PROCESSOR's provider: unlike every
// other agent (spec §4.F), paper text extraction is not an external API
// call — it reads whatever the upload handler already staged (a plain-text
// body or an inline reference) and returns it as the job context's first
// textContent. No ecosystem HTTP client applies here; the only I/O is
// decoding the caller-supplied JSON, which is why this is the module's one
// provider with no third-party dependency (DESIGN.md).
package localextract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/agentruntime"
)

// Client implements agentruntime.Provider for PAPER_PROCESSOR.
type Client struct{}

// New returns a ready-to-use local extraction client.
func New() *Client { return &Client{} }

type extractRequest struct {
	PaperID string `json:"paper_id"`
	// RawText is the paper's already-staged plain-text body (spec treats
	// the actual PDF/HTML parsing as out of scope for this pipeline layer —
	// the upload handler is responsible for producing it).
	RawText string `json:"raw_text"`
}

type extractResponse struct {
	PaperID     string `json:"paper_id"`
	TextContent string `json:"textContent"`
}

// Invoke decodes the staged paper text and republishes it under the
// textContent key every downstream stage's input projection looks for
// (pkg/orchestrator.candidateTextKeys).
func (c *Client) Invoke(_ context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req extractRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("localextract: decoding input: %w", err)
	}
	if req.RawText == "" {
		return nil, fmt.Errorf("localextract: empty raw_text")
	}

	data, err := json.Marshal(extractResponse{PaperID: req.PaperID, TextContent: req.RawText})
	if err != nil {
		return nil, fmt.Errorf("localextract: encoding response: %w", err)
	}
	return &agentruntime.ProviderResponse{Data: data}, nil
}
