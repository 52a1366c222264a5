// Package semanticscholar is the Semantic Scholar Graph API client used by
// METADATA_ENHANCER (author/venue enrichment), CITATION_VERIFIER (confirming
// a cited work exists), and RELATED_PAPER_DISCOVERY (citation-graph
// neighbors). It enforces the 200ms per-provider rate limit (spec §5) with
// golang.org/x/time/rate, the same limiter type the r3e-network-service_layer
// pack repo already depends on for its own outbound throttling.
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/providers/httpclient"
)

// MinInterval is the floor enforced between requests (spec §5, "200ms").
const MinInterval = 200 * time.Millisecond

// Client implements agentruntime.Provider against api.semanticscholar.org.
type Client struct {
	http    *httpclient.Client
	limiter *rate.Limiter
}

// New builds a Client from the "semanticscholar" ProviderConfig entry.
func New(cfg config.ProviderConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.semanticscholar.org/graph/v1"
	}
	return &Client{
		http:    httpclient.New(cfg),
		limiter: rate.NewLimiter(rate.Every(MinInterval), 1),
	}
}

// lookupRequest is the shared Input shape for all three call sites: a known
// paper id (Semantic Scholar corpus id, DOI, or arXiv id prefixed
// accordingly) or a free-text search query.
type lookupRequest struct {
	PaperID string `json:"paper_id,omitempty"`
	Query   string `json:"query,omitempty"`
}

const fields = "title,abstract,authors,venue,year,externalIds,citationCount,references.title,references.externalIds"

// Invoke waits out the rate limiter, then resolves a known paper id or runs
// a bibliographic search, returning the raw matching record(s).
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var req lookupRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("semanticscholar: decoding request: %w", err)
	}

	var path string
	switch {
	case req.PaperID != "":
		path = "/paper/" + url.PathEscape(req.PaperID) + "?fields=" + fields
	case req.Query != "":
		path = "/paper/search?query=" + url.QueryEscape(req.Query) + "&fields=" + fields + "&limit=5"
	default:
		return nil, fmt.Errorf("semanticscholar: request has neither paper_id nor query")
	}

	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return &agentruntime.ProviderResponse{Data: body}, nil
}
