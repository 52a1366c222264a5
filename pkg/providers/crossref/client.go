// Package crossref is the Crossref metadata lookup client used by
// METADATA_ENHANCER (resolving a paper's DOI/venue/authors) and
// CITATION_VERIFIER (confirming a referenced work actually exists).
// Grounded on pkg/runbook/github.go's HTTP-client-with-timeout shape, this
// is plain JSON over HTTP — Crossref has no Go SDK in the retrieved pack.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/providers/httpclient"
)

// Client implements agentruntime.Provider against the public Crossref REST
// API (api.crossref.org).
type Client struct {
	http *httpclient.Client
}

// New builds a Client from the "crossref" entry of config.Config.Providers.
func New(cfg config.ProviderConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.crossref.org"
	}
	return &Client{http: httpclient.New(cfg)}
}

// lookupRequest is the Input shape METADATA_ENHANCER/CITATION_VERIFIER send:
// either a known DOI (exact lookup) or a free-text bibliographic query.
type lookupRequest struct {
	DOI   string `json:"doi,omitempty"`
	Query string `json:"query,omitempty"`
}

// Invoke resolves a DOI or bibliographic query against Crossref's /works
// endpoint and returns the raw matching work record(s).
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req lookupRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("crossref: decoding request: %w", err)
	}

	var path string
	switch {
	case req.DOI != "":
		path = "/works/" + url.PathEscape(req.DOI)
	case req.Query != "":
		path = "/works?query.bibliographic=" + url.QueryEscape(req.Query) + "&rows=5"
	default:
		return nil, fmt.Errorf("crossref: request has neither doi nor query")
	}

	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return &agentruntime.ProviderResponse{Data: body}, nil
}
