// Package arxiv is the arXiv Atom-feed client used by
// RELATED_PAPER_DISCOVERY to search for related work by keyword/category.
// arXiv's export API (export.arxiv.org/api/query) returns an Atom XML feed;
// encoding/xml is the one stdlib dependency in pkg/providers — no ecosystem
// XML client appears anywhere in the retrieved pack (see DESIGN.md).
package arxiv

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/providers/httpclient"
)

// Client implements agentruntime.Provider against export.arxiv.org.
type Client struct {
	http *httpclient.Client
}

// New builds a Client from the "arxiv" ProviderConfig entry.
func New(cfg config.ProviderConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://export.arxiv.org/api"
	}
	return &Client{http: httpclient.New(cfg)}
}

// searchRequest is the Input shape RELATED_PAPER_DISCOVERY sends.
type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// feed is the subset of the Atom response fields RELATED_PAPER_DISCOVERY
// needs, re-marshaled to JSON so downstream agents see a uniform shape
// regardless of which provider answered.
type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	ID        string   `xml:"id"`
	Authors   []author `xml:"author"`
}

type author struct {
	Name string `xml:"name"`
}

// Invoke searches arXiv for entries matching the query and returns them as
// a JSON array, translated out of the wire Atom/XML format.
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req searchRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("arxiv: decoding request: %w", err)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("arxiv: request has no query")
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	path := fmt.Sprintf("/query?search_query=all:%s&max_results=%d", url.QueryEscape(req.Query), maxResults)
	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var parsed feed
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("arxiv: parsing atom feed: %w", err)
	}

	data, err := json.Marshal(parsed.Entries)
	if err != nil {
		return nil, fmt.Errorf("arxiv: re-marshaling entries: %w", err)
	}
	return &agentruntime.ProviderResponse{Data: data}, nil
}
