// Package httpclient is the shared HTTP transport every pkg/providers
// client builds on: a stable User-Agent, per-provider connect/read
// timeouts, and non-2xx/transport errors wrapped into the
// pkg/reliability error taxonomy so the Reliability Envelope can classify
// a provider failure without knowing anything about HTTP. Grounded on the
// teacher's pkg/runbook/github.go (GitHubClient's timeout'd *http.Client
// plus request-building helpers).
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/reliability"
)

const defaultUserAgent = "paperflow/1.0"

// Client wraps an *http.Client with a provider's configured timeout and
// User-Agent, and translates transport/status failures into the
// reliability package's sentinel error kinds.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
}

// New builds a Client from a provider's ProviderConfig. ConnectTimeout is
// applied as the overall request deadline when ReadTimeout is unset, the
// same "one timeout governs the whole round trip" simplification the
// teacher's GitHubClient makes.
func New(cfg config.ProviderConfig) *Client {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = cfg.ConnectTimeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   cfg.BaseURL,
		userAgent: ua,
	}
}

// Do issues an HTTP request built from method/path/body, setting the
// shared User-Agent and any extra headers, and returns the raw response
// body on a 2xx status. Non-2xx statuses are classified into
// reliability.ErrTransient/ErrInvalidInput via reliability.NewStatusError,
// and transport errors are wrapped as reliability.ErrTransient (or returned
// as ctx.Err() once the context has ended), so callers never need to
// inspect status codes themselves.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) ([]byte, error) {
	url := path
	if c.baseURL != "" {
		url = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", reliability.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", reliability.ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, reliability.NewStatusError(resp.StatusCode, fmt.Sprintf("%s %s returned HTTP %d", method, url, resp.StatusCode))
	}
	return data, nil
}

// Get is a convenience wrapper around Do for GET requests.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, nil, headers)
}

// PostJSON is a convenience wrapper around Do for JSON POST requests.
func (c *Client) PostJSON(ctx context.Context, path string, body io.Reader, headers map[string]string) ([]byte, error) {
	merged := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}
	return c.Do(ctx, http.MethodPost, path, body, merged)
}
