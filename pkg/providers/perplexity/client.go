// Package perplexity is the Perplexity chat-completions client used by
// PERPLEXITY_RESEARCHER to gather supplementary web research around a
// paper's topic. Same plain-HTTP adapter shape as pkg/providers/crossref.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/providers/httpclient"
)

// Client implements agentruntime.Provider against api.perplexity.ai's
// chat/completions endpoint.
type Client struct {
	http   *httpclient.Client
	apiKey string
	model  string
}

// New builds a Client from the "perplexity" ProviderConfig entry. apiKey is
// resolved by the caller from cfg.APIKeyEnv (config never holds secrets
// directly, matching the teacher's pattern of env-indirected credentials).
func New(cfg config.ProviderConfig, apiKey string) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	return &Client{http: httpclient.New(cfg), apiKey: apiKey, model: "sonar"}
}

// researchRequest is the Input shape PERPLEXITY_RESEARCHER sends.
type researchRequest struct {
	Prompt string `json:"prompt"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Invoke submits a research prompt as a one-shot chat completion and
// returns the raw JSON response.
func (c *Client) Invoke(ctx context.Context, input json.RawMessage) (*agentruntime.ProviderResponse, error) {
	var req researchRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("perplexity: decoding request: %w", err)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("perplexity: request has no prompt")
	}

	payload, err := json.Marshal(chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("perplexity: encoding request: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	body, err := c.http.PostJSON(ctx, "/chat/completions", bytes.NewReader(payload), headers)
	if err != nil {
		return nil, err
	}
	return &agentruntime.ProviderResponse{Data: body}, nil
}
