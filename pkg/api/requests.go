package api

import "encoding/json"

// StartRunRequest is the HTTP request body for POST /api/v1/runs,
// implementing spec §6's start_run(paper_id, user_id, config, progress_cb)
// — progress_cb has no HTTP analogue, a client instead polls status or
// wait_for.
type StartRunRequest struct {
	PaperID string          `json:"paper_id" binding:"required"`
	UserID  string          `json:"user_id" binding:"required"`
	Input   json.RawMessage `json:"input" binding:"required"`

	// Configuration mirrors models.RunConfiguration's JSON shape, optional
	// in the request; zero value means "use the configured defaults."
	Configuration struct {
		DisabledStages      []string `json:"disabled_stages,omitempty"`
		MaxConcurrentAgents int      `json:"max_concurrent_agents,omitempty"`
		RunTimeoutSeconds   int      `json:"run_timeout_seconds,omitempty"`
		CreditReservation   int      `json:"credit_reservation,omitempty"`
	} `json:"configuration,omitempty"`
}
