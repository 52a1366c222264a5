package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paperflow/pipeline/pkg/models"
)

// dumpStatsHandler handles GET /api/v1/admin/stats, the HTTP twin of the
// `dump-stats` CLI subcommand: every agent's RetryMetrics and circuit
// breaker state (spec §4.A).
func (s *Server) dumpStatsHandler(c *gin.Context) {
	resp := StatsResponse{
		Retry:    s.envelope.Stats.All(),
		Circuits: make([]models.CircuitState, 0, len(models.AllAgentIDs)),
	}
	for _, agentID := range models.AllAgentIDs {
		resp.Circuits = append(resp.Circuits, s.envelope.Circuit(agentID).Snapshot())
	}
	c.JSON(http.StatusOK, resp)
}

// resetStatsHandler handles POST /api/v1/admin/stats/reset, the HTTP twin
// of the `reset-stats` CLI subcommand. Accepts an optional ?agent_id= query
// parameter to reset a single agent; resets every known agent otherwise.
func (s *Server) resetStatsHandler(c *gin.Context) {
	if agentID := c.Query("agent_id"); agentID != "" {
		s.envelope.Reset(c.Request.Context(), models.AgentID(agentID))
		c.JSON(http.StatusOK, gin.H{"reset": agentID})
		return
	}
	for _, agentID := range models.AllAgentIDs {
		s.envelope.Reset(c.Request.Context(), agentID)
	}
	c.JSON(http.StatusOK, gin.H{"reset": "all"})
}
