package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{Status: "healthy"}
	if s.cfg != nil {
		resp.Agents = len(s.cfg.Reliability)
		resp.DisabledStages = len(s.cfg.DisabledStages)
	}
	c.JSON(http.StatusOK, resp)
}
