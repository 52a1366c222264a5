// Package api provides the HTTP surface over the pipeline orchestrator
// (spec §6's start_run/cancel_run/status/wait_for, plus a small admin
// surface over the reliability envelope). Grounded on the teacher's
// pkg/api/handlers.go (gin.Context handler shape, Server struct wrapping
// the domain managers it fronts) rather than the newer echo-v5 revision of
// the same package, since gin is the router the rest of this module's
// go.mod actually carries forward.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/orchestrator"
	"github.com/paperflow/pipeline/pkg/reliability"
)

// RunLauncher is the subset of *orchestrator.Orchestrator the API needs to
// start and cancel runs, narrowed to an interface so Server is unit-testable
// without a database or agent runtime.
type RunLauncher interface {
	StartRun(ctx context.Context, req orchestrator.StartRunRequest) (*models.PipelineRun, error)
	Cancel(runID models.RunID) error
}

// RunReader is the subset of pkg/orchestrator.RunStore the status/wait_for
// endpoints need to read back a run's persisted state.
type RunReader interface {
	Get(ctx context.Context, runID models.RunID) (*models.PipelineRun, error)
}

// Server is the HTTP API server fronting the orchestrator, credit gate, and
// reliability envelope.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	orchestrator RunLauncher
	runs         RunReader
	envelope     *reliability.Envelope
	cfg          *config.Config

	// waitPollInterval is how often wait_for polls the run store; a field
	// (not a constant) so tests can shrink it.
	waitPollInterval time.Duration
}

// NewServer wires the orchestrator, run store, and reliability envelope
// into a ready-to-serve Server.
func NewServer(cfg *config.Config, launcher RunLauncher, runs RunReader, envelope *reliability.Envelope) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(requestLogger())

	s := &Server{
		engine:           e,
		orchestrator:     launcher,
		runs:             runs,
		envelope:         envelope,
		cfg:              cfg,
		waitPollInterval: time.Second,
	}
	s.setupRoutes()
	return s
}

// requestLogger is a minimal slog-backed replacement for gin's default
// text logger, keeping every log line on the same structured logger the
// rest of the module uses.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/runs", s.startRunHandler)
	v1.GET("/runs/:id", s.statusHandler)
	v1.POST("/runs/:id/cancel", s.cancelRunHandler)
	v1.GET("/runs/:id/wait", s.waitForHandler)

	admin := v1.Group("/admin")
	admin.GET("/stats", s.dumpStatsHandler)
	admin.POST("/stats/reset", s.resetStatsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
