// paperflow-server runs the multi-agent research paper processing
// pipeline: the HTTP API, the per-agent worker pools, and the background
// task reaper. Subcommands provide the CLI admin surface (spec §6
// expansion); `serve` (the default) runs the full server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/paperflow/pipeline/pkg/agentruntime"
	"github.com/paperflow/pipeline/pkg/agenttask"
	"github.com/paperflow/pipeline/pkg/api"
	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/credit"
	"github.com/paperflow/pipeline/pkg/events"
	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/orchestrator"
	"github.com/paperflow/pipeline/pkg/pgdb"
	"github.com/paperflow/pipeline/pkg/providers/arxiv"
	"github.com/paperflow/pipeline/pkg/providers/citationcheck"
	"github.com/paperflow/pipeline/pkg/providers/crossref"
	"github.com/paperflow/pipeline/pkg/providers/llm"
	"github.com/paperflow/pipeline/pkg/providers/localextract"
	"github.com/paperflow/pipeline/pkg/providers/metadata"
	"github.com/paperflow/pipeline/pkg/providers/perplexity"
	"github.com/paperflow/pipeline/pkg/providers/relateddiscovery"
	"github.com/paperflow/pipeline/pkg/providers/semanticscholar"
	"github.com/paperflow/pipeline/pkg/reliability"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	sub := "serve"
	if args := flag.Args(); len(args) > 0 {
		sub = args[0]
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbCfg, err := pgdb.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := pgdb.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	slog.Info("connected to PostgreSQL database")

	app := wireApplication(ctx, dbClient, cfg)

	switch sub {
	case "serve":
		runServe(ctx, app, cfg)
	case "dump-stats":
		runDumpStats(app)
	case "reset-stats":
		runResetStats(ctx, app)
	case "reaper-run":
		runReaperOnce(ctx, app)
	case "drain":
		runDrain(app)
	default:
		log.Fatalf("unknown subcommand %q (want serve|dump-stats|reset-stats|reaper-run|drain)", sub)
	}
}

// application holds every wired component main's subcommands operate on.
type application struct {
	cfg          *config.Config
	db           *pgdb.Client
	bus          *events.Bus
	publisher    *events.Publisher
	envelope     *reliability.Envelope
	credits      *credit.Service
	tasks        *agenttask.Service
	orchestrator *orchestrator.Orchestrator
	pools        map[models.AgentID]*agentruntime.Pool
}

// wireApplication builds the full dependency graph: reliability envelope,
// event bus/publisher, credit gate, task service, the external provider
// clients (spec §4.F), one worker pool per agent, and the orchestrator.
func wireApplication(ctx context.Context, db *pgdb.Client, cfg *config.Config) *application {
	bus := events.NewBus()
	publisher := events.NewPublisher(db.Events(), bus)

	backoffs := make(map[models.AgentID]reliability.AgentBackoffConfig, len(models.AllAgentIDs))
	for _, agentID := range models.AllAgentIDs {
		row := cfg.ReliabilityFor(agentID)
		backoffs[agentID] = reliability.AgentBackoffConfig{
			MaxRetries:        row.MaxRetries,
			InitialDelay:      row.InitialDelay,
			PerAttemptTimeout: row.PerAttemptTimeout,
		}
	}
	envelope := reliability.NewEnvelope(backoffs, reliability.CircuitBreakerConfig(cfg.CircuitBreaker))
	seedReliabilityFromStore(ctx, envelope, db.Reliability())

	creditSvc := credit.NewService(db.Credits(), cfg.Credit)
	taskSvc := agenttask.NewService(db.Tasks(), db.Papers(), publisher)

	podID := getEnv("POD_ID", "paperflow-1")
	providers := buildProviders(cfg)

	tokenAcc := credit.NewTokenAccounting(db.TokenMetrics())
	if err := tokenAcc.Restore(ctx); err != nil {
		slog.Error("credit: restoring token accounting totals failed", "error", err)
	}
	go tokenAcc.RunAggregateLogger(ctx)

	pools := make(map[models.AgentID]*agentruntime.Pool, len(providers))
	cancellers := make(map[models.AgentID]orchestrator.TaskCanceller, len(providers))
	for agentID, provider := range providers {
		row := cfg.ReliabilityFor(agentID)
		pool := agentruntime.NewPool(podID, agentruntime.PoolConfig{
			AgentID:           agentID,
			Provider:          provider,
			WorkerCount:       row.WorkerCount,
			HeartbeatInterval: cfg.Queue.HeartbeatInterval,
			PollInterval:      cfg.Queue.PollInterval,
			PollJitter:        cfg.Queue.PollIntervalJitter,
		}, taskSvc, tokenAcc, envelope, publisher)
		pools[agentID] = pool
		cancellers[agentID] = pool
	}

	orch := orchestrator.New(taskSvc, db.Runs(), creditSvc, publisher, cfg.Queue, cfg.Credit, cancellers)

	return &application{
		cfg: cfg, db: db, bus: bus, publisher: publisher, envelope: envelope,
		credits: creditSvc, tasks: taskSvc, orchestrator: orch, pools: pools,
	}
}

// seedReliabilityFromStore restores each agent's persisted RetryMetrics and
// CircuitState into the envelope at startup, then wires the store into the
// envelope so every subsequent ExecuteWithRetry call is mirrored back to
// Postgres — without this, retry_metrics/circuit_states stay permanently
// empty and the envelope resets to zero on every restart.
func seedReliabilityFromStore(ctx context.Context, env *reliability.Envelope, store *pgdb.ReliabilityRepo) {
	for _, agentID := range models.AllAgentIDs {
		m, err := store.GetMetrics(ctx, agentID)
		if err != nil {
			slog.Error("reliability: loading persisted retry metrics failed", "agent_id", agentID, "error", err)
		} else {
			env.Stats.Seed(m)
		}

		cs, err := store.GetCircuit(ctx, agentID)
		if err != nil {
			slog.Error("reliability: loading persisted circuit state failed", "agent_id", agentID, "error", err)
			continue
		}
		env.Circuit(agentID).Restore(cs)
	}
	env.SetStore(store)
}

// buildProviders constructs the nine agentruntime.Provider implementations
// backing the stage graph (spec §4.F), composing the external provider
// clients where more than one source feeds a single agent.
func buildProviders(cfg *config.Config) map[models.AgentID]agentruntime.Provider {
	crossrefClient := crossref.New(cfg.Providers["crossref"])
	semanticScholarClient := semanticscholar.New(cfg.Providers["semantic_scholar"])
	arxivClient := arxiv.New(cfg.Providers["arxiv"])
	perplexityClient := perplexity.New(cfg.Providers["perplexity"], resolveAPIKey(cfg, "perplexity", "PERPLEXITY_API_KEY"))

	llmBackend := llm.BackendAnthropic
	var llmClient *llm.Client
	if getEnv("LLM_BACKEND", "anthropic") == "langchain" {
		llmBackend = llm.BackendLangChain
		providerCfg := cfg.Providers["llm"]
		c, err := llm.NewLangChain(resolveAPIKey(cfg, "llm", "OPENAI_API_KEY"), providerCfg.BaseURL, getEnv("LLM_MODEL", ""))
		if err != nil {
			log.Fatalf("failed to build langchain LLM client: %v", err)
		}
		llmClient = c
	} else {
		llmClient = llm.NewAnthropic(resolveAPIKey(cfg, "llm", "ANTHROPIC_API_KEY"), getEnv("LLM_MODEL", ""))
	}
	slog.Info("llm client configured", "backend", llmBackend)

	return map[models.AgentID]agentruntime.Provider{
		models.AgentPaperProcessor:        localextract.New(),
		models.AgentMetadataEnhancer:      metadata.New(crossrefClient, semanticScholarClient),
		models.AgentContentSummarizer:     llmClient,
		models.AgentConceptExplainer:      llmClient,
		models.AgentQualityChecker:        llmClient,
		models.AgentCitationFormatter:     llmClient,
		models.AgentCitationVerifier:      citationcheck.New(crossrefClient, semanticScholarClient),
		models.AgentPerplexityResearcher:  perplexityClient,
		models.AgentRelatedPaperDiscovery: relateddiscovery.New(semanticScholarClient, arxivClient),
	}
}

// resolveAPIKey reads the API key for a named provider from the environment
// variable configured in ProviderConfig.APIKeyEnv, falling back to a
// sensible default variable name so paperflow.yaml can omit it entirely.
func resolveAPIKey(cfg *config.Config, provider, defaultEnvVar string) string {
	if row, ok := cfg.Providers[provider]; ok && row.APIKeyEnv != "" {
		return os.Getenv(row.APIKeyEnv)
	}
	return os.Getenv(defaultEnvVar)
}

// runServe starts the HTTP API, every agent worker pool, and the
// AgentTask background duties (reaper/cleanup/orphan scan), then blocks
// until SIGINT/SIGTERM and shuts everything down gracefully.
func runServe(ctx context.Context, app *application, cfg *config.Config) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for agentID, pool := range app.pools {
		slog.Info("starting agent worker pool", "agent_id", agentID)
		pool.Start(runCtx)
	}
	go app.tasks.RunBackgroundDuties(runCtx)

	server := api.NewServer(cfg, app.orchestrator, app.db.Runs(), app.envelope)

	httpPort := getEnv("HTTP_PORT", "8080")
	go func() {
		slog.Info("HTTP server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	cancel()
	for agentID, pool := range app.pools {
		slog.Info("draining agent worker pool", "agent_id", agentID)
		pool.Drain()
	}
	app.tasks.Close()
}

// runDumpStats prints every agent's retry metrics and circuit state to
// stdout, the CLI twin of GET /api/v1/admin/stats.
func runDumpStats(app *application) {
	for _, m := range app.envelope.Stats.All() {
		fmt.Printf("%-28s attempts=%d retries=%d success=%d failed=%d success_rate=%.2f\n",
			m.AgentID, m.TotalAttempts, m.TotalRetries, m.SuccessfulOperations, m.FailedOperations, m.OverallSuccessRate())
	}
	for _, agentID := range models.AllAgentIDs {
		snap := app.envelope.Circuit(agentID).Snapshot()
		fmt.Printf("%-28s circuit=%s consecutive_failures=%d trips=%d\n",
			snap.AgentID, snap.State, snap.ConsecutiveFailures, snap.TripsTotal)
	}
}

// runResetStats zeroes every agent's retry counters, in-memory and
// persisted, the CLI twin of POST /api/v1/admin/stats/reset.
func runResetStats(ctx context.Context, app *application) {
	for _, agentID := range models.AllAgentIDs {
		app.envelope.Reset(ctx, agentID)
	}
	fmt.Println("reliability stats reset for all agents")
}

// runReaperOnce runs a single timeout-reaper sweep and exits, for use as a
// cron-triggered job independent of the long-running `serve` process.
func runReaperOnce(ctx context.Context, app *application) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	stale, err := app.db.Tasks().ListStaleProcessing(sweepCtx, agenttask.TaskStaleAfter)
	if err != nil {
		log.Fatalf("reaper sweep failed: %v", err)
	}
	for _, taskID := range stale {
		if err := app.tasks.TimeoutTask(sweepCtx, taskID, "processing exceeded "+agenttask.TaskStaleAfter.String()); err != nil {
			slog.Error("reaper: timing out stale task failed", "task_id", taskID, "error", err)
		}
	}
	fmt.Printf("reaper sweep complete: %d stale task(s) timed out\n", len(stale))
}

// runDrain stops accepting new task claims on every pool and waits for
// in-flight tasks to finish, used ahead of a rolling deploy.
func runDrain(app *application) {
	for agentID, pool := range app.pools {
		slog.Info("draining pool", "agent_id", agentID)
		pool.Drain()
	}
	fmt.Println("drain complete")
}
