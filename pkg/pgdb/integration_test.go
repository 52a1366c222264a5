package pgdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paperflow/pipeline/pkg/models"
)

// newTestClient starts a disposable PostgreSQL container, applies migrations
// through NewClient, and registers cleanup. Fails the test if Docker is not
// reachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("paperflow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := Config{
		Host: host, Port: port.Int(), User: "test", Password: "test",
		Database: "paperflow_test", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestClaimNextTask_SkipsLockedRows(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	task := &models.AgentTask{
		TaskID:    models.TaskID("task-1"),
		AgentID:   models.AgentPaperProcessor,
		UserID:    models.UserID("user-1"),
		Input:     json.RawMessage(`{"paper_id":"p1"}`),
		Status:    models.TaskPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, client.Tasks().CreateTask(ctx, task, ""))

	claimed, err := client.Tasks().ClaimNextTask(ctx, models.AgentPaperProcessor, "worker-a")
	require.NoError(t, err)
	require.Equal(t, task.TaskID, claimed.TaskID)
	require.Equal(t, models.TaskProcessing, claimed.Status)

	_, err = client.Tasks().ClaimNextTask(ctx, models.AgentPaperProcessor, "worker-b")
	require.ErrorIs(t, err, ErrNoTaskAvailable)
}

func TestCreditDeductAndRefund_Idempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	user := models.UserID("user-credits")

	require.NoError(t, client.Credits().EnsureBalance(ctx, user, 100, 30*24*time.Hour))

	balance, err := client.Credits().Deduct(ctx, user, 30, "pipeline_run", "run-1")
	require.NoError(t, err)
	require.Equal(t, 70, balance)

	_, err = client.Credits().Deduct(ctx, user, 1000, "pipeline_run", "run-2")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err = client.Credits().Refund(ctx, user, 30, "pipeline_run", "run-1")
	require.NoError(t, err)
	require.Equal(t, 100, balance)

	// Second refund with the same reference id is a no-op.
	balance, err = client.Credits().Refund(ctx, user, 30, "pipeline_run", "run-1")
	require.NoError(t, err)
	require.Equal(t, 100, balance)
}

func TestRetryMetrics_SuccessRateContract(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	agent := models.AgentCitationVerifier

	require.NoError(t, client.Reliability().RecordAttempt(ctx, agent, 1, false, true))  // first-attempt success
	require.NoError(t, client.Reliability().RecordAttempt(ctx, agent, 3, true, true))   // retried, eventually succeeded
	require.NoError(t, client.Reliability().RecordAttempt(ctx, agent, 5, true, false))  // retried, still failed

	m, err := client.Reliability().GetMetrics(ctx, agent)
	require.NoError(t, err)

	require.Equal(t, int64(2), m.SuccessfulOperations) // both successes count, one first-attempt + one retried
	require.Equal(t, int64(1), m.SuccessfulRetries)     // only the retried-and-succeeded one
	require.Equal(t, int64(1), m.FailedOperations)
	require.InDelta(t, 2.0/3.0, m.OverallSuccessRate(), 0.0001)
}
