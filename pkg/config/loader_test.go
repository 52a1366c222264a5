package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/models"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)

	row := cfg.ReliabilityFor(models.AgentPerplexityResearcher)
	assert.Equal(t, 5, row.MaxRetries)
	assert.Equal(t, 15*time.Second, row.InitialDelay)
	assert.Equal(t, 5*time.Minute, row.PerAttemptTimeout)

	assert.Equal(t, 30, cfg.Credit.PipelineReservation)
	assert.Equal(t, 200*time.Millisecond, cfg.RateLimitFor("semantic_scholar"))
}

func TestLoad_YAMLOverlayOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := `
reliability:
  PERPLEXITY_RESEARCHER:
    max_retries: 8
credit:
  pipeline_reservation: 50
disabled_stages:
  - RELATED_PAPER_DISCOVERY
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paperflow.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)

	row := cfg.ReliabilityFor(models.AgentPerplexityResearcher)
	assert.Equal(t, 8, row.MaxRetries)
	// Unset fields keep the default (mergo does not zero out initial_delay).
	assert.Equal(t, 15*time.Second, row.InitialDelay)

	assert.Equal(t, 50, cfg.Credit.PipelineReservation)
	require.Len(t, cfg.DisabledStages, 1)
	assert.Equal(t, models.AgentRelatedPaperDiscovery, cfg.DisabledStages[0])
}

func TestLoad_UnknownAgentIDRejected(t *testing.T) {
	dir := t.TempDir()
	yamlBody := `
reliability:
  NOT_A_REAL_AGENT:
    max_retries: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paperflow.yaml"), []byte(yamlBody), 0o644))

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
}

func TestValidate_RejectsMissingAgentRow(t *testing.T) {
	cfg := newDefaultConfig(t.TempDir())
	delete(cfg.Reliability, models.AgentPaperProcessor)

	err := validate(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
