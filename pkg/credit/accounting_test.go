package credit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/models"
)

type memTokenStore struct {
	records []models.TokenMetricsRecord
}

func (m *memTokenStore) Record(ctx context.Context, rec models.TokenMetricsRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memTokenStore) ReplayWindow(ctx context.Context, window time.Duration) ([]models.TokenMetricsRecord, error) {
	cutoff := time.Now().Add(-window)
	var out []models.TokenMetricsRecord
	for _, r := range m.records {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestTokenAccounting_RecordFoldsIntoGlobalTotal(t *testing.T) {
	store := &memTokenStore{}
	acc := NewTokenAccounting(store)

	err := acc.Record(context.Background(), models.TokenMetricsRecord{
		UserID: "u-1", Provider: "anthropic", AgentType: models.AgentContentSummarizer,
		TaskID: "t-1", InputTokens: 100, OutputTokens: 50, EstimatedCost: 0.02,
	})
	require.NoError(t, err)

	tokens, calls, cost := acc.GlobalSnapshot()
	assert.Equal(t, int64(150), tokens)
	assert.Equal(t, int64(1), calls)
	assert.InDelta(t, 0.02, cost, 0.0001)
}

func TestTokenAccounting_RestoreReplaysPersistedWindow(t *testing.T) {
	store := &memTokenStore{records: []models.TokenMetricsRecord{
		{UserID: "u-1", Provider: "crossref", TotalTokens: 40, EstimatedCost: 0.0, Timestamp: time.Now().Add(-time.Hour)},
		{UserID: "u-2", Provider: "crossref", TotalTokens: 60, EstimatedCost: 0.0, Timestamp: time.Now().Add(-40 * 24 * time.Hour)},
	}}
	acc := NewTokenAccounting(store)

	require.NoError(t, acc.Restore(context.Background()))

	tokens, calls, _ := acc.GlobalSnapshot()
	assert.Equal(t, int64(40), tokens, "the 40-day-old record must be excluded by the 30-day replay window")
	assert.Equal(t, int64(1), calls)
}
