package credit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/pgdb"
)

type memBalanceStore struct {
	balances map[models.UserID]*models.CreditBalance
	refunded map[string]bool // userID|referenceID already refunded
}

func newMemBalanceStore(userID models.UserID, balance int) *memBalanceStore {
	return &memBalanceStore{
		balances: map[models.UserID]*models.CreditBalance{
			userID: {UserID: userID, Balance: balance, TotalEarned: balance},
		},
		refunded: make(map[string]bool),
	}
}

func (m *memBalanceStore) GetBalance(ctx context.Context, userID models.UserID) (*models.CreditBalance, error) {
	b, ok := m.balances[userID]
	if !ok {
		return nil, pgdb.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBalanceStore) Deduct(ctx context.Context, userID models.UserID, amount int, operationType, referenceID string) (int, error) {
	b, ok := m.balances[userID]
	if !ok {
		return 0, pgdb.ErrNotFound
	}
	if b.Balance < amount {
		return 0, pgdb.ErrInsufficientBalance
	}
	b.Balance -= amount
	b.TotalUsed += amount
	return b.Balance, nil
}

func (m *memBalanceStore) Refund(ctx context.Context, userID models.UserID, amount int, operationType, referenceID string) (int, error) {
	b, ok := m.balances[userID]
	if !ok {
		return 0, pgdb.ErrNotFound
	}
	key := string(userID) + "|" + referenceID
	if referenceID != "" && m.refunded[key] {
		return b.Balance, nil
	}
	b.Balance += amount
	if referenceID != "" {
		m.refunded[key] = true
	}
	return b.Balance, nil
}

func (m *memBalanceStore) ResetMonthly(ctx context.Context, period time.Duration) (int64, error) {
	var n int64
	for _, b := range m.balances {
		b.UsedThisPeriod = 0
		b.NextResetAt = time.Now().Add(period)
		n++
	}
	return n, nil
}

func TestReserve_DeductsAndReportsInsufficientCredits(t *testing.T) {
	store := newMemBalanceStore("u-1", 100)
	svc := NewService(store, config.CreditConfig{PipelineReservation: 30})

	newBalance, err := svc.Reserve(context.Background(), "u-1", 30, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 70, newBalance)

	_, err = svc.Reserve(context.Background(), "u-1", 1000, "run-2")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestRefund_IsIdempotentByReferenceID(t *testing.T) {
	store := newMemBalanceStore("u-1", 100)
	svc := NewService(store, config.CreditConfig{PipelineReservation: 30})

	_, err := svc.Reserve(context.Background(), "u-1", 30, "run-1")
	require.NoError(t, err)

	b1, err := svc.Refund(context.Background(), "u-1", 30, "run-1")
	require.NoError(t, err)
	b2, err := svc.Refund(context.Background(), "u-1", 30, "run-1")
	require.NoError(t, err)

	assert.Equal(t, b1, b2, "refund with the same reference_id twice must match a single call")
	assert.Equal(t, 100, b2)
}

func TestCostOf_FallsBackToPipelineReservationWithoutStageOverride(t *testing.T) {
	svc := NewService(nil, config.CreditConfig{
		PipelineReservation: 30,
		StageCosts:          map[models.AgentID]int{models.AgentPerplexityResearcher: 5},
	})

	assert.Equal(t, 5, svc.CostOf(models.AgentPerplexityResearcher))
	assert.Equal(t, 30, svc.CostOf(models.AgentPaperProcessor))
}

func TestHasCredits_ReflectsCurrentBalance(t *testing.T) {
	store := newMemBalanceStore("u-1", 10)
	svc := NewService(store, config.CreditConfig{PipelineReservation: 30})

	ok, err := svc.HasCredits(context.Background(), "u-1", models.AgentPaperProcessor)
	require.NoError(t, err)
	assert.False(t, ok, "balance 10 must not cover the default 30-credit pipeline cost")
}
