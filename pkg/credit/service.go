// Package credit implements the user credit ledger (spec §4.E): atomic
// reserve/charge/refund against a per-user balance, idempotent refunds, and
// the monthly reset sweep. Grounded on the teacher's pkg/services/*.go
// tx-scoped service pattern (SessionService et al.) adapted to wrap
// pkg/pgdb.CreditRepo instead of an ent client.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/models"
	"github.com/paperflow/pipeline/pkg/pgdb"
)

// ErrInsufficientCredits is returned by Reserve/Charge when the user's
// balance is short; callers (pkg/orchestrator) use this to route a run to
// PENDING_CREDITS rather than treating it as an internal error.
var ErrInsufficientCredits = errors.New("credit: insufficient balance")

// BalanceStore is the subset of pgdb.CreditRepo the Service needs, narrowed
// to an interface so Service is unit-testable without a database.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID models.UserID) (*models.CreditBalance, error)
	Deduct(ctx context.Context, userID models.UserID, amount int, operationType, referenceID string) (int, error)
	Refund(ctx context.Context, userID models.UserID, amount int, operationType, referenceID string) (int, error)
	ResetMonthly(ctx context.Context, period time.Duration) (int64, error)
}

// Service implements has_credits/reserve/charge/refund/reset_monthly (spec
// §4.E) against a BalanceStore, plus the op_type cost table from
// config.CreditConfig (DESIGN.md Open Question 1).
type Service struct {
	store BalanceStore
	cfg   config.CreditConfig
}

// NewService wires a BalanceStore (normally a *pgdb.Client's CreditRepo)
// with the credit-gate configuration.
func NewService(store BalanceStore, cfg config.CreditConfig) *Service {
	return &Service{store: store, cfg: cfg}
}

// CostOf resolves an operation's credit cost from the per-agent StageCosts
// table, falling back to the flat PipelineReservation if op_type has no
// dedicated entry (spec §4.E "cost resolved from an OperationType x
// subscription_tier -> cost table" — tiers are not modeled, see DESIGN.md).
func (s *Service) CostOf(opType models.AgentID) int {
	if cost, ok := s.cfg.StageCosts[opType]; ok {
		return cost
	}
	return s.cfg.PipelineReservation
}

// HasCredits reports whether userID's balance covers opType's cost.
func (s *Service) HasCredits(ctx context.Context, userID models.UserID, opType models.AgentID) (bool, error) {
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("credit: checking balance: %w", err)
	}
	return balance.Balance >= s.CostOf(opType), nil
}

// Reserve deducts amount immediately, recording a DEDUCT transaction — the
// pipeline-wide credit gate at run start (spec §4.D).
func (s *Service) Reserve(ctx context.Context, userID models.UserID, amount int, referenceID string) (int, error) {
	newBalance, err := s.store.Deduct(ctx, userID, amount, "RESERVE", referenceID)
	if err != nil {
		if errors.Is(err, pgdb.ErrInsufficientBalance) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("credit: reserving: %w", err)
	}
	return newBalance, nil
}

// Charge deducts an operation's resolved cost, recording opType as
// operation metadata — used for out-of-pipeline single-agent billing
// (DESIGN.md Open Question 1), distinct from Reserve's flat pipeline cost.
func (s *Service) Charge(ctx context.Context, userID models.UserID, opType models.AgentID, referenceID string) (int, error) {
	newBalance, err := s.store.Deduct(ctx, userID, s.CostOf(opType), string(opType), referenceID)
	if err != nil {
		if errors.Is(err, pgdb.ErrInsufficientBalance) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("credit: charging: %w", err)
	}
	return newBalance, nil
}

// Refund credits amount back, idempotent per referenceID (spec §4.E, §8
// round-trip law: calling twice with the same reference_id must match a
// single call's final balance — enforced by pgdb.CreditRepo.Refund's
// partial unique index).
func (s *Service) Refund(ctx context.Context, userID models.UserID, amount int, referenceID string) (int, error) {
	newBalance, err := s.store.Refund(ctx, userID, amount, "REFUND", referenceID)
	if err != nil {
		return 0, fmt.Errorf("credit: refunding: %w", err)
	}
	return newBalance, nil
}

// ResetMonthly zeroes used_this_period and advances next_reset_at for every
// balance whose reset time has passed. period is the reset cadence (spec
// §4.E: "first of next month" — modeled here as a configurable duration so
// tests don't depend on wall-clock month boundaries).
func (s *Service) ResetMonthly(ctx context.Context, period time.Duration) (int64, error) {
	return s.store.ResetMonthly(ctx, period)
}
