package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paperflow/pipeline/pkg/models"
)

// CreditRepo persists CreditBalance and CreditTransaction rows, implementing
// the atomic reserve/charge/refund operations of spec §4.D.
type CreditRepo struct {
	db *sql.DB
}

// Credits returns the credit repository.
func (c *Client) Credits() *CreditRepo { return &CreditRepo{db: c.db} }

// EnsureBalance creates a balance row holding startingBalance for a user if
// one doesn't exist, with the next reset one period out.
func (r *CreditRepo) EnsureBalance(ctx context.Context, userID models.UserID, startingBalance int, period time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, used_this_period, next_reset_at, total_earned, total_used)
		VALUES ($1, $2, 0, $3, $2, 0)
		ON CONFLICT (user_id) DO NOTHING`,
		string(userID), startingBalance, time.Now().Add(period))
	if err != nil {
		return fmt.Errorf("pgdb: ensuring credit balance: %w", err)
	}
	return nil
}

// GetBalance fetches a user's current balance.
func (r *CreditRepo) GetBalance(ctx context.Context, userID models.UserID) (*models.CreditBalance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, balance, used_this_period, next_reset_at, total_earned, total_used
		FROM credit_balances WHERE user_id = $1`, string(userID))

	var b models.CreditBalance
	if err := row.Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.NextResetAt, &b.TotalEarned, &b.TotalUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pgdb: fetching credit balance: %w", err)
	}
	return &b, nil
}

// ErrInsufficientBalance is returned by Deduct when balance - amount < 0.
var ErrInsufficientBalance = errors.New("pgdb: insufficient credit balance")

// Deduct atomically subtracts amount from the user's balance within a
// single transaction (SELECT ... FOR UPDATE then UPDATE), recording a
// ledger entry. Fails with ErrInsufficientBalance if funds are short.
func (r *CreditRepo) Deduct(ctx context.Context, userID models.UserID, amount int, operationType, referenceID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("pgdb: begin deduct tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance, usedThisPeriod int
	err = tx.QueryRowContext(ctx, `
		SELECT balance, used_this_period FROM credit_balances WHERE user_id = $1 FOR UPDATE`,
		string(userID)).Scan(&balance, &usedThisPeriod)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("pgdb: locking credit balance: %w", err)
	}
	if balance < amount {
		return 0, ErrInsufficientBalance
	}

	newBalance := balance - amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = $2, used_this_period = used_this_period + $3, total_used = total_used + $3, updated_at = now()
		WHERE user_id = $1`, string(userID), newBalance, amount); err != nil {
		return 0, fmt.Errorf("pgdb: updating credit balance: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, models.TxDeduct, -amount, newBalance, operationType, referenceID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("pgdb: committing deduct: %w", err)
	}
	return newBalance, nil
}

// Refund atomically credits amount back to the user, idempotent on
// referenceID: a second call with the same (userID, referenceID) is a no-op
// that returns the balance unchanged, enforced by a partial unique index on
// credit_transactions.
func (r *CreditRepo) Refund(ctx context.Context, userID models.UserID, amount int, operationType, referenceID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("pgdb: begin refund tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance int
	if err := tx.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE user_id = $1 FOR UPDATE`,
		string(userID)).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("pgdb: locking credit balance: %w", err)
	}

	newBalance := balance + amount
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, kind, amount, balance_after, operation_type, reference_id)
		VALUES ($1, 'REFUND', $2, $3, $4, $5)
		ON CONFLICT (user_id, reference_id) WHERE kind = 'REFUND' AND reference_id <> '' DO NOTHING`,
		string(userID), amount, newBalance, operationType, referenceID)
	if err != nil {
		return 0, fmt.Errorf("pgdb: inserting refund transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Already refunded under this referenceID: idempotent no-op.
		return balance, tx.Rollback()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_balances SET balance = $2, updated_at = now() WHERE user_id = $1`,
		string(userID), newBalance); err != nil {
		return 0, fmt.Errorf("pgdb: updating credit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("pgdb: committing refund: %w", err)
	}
	return newBalance, nil
}

// ResetMonthly resets used_this_period to 0 and rolls next_reset_at forward
// for every balance whose reset time has passed.
func (r *CreditRepo) ResetMonthly(ctx context.Context, period time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credit_balances
		SET used_this_period = 0, next_reset_at = next_reset_at + $1, updated_at = now()
		WHERE next_reset_at < now()`, period)
	if err != nil {
		return 0, fmt.Errorf("pgdb: resetting monthly credits: %w", err)
	}
	return res.RowsAffected()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID models.UserID, kind models.TransactionKind, amount, balanceAfter int, operationType, referenceID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, kind, amount, balance_after, operation_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(userID), string(kind), amount, balanceAfter, operationType, referenceID)
	if err != nil {
		return fmt.Errorf("pgdb: inserting credit transaction: %w", err)
	}
	return nil
}
