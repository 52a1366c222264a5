package models

import "time"

// TransactionKind is the kind of CreditTransaction (spec §3).
type TransactionKind string

const (
	TxAdd    TransactionKind = "ADD"
	TxDeduct TransactionKind = "DEDUCT"
	TxRefund TransactionKind = "REFUND"
	TxReset  TransactionKind = "RESET"
)

// CreditBalance is the per-user running credit total.
type CreditBalance struct {
	UserID         UserID
	Balance        int
	UsedThisPeriod int
	NextResetAt    time.Time
	TotalEarned    int
	TotalUsed      int
}

// CreditTransaction is an immutable, append-only ledger entry.
type CreditTransaction struct {
	ID           int64
	UserID       UserID
	Kind         TransactionKind
	Amount       int
	BalanceAfter int
	OperationType string
	ReferenceID  string
	CreatedAt    time.Time
}

// TokenMetricsRecord is recorded once per external provider call (spec §3).
type TokenMetricsRecord struct {
	ID                int64
	UserID            UserID
	Provider          string
	AgentType         AgentID
	TaskID            TaskID
	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	EstimatedCost     float64
	ProcessingTimeMS  int64
	Success           bool
	Timestamp         time.Time
}
