package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType determines the sign applied to the account balance at
// write time. Amounts themselves are always stored positive.
type TransactionType string

const (
	TxDeposit    TransactionType = "Deposit"
	TxWithdrawal TransactionType = "Withdrawal"
	TxPayment    TransactionType = "Payment"
	TxRefund     TransactionType = "Refund"
	TxPayout     TransactionType = "Payout"
	TxTransfer   TransactionType = "Transfer"
)

// IsCredit reports whether the type increases the account balance.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TxDeposit, TxRefund, TxPayout:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxPayment, TxRefund, TxPayout, TxTransfer:
		return true
	}
	return false
}

// Account holds a user's ledger balance. One account per user, created
// lazily on first deposit. The version column backs optimistic locking.
type Account struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int             `json:"version" db:"version"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// AccountTransaction is one immutable ledger row. Every balance mutation
// writes exactly one of these.
type AccountTransaction struct {
	ID             string          `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	Type           TransactionType `json:"type" db:"type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Description    string          `json:"description" db:"description"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	PropertyID     *string         `json:"property_id,omitempty" db:"property_id"`
	UserID         *string         `json:"user_id,omitempty" db:"user_id"`
	LeaseID        *string         `json:"lease_id,omitempty" db:"lease_id"`
	SubscriptionID *string         `json:"subscription_id,omitempty" db:"subscription_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// TransferMeta links a ledger row to the entities that caused it. The
// optional idempotency key is unique on the ledger table; a second write
// with the same key is rejected by the database.
type TransferMeta struct {
	Type           TransactionType
	Description    string
	IdempotencyKey *string
	PropertyID     *string
	LeaseID        *string
	SubscriptionID *string
}
