package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/propease/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService moves money between accounts. Every balance mutation and
// its ledger row are applied inside a single database transaction; the
// accounts table is the only source of truth for balances.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Transfer debits fromUserID and credits toUserID atomically, writing one
// ledger row against the payer's account. Returns the payer's new balance.
func (s *LedgerService) Transfer(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, meta models.TransferMeta) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.TransferTx(ctx, tx, fromUserID, toUserID, amount, meta)
	if err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return balance, nil
}

// TransferTx is the composable form of Transfer, running inside a caller's
// transaction so settlement can pair the fund movement with contract writes.
func (s *LedgerService) TransferTx(ctx context.Context, tx *sql.Tx, fromUserID, toUserID string, amount decimal.Decimal, meta models.TransferMeta) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if fromUserID == toUserID {
		return decimal.Zero, ErrSelfTransfer
	}
	if !meta.Type.Valid() {
		return decimal.Zero, fmt.Errorf("invalid transaction type %q", meta.Type)
	}

	// Lock accounts in consistent order to prevent deadlocks.
	firstLock, secondLock := fromUserID, toUserID
	if fromUserID > toUserID {
		firstLock, secondLock = toUserID, fromUserID
	}

	first, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return decimal.Zero, err
	}
	second, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return decimal.Zero, err
	}

	from, to := first, second
	if firstLock != fromUserID {
		from, to = second, first
	}

	if from.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientBalance
	}

	newFrom := from.Balance.Sub(amount)
	newTo := to.Balance.Add(amount)

	if err := s.updateBalance(ctx, tx, from.ID, newFrom, from.Version); err != nil {
		return decimal.Zero, err
	}
	if err := s.updateBalance(ctx, tx, to.ID, newTo, to.Version); err != nil {
		return decimal.Zero, err
	}

	if err := s.insertTransaction(ctx, tx, from.ID, from.UserID, amount, meta); err != nil {
		return decimal.Zero, err
	}

	log.Printf("[LEDGER] Transfer %s: %s -> %s (%s)", amount, fromUserID, toUserID, meta.Type)
	return newFrom, nil
}

// Deposit mints funds into the user's account, creating the account on
// first use. Returns the new balance.
func (s *LedgerService) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureAccount(ctx, tx, userID); err != nil {
		return decimal.Zero, err
	}

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := account.Balance.Add(amount)
	if err := s.updateBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
		return decimal.Zero, err
	}

	meta := models.TransferMeta{Type: models.TxDeposit, Description: "Account deposit"}
	if err := s.insertTransaction(ctx, tx, account.ID, userID, amount, meta); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit deposit: %w", err)
	}

	log.Printf("[LEDGER] Deposit %s for user %s", amount, userID)
	return newBalance, nil
}

// Withdraw debits the user's account. Returns the new balance.
func (s *LedgerService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	if account.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientBalance
	}

	newBalance := account.Balance.Sub(amount)
	if err := s.updateBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
		return decimal.Zero, err
	}

	meta := models.TransferMeta{Type: models.TxWithdrawal, Description: "Account withdrawal"}
	if err := s.insertTransaction(ctx, tx, account.ID, userID, amount, meta); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit withdrawal: %w", err)
	}

	log.Printf("[LEDGER] Withdrawal %s for user %s", amount, userID)
	return newBalance, nil
}

// GetBalance reads the current balance without locking.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// ListTransactions returns the user's ledger history, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit int) ([]models.AccountTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.account_id, t.type, t.amount, t.description, t.idempotency_key,
		       t.property_id, t.user_id, t.lease_id, t.subscription_id, t.created_at
		FROM account_transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.AccountTransaction{}
	for rows.Next() {
		var t models.AccountTransaction
		var description sql.NullString
		err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &description, &t.IdempotencyKey,
			&t.PropertyID, &t.UserID, &t.LeaseID, &t.SubscriptionID, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		t.Description = description.String
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *LedgerService) ensureAccount(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, balance, version, updated_at)
		VALUES ($1, $2, 0, 1, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		uuid.NewString(), userID, time.Now())
	return err
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, balance, version, updated_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&account.ID, &account.UserID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account for user %s: %w", userID, err)
	}
	return &account, nil
}

func (s *LedgerService) updateBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance decimal.Decimal, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// insertTransaction writes the immutable ledger row. The idempotency_key
// column carries a unique index; a replayed key surfaces as
// ErrDuplicateTransaction instead of a second charge.
func (s *LedgerService) insertTransaction(ctx context.Context, tx *sql.Tx, accountID, userID string, amount decimal.Decimal, meta models.TransferMeta) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_transactions
		(id, account_id, type, amount, description, idempotency_key, property_id, user_id, lease_id, subscription_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.NewString(), accountID, meta.Type, amount, meta.Description,
		meta.IdempotencyKey, meta.PropertyID, userID, meta.LeaseID, meta.SubscriptionID, time.Now())
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateTransaction
	}
	if err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}

// validateAmount enforces positivity and the currency's two decimal places.
func validateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}
