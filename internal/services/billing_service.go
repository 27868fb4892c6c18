package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/propease/backend/internal/middleware"
	"github.com/propease/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LateFeePolicy computes the accrued late fee from days overdue.
type LateFeePolicy func(daysOverdue int) decimal.Decimal

// FixedLateFee charges one flat fee per overdue cycle, the default policy.
func FixedLateFee(fee decimal.Decimal) LateFeePolicy {
	return func(daysOverdue int) decimal.Decimal {
		if daysOverdue <= 0 {
			return decimal.Zero
		}
		cycles := (daysOverdue-1)/paymentCycleDays + 1
		return fee.Mul(decimal.NewFromInt(int64(cycles)))
	}
}

// BillingService handles recurring rent collection on active leases and PG
// subscriptions, overdue reporting, and termination.
type BillingService struct {
	db      *sql.DB
	ledger  *LedgerService
	redis   *redis.Client
	lateFee LateFeePolicy
}

func NewBillingService(db *sql.DB, ledger *LedgerService, rdb *redis.Client) *BillingService {
	viper.SetDefault("billing.late_fee", "50.00")
	fee, err := decimal.NewFromString(viper.GetString("billing.late_fee"))
	if err != nil {
		log.Printf("[BILLING] Invalid billing.late_fee, using 50.00: %v", err)
		fee = decimal.NewFromInt(50)
	}
	return &BillingService{
		db:      db,
		ledger:  ledger,
		redis:   rdb,
		lateFee: FixedLateFee(fee),
	}
}

// DueItem is one overdue or due contract in the caller's report.
type DueItem struct {
	ContractID     string              `json:"contract_id"`
	Kind           models.ContractKind `json:"kind"`
	PropertyID     string              `json:"property_id"`
	Rent           decimal.Decimal     `json:"rent"`
	PaymentDueDate time.Time           `json:"payment_due_date"`
	DaysOverdue    int                 `json:"days_overdue"`
	LateFee        decimal.Decimal     `json:"late_fee"`
}

// CollectDue charges one rent cycle on an active lease. The transfer and
// the lease update commit together; an insufficient balance rolls
// everything back.
func (s *BillingService) CollectLeaseDue(ctx context.Context, leaseID, callerID string) (*PaymentResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lease models.Lease
	err = tx.QueryRowContext(ctx, `
		SELECT id, property_id, tenant_id, owner_id, rent, status, payment_due_date
		FROM leases WHERE id = $1`, leaseID).
		Scan(&lease.ID, &lease.PropertyID, &lease.TenantID, &lease.OwnerID,
			&lease.Rent, &lease.Status, &lease.PaymentDueDate)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lease: %w", err)
	}
	if lease.TenantID != callerID {
		return nil, ErrNotContractParty
	}
	if lease.Status != models.ContractActive {
		return nil, ErrAlreadySettled
	}

	// Cycle gate: the due date must still be the one just read, so two
	// concurrent collections cannot both charge the same cycle.
	now := time.Now()
	dueDate := now.AddDate(0, 0, paymentCycleDays)
	result, err := tx.ExecContext(ctx, `
		UPDATE leases
		SET last_paid_month = $1, payment_due_date = $2, payment_status = $3, late_fee = 0
		WHERE id = $4 AND status = $5 AND payment_due_date = $6`,
		now, dueDate, models.PaymentPaid, leaseID, models.ContractActive, lease.PaymentDueDate)
	if err != nil {
		return nil, fmt.Errorf("failed to update lease: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrConflict
	}

	idemKey := fmt.Sprintf("lease:%s:%s", lease.ID, lease.PaymentDueDate.Format("2006-01-02"))
	meta := models.TransferMeta{
		Type:           models.TxPayment,
		Description:    "Monthly lease payment",
		IdempotencyKey: &idemKey,
		PropertyID:     &lease.PropertyID,
		LeaseID:        &lease.ID,
	}
	newBalance, err := s.ledger.TransferTx(ctx, tx, lease.TenantID, lease.OwnerID, lease.Rent, meta)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease payment: %w", err)
	}

	log.Printf("[BILLING] Lease %s rent collected, next due %s", leaseID, dueDate.Format("2006-01-02"))
	return &PaymentResult{
		ContractID:  lease.ID,
		Kind:        models.KindLease,
		AmountPaid:  lease.Rent,
		NewBalance:  newBalance,
		NextDueDate: &dueDate,
	}, nil
}

// CollectSubscriptionDue charges one rent cycle on an active PG
// subscription.
func (s *BillingService) CollectSubscriptionDue(ctx context.Context, subscriptionID, callerID string) (*PaymentResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sub models.Subscription
	var ownerID string
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, s.property_id, s.user_id, s.rent, s.status, s.payment_due_date, p.owner_id
		FROM subscriptions s
		JOIN properties p ON p.id = s.property_id
		WHERE s.id = $1`, subscriptionID).
		Scan(&sub.ID, &sub.PropertyID, &sub.UserID, &sub.Rent, &sub.Status, &sub.PaymentDueDate, &ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if sub.UserID != callerID {
		return nil, ErrNotContractParty
	}
	if sub.Status != models.ContractActive {
		return nil, ErrAlreadySettled
	}

	now := time.Now()
	dueDate := now.AddDate(0, 0, paymentCycleDays)
	result, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_paid_period = $1, payment_due_date = $2, payment_status = $3, late_fee = 0
		WHERE id = $4 AND status = $5 AND payment_due_date = $6`,
		now, dueDate, models.PaymentPaid, subscriptionID, models.ContractActive, sub.PaymentDueDate)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrConflict
	}

	idemKey := fmt.Sprintf("subscription:%s:%s", sub.ID, sub.PaymentDueDate.Format("2006-01-02"))
	meta := models.TransferMeta{
		Type:           models.TxPayment,
		Description:    "Monthly PG payment",
		IdempotencyKey: &idemKey,
		PropertyID:     &sub.PropertyID,
		SubscriptionID: &sub.ID,
	}
	newBalance, err := s.ledger.TransferTx(ctx, tx, sub.UserID, ownerID, sub.Rent, meta)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscription payment: %w", err)
	}

	log.Printf("[BILLING] Subscription %s rent collected, next due %s", subscriptionID, dueDate.Format("2006-01-02"))
	return &PaymentResult{
		ContractID:  sub.ID,
		Kind:        models.KindSubscription,
		AmountPaid:  sub.Rent,
		NewBalance:  newBalance,
		NextDueDate: &dueDate,
	}, nil
}

// ListOverdue returns the caller's active leases and subscriptions whose
// payment due date has passed, with the accrued late fee. Terminated
// contracts are excluded.
func (s *BillingService) ListOverdue(ctx context.Context, userID string) ([]DueItem, error) {
	now := time.Now()
	items := []DueItem{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, rent, payment_due_date
		FROM leases
		WHERE tenant_id = $1 AND status = $2 AND terminated_at IS NULL AND payment_due_date <= $3`,
		userID, models.ContractActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch overdue leases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item := DueItem{Kind: models.KindLease}
		if err := rows.Scan(&item.ContractID, &item.PropertyID, &item.Rent, &item.PaymentDueDate); err != nil {
			return nil, err
		}
		item.DaysOverdue = daysBetween(item.PaymentDueDate, now)
		item.LateFee = s.lateFee(item.DaysOverdue)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subRows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, rent, payment_due_date
		FROM subscriptions
		WHERE user_id = $1 AND status = $2 AND is_active = TRUE AND terminated_at IS NULL AND payment_due_date <= $3`,
		userID, models.ContractActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch overdue subscriptions: %w", err)
	}
	defer subRows.Close()
	for subRows.Next() {
		item := DueItem{Kind: models.KindSubscription}
		if err := subRows.Scan(&item.ContractID, &item.PropertyID, &item.Rent, &item.PaymentDueDate); err != nil {
			return nil, err
		}
		item.DaysOverdue = daysBetween(item.PaymentDueDate, now)
		item.LateFee = s.lateFee(item.DaysOverdue)
		items = append(items, item)
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	s.notifyOverdue(ctx, userID, items)
	return items, nil
}

// Terminate ends a lease or subscription. Terminated contracts drop out of
// overdue reports and occupancy counts.
func (s *BillingService) Terminate(ctx context.Context, contractID string, actor models.Principal) (models.ContractKind, error) {
	now := time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE leases SET status = $1, terminated_at = $2, terminated_by = $3
		WHERE id = $4 AND status = $5 AND (tenant_id = $6 OR owner_id = $6)`,
		models.ContractTerminated, now, string(actor.Role), contractID, models.ContractActive, actor.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to terminate lease: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("[BILLING] Lease %s terminated by %s", contractID, actor.Role)
		return models.KindLease, nil
	}

	result, err = s.db.ExecContext(ctx, `
		UPDATE subscriptions s SET status = $1, is_active = FALSE, terminated_at = $2, terminated_by = $3
		FROM properties p
		WHERE s.id = $4 AND s.status = $5 AND s.property_id = p.id
		  AND (s.user_id = $6 OR p.owner_id = $6)`,
		models.ContractTerminated, now, string(actor.Role), contractID, models.ContractActive, actor.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to terminate subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("[BILLING] Subscription %s terminated by %s", contractID, actor.Role)
		return models.KindSubscription, nil
	}

	return "", ErrContractNotFound
}

// notifyOverdue hands the overdue report to the out-of-process notifier
// via Redis. Best effort.
func (s *BillingService) notifyOverdue(ctx context.Context, userID string, items []DueItem) {
	if s.redis == nil || len(items) == 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"user_id": userID,
		"items":   items,
	})
	if err != nil {
		return
	}
	if err := s.redis.RPush(ctx, "billing:overdue", payload).Err(); err != nil {
		log.Printf("[BILLING] Failed to queue overdue notification: %v", err)
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// HTTP handlers

// PayRecurring collects one due rent cycle.
// POST /payments/recurring  body: {"lease_id": ...} or {"subscription_id": ...}
func (s *BillingService) PayRecurring(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		LeaseID        string `json:"lease_id"`
		SubscriptionID string `json:"subscription_id"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	var result *PaymentResult
	var err error
	switch {
	case req.LeaseID != "":
		result, err = s.CollectLeaseDue(r.Context(), req.LeaseID, principal.UserID)
	case req.SubscriptionID != "":
		result, err = s.CollectSubscriptionDue(r.Context(), req.SubscriptionID, principal.UserID)
	default:
		SendErrorResponse(w, "lease_id or subscription_id required", http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		log.Printf("[BILLING] Recurring payment failed: %v", err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"payment": result,
	})
}

// ListDue reports the caller's due and overdue contracts.
// GET /payments/due
func (s *BillingService) ListDue(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	items, err := s.ListOverdue(r.Context(), principal.UserID)
	if err != nil {
		log.Printf("[BILLING] Overdue report failed: %v", err)
		SendErrorResponse(w, "Failed to fetch due payments", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"due":   items,
		"count": len(items),
	})
}

// TerminateContract ends a lease or subscription.
// POST /contracts/{id}/terminate
func (s *BillingService) TerminateContract(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	contractID := chi.URLParam(r, "id")
	kind, err := s.Terminate(r.Context(), contractID, principal)
	if err != nil {
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"kind":    kind,
		"message": fmt.Sprintf("%s terminated successfully", kind),
	})
}
