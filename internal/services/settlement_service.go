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
	"github.com/google/uuid"
	"github.com/propease/backend/internal/middleware"
	"github.com/propease/backend/internal/models"
	"github.com/shopspring/decimal"
)

const paymentCycleDays = 30

// SettlementService turns approved applications into funded contracts.
// Approval creates a Pending Payment contract row; the matching pay call
// moves the money and activates the contract. Both phases run inside a
// single database transaction each, so a failure leaves no partial state.
type SettlementService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewSettlementService(db *sql.DB, ledger *LedgerService) *SettlementService {
	return &SettlementService{db: db, ledger: ledger}
}

// PaymentResult reports a completed payment phase.
type PaymentResult struct {
	ContractID  string              `json:"contract_id"`
	Kind        models.ContractKind `json:"kind"`
	AmountPaid  decimal.Decimal     `json:"amount_paid"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
	NextDueDate *time.Time          `json:"next_due_date,omitempty"`
}

// Settle approves a pending application and creates the Pending Payment
// contract for the property's transaction type. The Pending -> Approved
// flip is a conditional update; a concurrent second caller affects zero
// rows and observes ErrAlreadySettled.
func (s *SettlementService) Settle(ctx context.Context, applicationID string, actor models.Principal) (*models.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE applications SET status = $1
		WHERE id = $2 AND status = $3`,
		models.ApplicationApproved, applicationID, models.ApplicationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to approve application: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, s.classifySettleConflict(ctx, tx, applicationID)
	}

	app, err := s.fetchApplication(ctx, tx, applicationID)
	if err != nil {
		return nil, err
	}
	prop, err := s.fetchProperty(ctx, tx, app.PropertyID)
	if err != nil {
		return nil, err
	}
	if !actor.Can(models.RoleAdmin) && prop.OwnerID != actor.UserID {
		return nil, ErrNotContractParty
	}

	price := prop.Price
	if app.BidAmount != nil {
		price = *app.BidAmount
	}

	var contract *models.Contract
	switch prop.TransactionType {
	case models.PropertySale:
		contract, err = s.settleSale(ctx, tx, app, prop, price)
	case models.PropertyLease:
		contract, err = s.settleLease(ctx, tx, app, prop, price)
	case models.PropertyPG:
		contract, err = s.settleSubscription(ctx, tx, app, prop, price)
	default:
		err = fmt.Errorf("unknown property transaction type %q", prop.TransactionType)
	}
	if err != nil {
		return nil, err
	}

	// Exclusivity: a committed Sale/Lease property takes no further
	// applications. PG properties stay open until occupancy fills.
	if prop.TransactionType != models.PropertyPG {
		if err := s.rejectSiblings(ctx, tx, prop.ID, app.ID, "Another application was approved."); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	log.Printf("[SETTLEMENT] Application %s settled as %s contract %s", app.ID, contract.Kind, contract.ID())
	return contract, nil
}

func (s *SettlementService) classifySettleConflict(ctx context.Context, tx *sql.Tx, applicationID string) error {
	var status models.ApplicationStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM applications WHERE id = $1`, applicationID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrApplicationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read application status: %w", err)
	}
	if status == models.ApplicationRejected {
		return ErrApplicationNotApproved
	}
	return ErrAlreadySettled
}

func (s *SettlementService) settleSale(ctx context.Context, tx *sql.Tx, app *models.Application, prop *models.Property, price decimal.Decimal) (*models.Contract, error) {
	// Pre-check only; the debit happens at PayForSale time.
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, app.ApplicantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read buyer balance: %w", err)
	}
	if balance.LessThan(price) {
		return nil, ErrInsufficientBalance
	}

	sale := &models.Sale{
		ID:            uuid.NewString(),
		PropertyID:    prop.ID,
		BuyerID:       app.ApplicantID,
		SellerID:      prop.OwnerID,
		SalePrice:     price,
		ApplicationID: app.ID,
		Status:        models.ContractPendingPayment,
		CreatedAt:     time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, property_id, buyer_id, seller_id, sale_price, application_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sale.ID, sale.PropertyID, sale.BuyerID, sale.SellerID, sale.SalePrice,
		sale.ApplicationID, sale.Status, sale.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}
	return &models.Contract{Kind: models.KindSale, Sale: sale}, nil
}

func (s *SettlementService) settleLease(ctx context.Context, tx *sql.Tx, app *models.Application, prop *models.Property, price decimal.Decimal) (*models.Contract, error) {
	if app.LeaseStart == nil || app.LeaseEnd == nil {
		return nil, fmt.Errorf("%w: lease period missing on application", ErrApplicationNotApproved)
	}

	lease := &models.Lease{
		ID:             uuid.NewString(),
		PropertyID:     prop.ID,
		TenantID:       app.ApplicantID,
		OwnerID:        prop.OwnerID,
		StartDate:      *app.LeaseStart,
		EndDate:        *app.LeaseEnd,
		Rent:           price,
		PaymentStatus:  models.PaymentPending,
		PaymentDueDate: *app.LeaseStart,
		LateFee:        decimal.Zero,
		ApplicationID:  app.ID,
		Status:         models.ContractPendingPayment,
		CreatedAt:      time.Now(),
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO leases
		(id, property_id, tenant_id, owner_id, start_date, end_date, rent,
		 payment_status, payment_due_date, late_fee, application_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		lease.ID, lease.PropertyID, lease.TenantID, lease.OwnerID,
		lease.StartDate, lease.EndDate, lease.Rent, lease.PaymentStatus,
		lease.PaymentDueDate, lease.LateFee, lease.ApplicationID, lease.Status, lease.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease: %w", err)
	}
	return &models.Contract{Kind: models.KindLease, Lease: lease}, nil
}

func (s *SettlementService) settleSubscription(ctx context.Context, tx *sql.Tx, app *models.Application, prop *models.Property, price decimal.Decimal) (*models.Contract, error) {
	if app.SubscriptionStart == nil || app.SubscriptionEnd == nil {
		return nil, fmt.Errorf("%w: subscription period missing on application", ErrApplicationNotApproved)
	}

	occupancy, err := s.countActiveSubscriptions(ctx, tx, prop.ID)
	if err != nil {
		return nil, err
	}
	if occupancy >= prop.MaxOccupancy {
		return nil, ErrCapacityExceeded
	}

	sub := &models.Subscription{
		ID:             uuid.NewString(),
		PropertyID:     prop.ID,
		UserID:         app.ApplicantID,
		StartDate:      *app.SubscriptionStart,
		EndDate:        *app.SubscriptionEnd,
		Rent:           price,
		PaymentStatus:  models.PaymentPending,
		PaymentDueDate: *app.SubscriptionStart,
		LateFee:        decimal.Zero,
		IsActive:       false,
		ApplicationID:  app.ID,
		Status:         models.ContractPendingPayment,
		CreatedAt:      time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions
		(id, property_id, user_id, start_date, end_date, rent,
		 payment_status, payment_due_date, late_fee, is_active, application_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.PropertyID, sub.UserID, sub.StartDate, sub.EndDate, sub.Rent,
		sub.PaymentStatus, sub.PaymentDueDate, sub.LateFee, sub.IsActive,
		sub.ApplicationID, sub.Status, sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &models.Contract{Kind: models.KindSubscription, Subscription: sub}, nil
}

// PayForSale moves sale_price buyer -> seller and completes the sale.
func (s *SettlementService) PayForSale(ctx context.Context, saleID, buyerID string) (*PaymentResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sale models.Sale
	err = tx.QueryRowContext(ctx, `
		SELECT id, property_id, buyer_id, seller_id, sale_price, application_id, status
		FROM sales WHERE id = $1`, saleID).
		Scan(&sale.ID, &sale.PropertyID, &sale.BuyerID, &sale.SellerID,
			&sale.SalePrice, &sale.ApplicationID, &sale.Status)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sale: %w", err)
	}
	if sale.BuyerID != buyerID {
		return nil, ErrNotContractParty
	}

	// Status gate: the loser of a concurrent payment affects zero rows.
	if err := s.gateContract(ctx, tx, "sales", saleID,
		`UPDATE sales SET status = $1 WHERE id = $2 AND status = $3`,
		models.ContractCompleted, saleID, models.ContractPendingPayment); err != nil {
		return nil, err
	}

	idemKey := "sale:" + sale.ID
	meta := models.TransferMeta{
		Type:           models.TxPayment,
		Description:    "Sale payment",
		IdempotencyKey: &idemKey,
		PropertyID:     &sale.PropertyID,
	}
	newBalance, err := s.ledger.TransferTx(ctx, tx, sale.BuyerID, sale.SellerID, sale.SalePrice, meta)
	if err != nil {
		return nil, err
	}

	if err := s.updatePropertyStatus(ctx, tx, sale.PropertyID, models.PropertySold); err != nil {
		return nil, err
	}
	if err := s.completeApplication(ctx, tx, sale.ApplicationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sale payment: %w", err)
	}

	log.Printf("[SETTLEMENT] Sale %s completed, property %s sold", sale.ID, sale.PropertyID)
	return &PaymentResult{
		ContractID: sale.ID,
		Kind:       models.KindSale,
		AmountPaid: sale.SalePrice,
		NewBalance: newBalance,
	}, nil
}

// PayForLease moves the first rent tenant -> owner and activates the lease.
func (s *SettlementService) PayForLease(ctx context.Context, leaseID, tenantID string) (*PaymentResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lease models.Lease
	err = tx.QueryRowContext(ctx, `
		SELECT id, property_id, tenant_id, owner_id, rent, application_id, status
		FROM leases WHERE id = $1`, leaseID).
		Scan(&lease.ID, &lease.PropertyID, &lease.TenantID, &lease.OwnerID,
			&lease.Rent, &lease.ApplicationID, &lease.Status)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lease: %w", err)
	}
	if lease.TenantID != tenantID {
		return nil, ErrNotContractParty
	}

	now := time.Now()
	dueDate := now.AddDate(0, 0, paymentCycleDays)
	if err := s.gateContract(ctx, tx, "leases", leaseID,
		`UPDATE leases
		 SET status = $1, payment_status = $2, last_paid_month = $3, payment_due_date = $4
		 WHERE id = $5 AND status = $6`,
		models.ContractActive, models.PaymentPaid, now, dueDate,
		leaseID, models.ContractPendingPayment); err != nil {
		return nil, err
	}

	idemKey := "lease:activate:" + lease.ID
	meta := models.TransferMeta{
		Type:           models.TxPayment,
		Description:    "Lease payment",
		IdempotencyKey: &idemKey,
		PropertyID:     &lease.PropertyID,
		LeaseID:        &lease.ID,
	}
	newBalance, err := s.ledger.TransferTx(ctx, tx, lease.TenantID, lease.OwnerID, lease.Rent, meta)
	if err != nil {
		return nil, err
	}

	if err := s.updatePropertyStatus(ctx, tx, lease.PropertyID, models.PropertyBooked); err != nil {
		return nil, err
	}
	if err := s.completeApplication(ctx, tx, lease.ApplicationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease payment: %w", err)
	}

	log.Printf("[SETTLEMENT] Lease %s activated, property %s booked", lease.ID, lease.PropertyID)
	return &PaymentResult{
		ContractID:  lease.ID,
		Kind:        models.KindLease,
		AmountPaid:  lease.Rent,
		NewBalance:  newBalance,
		NextDueDate: &dueDate,
	}, nil
}

// PayForSubscription moves the first rent subscriber -> owner, activates the
// subscription, and recomputes the property status from derived occupancy.
func (s *SettlementService) PayForSubscription(ctx context.Context, subscriptionID, userID string) (*PaymentResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sub models.Subscription
	err = tx.QueryRowContext(ctx, `
		SELECT id, property_id, user_id, rent, application_id, status
		FROM subscriptions WHERE id = $1`, subscriptionID).
		Scan(&sub.ID, &sub.PropertyID, &sub.UserID, &sub.Rent, &sub.ApplicationID, &sub.Status)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if sub.UserID != userID {
		return nil, ErrNotContractParty
	}

	// Lock the property row so capacity check and activation serialize
	// across concurrent payments on sibling subscriptions.
	prop, err := s.lockProperty(ctx, tx, sub.PropertyID)
	if err != nil {
		return nil, err
	}

	// Authoritative capacity check at payment time.
	occupancy, err := s.countActiveSubscriptions(ctx, tx, sub.PropertyID)
	if err != nil {
		return nil, err
	}
	if occupancy >= prop.MaxOccupancy {
		return nil, ErrCapacityExceeded
	}

	now := time.Now()
	dueDate := now.AddDate(0, 0, paymentCycleDays)
	if err := s.gateContract(ctx, tx, "subscriptions", subscriptionID,
		`UPDATE subscriptions
		 SET status = $1, is_active = TRUE, payment_status = $2, last_paid_period = $3, payment_due_date = $4
		 WHERE id = $5 AND status = $6`,
		models.ContractActive, models.PaymentPaid, now, dueDate,
		subscriptionID, models.ContractPendingPayment); err != nil {
		return nil, err
	}

	idemKey := "subscription:activate:" + sub.ID
	meta := models.TransferMeta{
		Type:           models.TxPayment,
		Description:    "PG subscription payment",
		IdempotencyKey: &idemKey,
		PropertyID:     &sub.PropertyID,
		SubscriptionID: &sub.ID,
	}
	newBalance, err := s.ledger.TransferTx(ctx, tx, sub.UserID, prop.OwnerID, sub.Rent, meta)
	if err != nil {
		return nil, err
	}

	// This subscription is now active, so occupancy grew by one.
	occupancy++
	status := models.PropertyPartiallyBooked
	if occupancy >= prop.MaxOccupancy {
		status = models.PropertyBooked
		if err := s.rejectSiblings(ctx, tx, sub.PropertyID, sub.ApplicationID,
			"Occupancy full. Another application was approved."); err != nil {
			return nil, err
		}
	}
	if err := s.updatePropertyStatus(ctx, tx, sub.PropertyID, status); err != nil {
		return nil, err
	}
	if err := s.completeApplication(ctx, tx, sub.ApplicationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscription payment: %w", err)
	}

	log.Printf("[SETTLEMENT] Subscription %s activated, property %s occupancy %d/%d",
		sub.ID, sub.PropertyID, occupancy, prop.MaxOccupancy)
	return &PaymentResult{
		ContractID:  sub.ID,
		Kind:        models.KindSubscription,
		AmountPaid:  sub.Rent,
		NewBalance:  newBalance,
		NextDueDate: &dueDate,
	}, nil
}

// gateContract runs a conditional status update and turns a zero
// rows-affected result into ErrAlreadySettled.
func (s *SettlementService) gateContract(ctx context.Context, tx *sql.Tx, table, id, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", table, id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAlreadySettled
	}
	return nil
}

func (s *SettlementService) fetchApplication(ctx context.Context, tx *sql.Tx, id string) (*models.Application, error) {
	var app models.Application
	err := tx.QueryRowContext(ctx, `
		SELECT id, property_id, applicant_id, status, bid_amount,
		       lease_start, lease_end, subscription_start, subscription_end, created_at
		FROM applications WHERE id = $1`, id).
		Scan(&app.ID, &app.PropertyID, &app.ApplicantID, &app.Status, &app.BidAmount,
			&app.LeaseStart, &app.LeaseEnd, &app.SubscriptionStart, &app.SubscriptionEnd, &app.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch application: %w", err)
	}
	return &app, nil
}

func (s *SettlementService) fetchProperty(ctx context.Context, tx *sql.Tx, id string) (*models.Property, error) {
	var prop models.Property
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, title, transaction_type, price, status, max_occupancy
		FROM properties WHERE id = $1`, id).
		Scan(&prop.ID, &prop.OwnerID, &prop.Title, &prop.TransactionType,
			&prop.Price, &prop.Status, &prop.MaxOccupancy)
	if err == sql.ErrNoRows {
		return nil, ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch property: %w", err)
	}
	return &prop, nil
}

// lockProperty reads the property under FOR UPDATE so the derived occupancy
// count cannot go stale before this transaction commits.
func (s *SettlementService) lockProperty(ctx context.Context, tx *sql.Tx, id string) (*models.Property, error) {
	var prop models.Property
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, title, transaction_type, price, status, max_occupancy
		FROM properties WHERE id = $1
		FOR UPDATE`, id).
		Scan(&prop.ID, &prop.OwnerID, &prop.Title, &prop.TransactionType,
			&prop.Price, &prop.Status, &prop.MaxOccupancy)
	if err == sql.ErrNoRows {
		return nil, ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock property: %w", err)
	}
	return &prop, nil
}

// countActiveSubscriptions derives occupancy at read time; there is no
// stored counter to drift.
func (s *SettlementService) countActiveSubscriptions(ctx context.Context, tx *sql.Tx, propertyID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subscriptions
		WHERE property_id = $1 AND is_active = TRUE AND terminated_at IS NULL`,
		propertyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return count, nil
}

func (s *SettlementService) rejectSiblings(ctx context.Context, tx *sql.Tx, propertyID, exceptApplicationID, message string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE applications SET status = $1, message = $2
		WHERE property_id = $3 AND id != $4 AND status IN ($5, $6)`,
		models.ApplicationRejected, message, propertyID, exceptApplicationID,
		models.ApplicationPending, models.ApplicationApproved)
	if err != nil {
		return fmt.Errorf("failed to reject sibling applications: %w", err)
	}
	return nil
}

func (s *SettlementService) updatePropertyStatus(ctx context.Context, tx *sql.Tx, propertyID string, status models.PropertyStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE properties SET status = $1 WHERE id = $2`, status, propertyID)
	if err != nil {
		return fmt.Errorf("failed to update property status: %w", err)
	}
	return nil
}

func (s *SettlementService) completeApplication(ctx context.Context, tx *sql.Tx, applicationID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE applications SET status = $1 WHERE id = $2`,
		models.ApplicationCompleted, applicationID)
	if err != nil {
		return fmt.Errorf("failed to complete application: %w", err)
	}
	return nil
}

// HTTP handlers

// ApproveApplication settles an application the moment the provider
// approves it.
// POST /applications/{id}/approve
func (s *SettlementService) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if !principal.Can(models.RoleProvider) {
		SendErrorResponse(w, "Provider role required", http.StatusForbidden, nil)
		return
	}

	applicationID := chi.URLParam(r, "id")
	contract, err := s.Settle(r.Context(), applicationID, principal)
	if err != nil {
		log.Printf("[SETTLEMENT] Settle %s failed: %v", applicationID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"contract": contract,
	})
}

// PaySale completes a pending sale.
// POST /payments/pay/sale/{id}
func (s *SettlementService) PaySale(w http.ResponseWriter, r *http.Request) {
	s.handlePayment(w, r, func(ctx context.Context, id, userID string) (*PaymentResult, error) {
		return s.PayForSale(ctx, id, userID)
	})
}

// PayLease activates a pending lease.
// POST /payments/pay/lease/{id}
func (s *SettlementService) PayLease(w http.ResponseWriter, r *http.Request) {
	s.handlePayment(w, r, func(ctx context.Context, id, userID string) (*PaymentResult, error) {
		return s.PayForLease(ctx, id, userID)
	})
}

// PaySubscription activates a pending PG subscription.
// POST /payments/pay/subscription/{id}
func (s *SettlementService) PaySubscription(w http.ResponseWriter, r *http.Request) {
	s.handlePayment(w, r, func(ctx context.Context, id, userID string) (*PaymentResult, error) {
		return s.PayForSubscription(ctx, id, userID)
	})
}

func (s *SettlementService) handlePayment(w http.ResponseWriter, r *http.Request, pay func(context.Context, string, string) (*PaymentResult, error)) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	// Drain any body; payment endpoints take no payload.
	io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, 1024))

	contractID := chi.URLParam(r, "id")
	result, err := pay(r.Context(), contractID, principal.UserID)
	if err != nil {
		log.Printf("[SETTLEMENT] Payment for %s failed: %v", contractID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"payment": result,
	})
}
