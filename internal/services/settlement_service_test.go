package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/propease/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	fetchApplicationSQL = "SELECT id, property_id, applicant_id, status, bid_amount"
	fetchPropertySQL    = "SELECT id, owner_id, title, transaction_type, price, status, max_occupancy"
	lockPropertySQL     = "SELECT id, owner_id, title, transaction_type, price, status, max_occupancy FROM properties WHERE id = \\$1 FOR UPDATE"
	approveAppSQL       = "UPDATE applications SET status = \\$1 WHERE id = \\$2 AND status = \\$3"
	rejectSiblingsSQL   = "UPDATE applications SET status = \\$1, message = \\$2"
	countOccupancySQL   = "SELECT COUNT\\(\\*\\) FROM subscriptions"
	completeAppSQL      = "UPDATE applications SET status = \\$1 WHERE id = \\$2"
	updatePropertySQL   = "UPDATE properties SET status = \\$1 WHERE id = \\$2"
)

func applicationColumns() []string {
	return []string{"id", "property_id", "applicant_id", "status", "bid_amount",
		"lease_start", "lease_end", "subscription_start", "subscription_end", "created_at"}
}

func propertyColumns() []string {
	return []string{"id", "owner_id", "title", "transaction_type", "price", "status", "max_occupancy"}
}

func TestSettlementService_Settle(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, NewLedgerService(db))
	ctx := context.Background()
	owner := models.Principal{UserID: "owner-1", Role: models.RoleProvider}

	t.Run("lease settles at property price when no bid", func(t *testing.T) {
		start := time.Now().AddDate(0, 0, 7)
		end := start.AddDate(1, 0, 0)

		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-1", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchApplicationSQL).
			WithArgs("app-1").
			WillReturnRows(sqlmock.NewRows(applicationColumns()).
				AddRow("app-1", "prop-1", "seeker-1", "Approved", nil, start, end, nil, nil, time.Now()))
		mock.ExpectQuery(fetchPropertySQL).
			WithArgs("prop-1").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-1", "owner-1", "2BHK Flat", "Lease", "5000", "Available", 1))
		mock.ExpectExec("INSERT INTO leases").
			WithArgs(sqlmock.AnyArg(), "prop-1", "seeker-1", "owner-1",
				sqlmock.AnyArg(), sqlmock.AnyArg(), decimal.NewFromInt(5000),
				models.PaymentPending, sqlmock.AnyArg(), decimal.Zero,
				"app-1", models.ContractPendingPayment, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(rejectSiblingsSQL).
			WithArgs(models.ApplicationRejected, "Another application was approved.",
				"prop-1", "app-1", models.ApplicationPending, models.ApplicationApproved).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		contract, err := service.Settle(ctx, "app-1", owner)
		assert.NoError(t, err)
		assert.Equal(t, models.KindLease, contract.Kind)
		assert.Equal(t, "5000", contract.Lease.Rent.String())
		assert.Equal(t, models.ContractPendingPayment, contract.Lease.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sale honors the bid amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-2", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchApplicationSQL).
			WithArgs("app-2").
			WillReturnRows(sqlmock.NewRows(applicationColumns()).
				AddRow("app-2", "prop-2", "buyer-1", "Approved", "240000", nil, nil, nil, nil, time.Now()))
		mock.ExpectQuery(fetchPropertySQL).
			WithArgs("prop-2").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-2", "owner-1", "Villa", "Sale", "250000", "Available", 1))
		mock.ExpectQuery("SELECT balance FROM accounts WHERE user_id = \\$1").
			WithArgs("buyer-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("300000"))
		mock.ExpectExec("INSERT INTO sales").
			WithArgs(sqlmock.AnyArg(), "prop-2", "buyer-1", "owner-1",
				decimal.NewFromInt(240000), "app-2", models.ContractPendingPayment, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(rejectSiblingsSQL).
			WithArgs(models.ApplicationRejected, "Another application was approved.",
				"prop-2", "app-2", models.ApplicationPending, models.ApplicationApproved).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		contract, err := service.Settle(ctx, "app-2", owner)
		assert.NoError(t, err)
		assert.Equal(t, models.KindSale, contract.Kind)
		assert.Equal(t, "240000", contract.Sale.SalePrice.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sale rejects an underfunded buyer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-2", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchApplicationSQL).
			WithArgs("app-2").
			WillReturnRows(sqlmock.NewRows(applicationColumns()).
				AddRow("app-2", "prop-2", "buyer-1", "Approved", nil, nil, nil, nil, nil, time.Now()))
		mock.ExpectQuery(fetchPropertySQL).
			WithArgs("prop-2").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-2", "owner-1", "Villa", "Sale", "250000", "Available", 1))
		mock.ExpectQuery("SELECT balance FROM accounts WHERE user_id = \\$1").
			WithArgs("buyer-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
		mock.ExpectRollback()

		_, err := service.Settle(ctx, "app-2", owner)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("subscription settles while occupancy remains", func(t *testing.T) {
		start := time.Now().AddDate(0, 0, 1)
		end := start.AddDate(0, 6, 0)

		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-3", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchApplicationSQL).
			WithArgs("app-3").
			WillReturnRows(sqlmock.NewRows(applicationColumns()).
				AddRow("app-3", "prop-3", "seeker-2", "Approved", nil, nil, nil, start, end, time.Now()))
		mock.ExpectQuery(fetchPropertySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-3", "owner-1", "PG Hostel", "PG", "800", "Partially Booked", 3))
		mock.ExpectQuery(countOccupancySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec("INSERT INTO subscriptions").
			WithArgs(sqlmock.AnyArg(), "prop-3", "seeker-2",
				sqlmock.AnyArg(), sqlmock.AnyArg(), decimal.NewFromInt(800),
				models.PaymentPending, sqlmock.AnyArg(), decimal.Zero, false,
				"app-3", models.ContractPendingPayment, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		contract, err := service.Settle(ctx, "app-3", owner)
		assert.NoError(t, err)
		assert.Equal(t, models.KindSubscription, contract.Kind)
		assert.False(t, contract.Subscription.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("subscription refuses a full property", func(t *testing.T) {
		start := time.Now()
		end := start.AddDate(0, 6, 0)

		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-3", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchApplicationSQL).
			WithArgs("app-3").
			WillReturnRows(sqlmock.NewRows(applicationColumns()).
				AddRow("app-3", "prop-3", "seeker-2", "Approved", nil, nil, nil, start, end, time.Now()))
		mock.ExpectQuery(fetchPropertySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-3", "owner-1", "PG Hostel", "PG", "800", "Booked", 3))
		mock.ExpectQuery(countOccupancySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectRollback()

		_, err := service.Settle(ctx, "app-3", owner)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second approval loses the conditional update", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-1", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM applications WHERE id = \\$1").
			WithArgs("app-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Approved"))
		mock.ExpectRollback()

		_, err := service.Settle(ctx, "app-1", owner)
		assert.ErrorIs(t, err, ErrAlreadySettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejected application cannot settle", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-1", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM applications WHERE id = \\$1").
			WithArgs("app-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Rejected"))
		mock.ExpectRollback()

		_, err := service.Settle(ctx, "app-1", owner)
		assert.ErrorIs(t, err, ErrApplicationNotApproved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown application", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "ghost", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM applications WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.Settle(ctx, "ghost", owner)
		assert.ErrorIs(t, err, ErrApplicationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only the property owner may approve", func(t *testing.T) {
		intruder := models.Principal{UserID: "owner-2", Role: models.RoleProvider}

		mock.ExpectBegin()
		mock.ExpectExec(approveAppSQL).
			WithArgs(models.ApplicationApproved, "app-1", models.ApplicationPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchApplicationSQL).
			WithArgs("app-1").
			WillReturnRows(sqlmock.NewRows(applicationColumns()).
				AddRow("app-1", "prop-1", "seeker-1", "Approved", nil, nil, nil, nil, nil, time.Now()))
		mock.ExpectQuery(fetchPropertySQL).
			WithArgs("prop-1").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-1", "owner-1", "2BHK Flat", "Lease", "5000", "Available", 1))
		mock.ExpectRollback()

		_, err := service.Settle(ctx, "app-1", intruder)
		assert.ErrorIs(t, err, ErrNotContractParty)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementService_PayForSale(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, NewLedgerService(db))
	ctx := context.Background()

	t.Run("successful sale payment", func(t *testing.T) {
		price := decimal.NewFromInt(250000)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, buyer_id, seller_id, sale_price, application_id, status FROM sales").
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "property_id", "buyer_id", "seller_id", "sale_price", "application_id", "status"}).
				AddRow("sale-1", "prop-1", "alice", "bob", "250000", "app-1", "Pending Payment"))
		mock.ExpectExec("UPDATE sales SET status = \\$1 WHERE id = \\$2 AND status = \\$3").
			WithArgs(models.ContractCompleted, "sale-1", models.ContractPendingPayment).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery(lockAccountSQL).
			WithArgs("alice").
			WillReturnRows(accountRow("acc-alice", "alice", "300000", 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs("bob").
			WillReturnRows(accountRow("acc-bob", "bob", "0", 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.NewFromInt(50000), sqlmock.AnyArg(), "acc-alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.NewFromInt(250000), sqlmock.AnyArg(), "acc-bob", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO account_transactions").
			WithArgs(sqlmock.AnyArg(), "acc-alice", models.TxPayment, price, "Sale payment",
				"sale:sale-1", "prop-1", "alice", nil, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec(updatePropertySQL).
			WithArgs(models.PropertySold, "prop-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(completeAppSQL).
			WithArgs(models.ApplicationCompleted, "app-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.PayForSale(ctx, "sale-1", "alice")
		assert.NoError(t, err)
		assert.Equal(t, models.KindSale, result.Kind)
		assert.Equal(t, "50000", result.NewBalance.String())
		assert.Nil(t, result.NextDueDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only the buyer may pay", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, buyer_id, seller_id, sale_price, application_id, status FROM sales").
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "property_id", "buyer_id", "seller_id", "sale_price", "application_id", "status"}).
				AddRow("sale-1", "prop-1", "alice", "bob", "250000", "app-1", "Pending Payment"))
		mock.ExpectRollback()

		_, err := service.PayForSale(ctx, "sale-1", "mallory")
		assert.ErrorIs(t, err, ErrNotContractParty)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementService_PayForLease(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, NewLedgerService(db))
	ctx := context.Background()

	leaseColumns := []string{"id", "property_id", "tenant_id", "owner_id", "rent", "application_id", "status"}

	t.Run("first rent activates the lease", func(t *testing.T) {
		rent := decimal.NewFromInt(1200)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, tenant_id, owner_id, rent, application_id, status FROM leases").
			WithArgs("lease-1").
			WillReturnRows(sqlmock.NewRows(leaseColumns).
				AddRow("lease-1", "prop-1", "alice", "bob", "1200", "app-1", "Pending Payment"))
		mock.ExpectExec("UPDATE leases SET status = \\$1, payment_status = \\$2, last_paid_month = \\$3, payment_due_date = \\$4").
			WithArgs(models.ContractActive, models.PaymentPaid, sqlmock.AnyArg(), sqlmock.AnyArg(),
				"lease-1", models.ContractPendingPayment).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery(lockAccountSQL).
			WithArgs("alice").
			WillReturnRows(accountRow("acc-alice", "alice", "5000", 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs("bob").
			WillReturnRows(accountRow("acc-bob", "bob", "200", 4))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.NewFromInt(3800), sqlmock.AnyArg(), "acc-alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.NewFromInt(1400), sqlmock.AnyArg(), "acc-bob", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO account_transactions").
			WithArgs(sqlmock.AnyArg(), "acc-alice", models.TxPayment, rent, "Lease payment",
				"lease:activate:lease-1", "prop-1", "alice", "lease-1", nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec(updatePropertySQL).
			WithArgs(models.PropertyBooked, "prop-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(completeAppSQL).
			WithArgs(models.ApplicationCompleted, "app-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.PayForLease(ctx, "lease-1", "alice")
		assert.NoError(t, err)
		assert.Equal(t, "3800", result.NewBalance.String())
		assert.NotNil(t, result.NextDueDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second payment loses the status gate", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, tenant_id, owner_id, rent, application_id, status FROM leases").
			WithArgs("lease-1").
			WillReturnRows(sqlmock.NewRows(leaseColumns).
				AddRow("lease-1", "prop-1", "alice", "bob", "1200", "app-1", "Active"))
		mock.ExpectExec("UPDATE leases SET status = \\$1, payment_status = \\$2, last_paid_month = \\$3, payment_due_date = \\$4").
			WithArgs(models.ContractActive, models.PaymentPaid, sqlmock.AnyArg(), sqlmock.AnyArg(),
				"lease-1", models.ContractPendingPayment).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := service.PayForLease(ctx, "lease-1", "alice")
		assert.ErrorIs(t, err, ErrAlreadySettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back the activation", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, tenant_id, owner_id, rent, application_id, status FROM leases").
			WithArgs("lease-1").
			WillReturnRows(sqlmock.NewRows(leaseColumns).
				AddRow("lease-1", "prop-1", "alice", "bob", "1200", "app-1", "Pending Payment"))
		mock.ExpectExec("UPDATE leases SET status = \\$1, payment_status = \\$2, last_paid_month = \\$3, payment_due_date = \\$4").
			WithArgs(models.ContractActive, models.PaymentPaid, sqlmock.AnyArg(), sqlmock.AnyArg(),
				"lease-1", models.ContractPendingPayment).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs("alice").
			WillReturnRows(accountRow("acc-alice", "alice", "100", 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs("bob").
			WillReturnRows(accountRow("acc-bob", "bob", "200", 1))
		mock.ExpectRollback()

		_, err := service.PayForLease(ctx, "lease-1", "alice")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown lease", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, tenant_id, owner_id, rent, application_id, status FROM leases").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.PayForLease(ctx, "ghost", "alice")
		assert.ErrorIs(t, err, ErrContractNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementService_PayForSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, NewLedgerService(db))
	ctx := context.Background()

	subColumns := []string{"id", "property_id", "user_id", "rent", "application_id", "status"}

	t.Run("payment filling occupancy rejects remaining applicants", func(t *testing.T) {
		rent := decimal.NewFromInt(800)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, user_id, rent, application_id, status FROM subscriptions").
			WithArgs("sub-1").
			WillReturnRows(sqlmock.NewRows(subColumns).
				AddRow("sub-1", "prop-3", "alice", "800", "app-3", "Pending Payment"))
		mock.ExpectQuery(lockPropertySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-3", "bob", "PG Hostel", "PG", "800", "Partially Booked", 2))
		mock.ExpectQuery(countOccupancySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec("UPDATE subscriptions SET status = \\$1, is_active = TRUE").
			WithArgs(models.ContractActive, models.PaymentPaid, sqlmock.AnyArg(), sqlmock.AnyArg(),
				"sub-1", models.ContractPendingPayment).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery(lockAccountSQL).
			WithArgs("alice").
			WillReturnRows(accountRow("acc-alice", "alice", "2000", 1))
		mock.ExpectQuery(lockAccountSQL).
			WithArgs("bob").
			WillReturnRows(accountRow("acc-bob", "bob", "0", 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.NewFromInt(1200), sqlmock.AnyArg(), "acc-alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(decimal.NewFromInt(800), sqlmock.AnyArg(), "acc-bob", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO account_transactions").
			WithArgs(sqlmock.AnyArg(), "acc-alice", models.TxPayment, rent, "PG subscription payment",
				"subscription:activate:sub-1", "prop-3", "alice", nil, "sub-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec(rejectSiblingsSQL).
			WithArgs(models.ApplicationRejected, "Occupancy full. Another application was approved.",
				"prop-3", "app-3", models.ApplicationPending, models.ApplicationApproved).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updatePropertySQL).
			WithArgs(models.PropertyBooked, "prop-3").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(completeAppSQL).
			WithArgs(models.ApplicationCompleted, "app-3").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.PayForSubscription(ctx, "sub-1", "alice")
		assert.NoError(t, err)
		assert.Equal(t, models.KindSubscription, result.Kind)
		assert.Equal(t, "1200", result.NewBalance.String())
		assert.NotNil(t, result.NextDueDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("occupancy already full at payment time", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, user_id, rent, application_id, status FROM subscriptions").
			WithArgs("sub-1").
			WillReturnRows(sqlmock.NewRows(subColumns).
				AddRow("sub-1", "prop-3", "alice", "800", "app-3", "Pending Payment"))
		// The property row is taken FOR UPDATE so concurrent sibling
		// payments serialize on the capacity check.
		mock.ExpectQuery(lockPropertySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows(propertyColumns()).
				AddRow("prop-3", "bob", "PG Hostel", "PG", "800", "Booked", 2))
		mock.ExpectQuery(countOccupancySQL).
			WithArgs("prop-3").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		_, err := service.PayForSubscription(ctx, "sub-1", "alice")
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only the subscriber may pay", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, property_id, user_id, rent, application_id, status FROM subscriptions").
			WithArgs("sub-1").
			WillReturnRows(sqlmock.NewRows(subColumns).
				AddRow("sub-1", "prop-3", "alice", "800", "app-3", "Pending Payment"))
		mock.ExpectRollback()

		_, err := service.PayForSubscription(ctx, "sub-1", "mallory")
		assert.ErrorIs(t, err, ErrNotContractParty)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
