package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractKind tags the three contract variants sharing the settlement flow.
type ContractKind string

const (
	KindSale         ContractKind = "Sale"
	KindLease        ContractKind = "Lease"
	KindSubscription ContractKind = "Subscription"
)

type ContractStatus string

const (
	ContractPendingPayment ContractStatus = "Pending Payment"
	ContractActive         ContractStatus = "Active"
	ContractCompleted      ContractStatus = "Completed"
	ContractTerminated     ContractStatus = "Terminated"
)

// CanTransition validates the per-variant contract state machine. Sales
// complete in one hop; leases and subscriptions activate and may later be
// terminated.
func (s ContractStatus) CanTransition(to ContractStatus) bool {
	switch s {
	case ContractPendingPayment:
		return to == ContractActive || to == ContractCompleted
	case ContractActive:
		return to == ContractTerminated
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentOverdue PaymentStatus = "Overdue"
)

// Sale is a one-shot ownership transfer, funded at PayForSale time.
type Sale struct {
	ID            string          `json:"id" db:"id"`
	PropertyID    string          `json:"property_id" db:"property_id"`
	BuyerID       string          `json:"buyer_id" db:"buyer_id"`
	SellerID      string          `json:"seller_id" db:"seller_id"`
	SalePrice     decimal.Decimal `json:"sale_price" db:"sale_price"`
	ApplicationID string          `json:"application_id" db:"application_id"`
	Status        ContractStatus  `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Lease is a recurring rental contract on an exclusive property.
type Lease struct {
	ID             string          `json:"id" db:"id"`
	PropertyID     string          `json:"property_id" db:"property_id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	Rent           decimal.Decimal `json:"rent" db:"rent"`
	PaymentStatus  PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentDueDate time.Time       `json:"payment_due_date" db:"payment_due_date"`
	LastPaidMonth  *time.Time      `json:"last_paid_month,omitempty" db:"last_paid_month"`
	LateFee        decimal.Decimal `json:"late_fee" db:"late_fee"`
	ApplicationID  string          `json:"application_id" db:"application_id"`
	Status         ContractStatus  `json:"status" db:"status"`
	TerminatedAt   *time.Time      `json:"terminated_at,omitempty" db:"terminated_at"`
	TerminatedBy   string          `json:"terminated_by,omitempty" db:"terminated_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Subscription is a shared-occupancy (PG) rental billed per subscriber.
type Subscription struct {
	ID             string          `json:"id" db:"id"`
	PropertyID     string          `json:"property_id" db:"property_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	Rent           decimal.Decimal `json:"rent" db:"rent"`
	PaymentStatus  PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentDueDate time.Time       `json:"payment_due_date" db:"payment_due_date"`
	LastPaidPeriod *time.Time      `json:"last_paid_period,omitempty" db:"last_paid_period"`
	LateFee        decimal.Decimal `json:"late_fee" db:"late_fee"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	ApplicationID  string          `json:"application_id" db:"application_id"`
	Status         ContractStatus  `json:"status" db:"status"`
	TerminatedAt   *time.Time      `json:"terminated_at,omitempty" db:"terminated_at"`
	TerminatedBy   string          `json:"terminated_by,omitempty" db:"terminated_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Contract is the settlement result returned to callers, a tagged view
// over the three variants.
type Contract struct {
	Kind         ContractKind `json:"kind"`
	Sale         *Sale        `json:"sale,omitempty"`
	Lease        *Lease       `json:"lease,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// ID returns the id of whichever variant is set.
func (c *Contract) ID() string {
	switch c.Kind {
	case KindSale:
		return c.Sale.ID
	case KindLease:
		return c.Lease.ID
	case KindSubscription:
		return c.Subscription.ID
	}
	return ""
}
