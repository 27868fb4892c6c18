package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "Pending"
	ApplicationApproved  ApplicationStatus = "Approved"
	ApplicationRejected  ApplicationStatus = "Rejected"
	ApplicationCompleted ApplicationStatus = "Completed"
)

// CanTransition validates the application state machine:
// Pending -> Approved|Rejected, Approved -> Completed|Rejected.
func (s ApplicationStatus) CanTransition(to ApplicationStatus) bool {
	switch s {
	case ApplicationPending:
		return to == ApplicationApproved || to == ApplicationRejected
	case ApplicationApproved:
		return to == ApplicationCompleted || to == ApplicationRejected
	}
	return false
}

// Application is a seeker's request to acquire a property.
type Application struct {
	ID                string            `json:"id" db:"id"`
	PropertyID        string            `json:"property_id" db:"property_id"`
	ApplicantID       string            `json:"applicant_id" db:"applicant_id"`
	Status            ApplicationStatus `json:"status" db:"status"`
	Message           string            `json:"message" db:"message"`
	BidAmount         *decimal.Decimal  `json:"bid_amount,omitempty" db:"bid_amount"`
	LeaseStart        *time.Time        `json:"lease_start,omitempty" db:"lease_start"`
	LeaseEnd          *time.Time        `json:"lease_end,omitempty" db:"lease_end"`
	SubscriptionStart *time.Time        `json:"subscription_start,omitempty" db:"subscription_start"`
	SubscriptionEnd   *time.Time        `json:"subscription_end,omitempty" db:"subscription_end"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}
