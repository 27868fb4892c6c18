package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PropertyTransactionType is how a property is offered on the marketplace.
type PropertyTransactionType string

const (
	PropertySale  PropertyTransactionType = "Sale"
	PropertyLease PropertyTransactionType = "Lease"
	PropertyPG    PropertyTransactionType = "PG"
)

type PropertyStatus string

const (
	PropertyAvailable       PropertyStatus = "Available"
	PropertyBooked          PropertyStatus = "Booked"
	PropertyPartiallyBooked PropertyStatus = "Partially Booked"
	PropertySold            PropertyStatus = "Sold"
)

// Property is an external entity; settlement only reads pricing/type and
// flips status. Occupancy is always derived by counting active
// subscriptions, never read from a stored counter.
type Property struct {
	ID              string                  `json:"id" db:"id"`
	OwnerID         string                  `json:"owner_id" db:"owner_id"`
	Title           string                  `json:"title" db:"title"`
	TransactionType PropertyTransactionType `json:"transaction_type" db:"transaction_type"`
	Price           decimal.Decimal         `json:"price" db:"price"`
	Status          PropertyStatus          `json:"status" db:"status"`
	MaxOccupancy    int                     `json:"max_occupancy" db:"max_occupancy"`
	CreatedAt       time.Time               `json:"created_at" db:"created_at"`
}
