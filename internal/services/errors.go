package services

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidAmount          = errors.New("amount must be a positive value with at most two decimal places")
	ErrSelfTransfer           = errors.New("payer and payee must be different accounts")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrAccountNotFound        = errors.New("account not found")
	ErrConflict               = errors.New("concurrent update detected")
	ErrDuplicateTransaction   = errors.New("ledger entry already recorded for this key")
	ErrReferenceUnavailable   = errors.New("payment references unavailable")
	ErrApplicationNotFound    = errors.New("application not found")
	ErrApplicationNotApproved = errors.New("only approved applications can be settled")
	ErrPropertyNotFound       = errors.New("property not found")
	ErrContractNotFound       = errors.New("contract not found")
	ErrAlreadySettled         = errors.New("contract already settled")
	ErrCapacityExceeded       = errors.New("occupancy full")
	ErrNotContractParty       = errors.New("caller is not a party to this contract")
)

// StatusForError maps settlement/ledger errors to HTTP status codes at the
// handler edge.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrApplicationNotApproved):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotContractParty):
		return http.StatusForbidden
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrApplicationNotFound),
		errors.Is(err, ErrPropertyNotFound),
		errors.Is(err, ErrContractNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, ErrReferenceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
