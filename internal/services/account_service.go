package services

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/propease/backend/internal/middleware"
	"github.com/shopspring/decimal"
)

// AccountService exposes the ledger over HTTP: balance enquiry, deposits,
// withdrawals, and transaction history.
type AccountService struct {
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewAccountService(ledger *LedgerService) *AccountService {
	return &AccountService{
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// GetBalance returns the caller's current balance.
// GET /accounts/balance
func (s *AccountService) GetBalance(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.ledger.GetBalance(r.Context(), principal.UserID)
	if err != nil {
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user_id": principal.UserID,
		"balance": balance,
	})
}

// Deposit credits the caller's account, creating it on first use.
// POST /accounts/deposit
func (s *AccountService) Deposit(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ledger.Deposit)
}

// Withdraw debits the caller's account.
// POST /accounts/withdraw
func (s *AccountService) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ledger.Withdraw)
}

func (s *AccountService) handleBalanceChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
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

	balance, err := op(r.Context(), principal.UserID, req.Amount)
	if err != nil {
		log.Printf("[ACCOUNT] Balance change for user %s failed: %v", principal.UserID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"balance": balance,
	})
}

// ListTransactions returns the caller's ledger history.
// GET /accounts/transactions?limit=50
func (s *AccountService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transactions, err := s.ledger.ListTransactions(r.Context(), principal.UserID, req.Limit)
	if err != nil {
		log.Printf("[ACCOUNT] Transaction history for user %s failed: %v", principal.UserID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}
