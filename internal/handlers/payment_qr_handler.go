package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/propease/backend/internal/middleware"
	"github.com/propease/backend/internal/models"
	"github.com/propease/backend/internal/services"
	"github.com/shopspring/decimal"
)

// PaymentQRHandler exposes payment-reference QR generation and resolution.
type PaymentQRHandler struct {
	service   *services.PaymentQRService
	validator *services.ValidationHelper
}

func NewPaymentQRHandler(service *services.PaymentQRService) *PaymentQRHandler {
	return &PaymentQRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR issues a single-use QR reference for a pending contract
// payment.
// POST /payments/qr/generate
func (h *PaymentQRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ContractID string              `json:"contract_id" validate:"required"`
		Kind       models.ContractKind `json:"kind" validate:"required,oneof=Sale Lease Subscription"`
		Amount     decimal.Decimal     `json:"amount"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		services.SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	token, image, err := h.service.Generate(r.Context(), principal.UserID, req.ContractID, req.Kind, req.Amount)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrReferenceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  token,
		"qrImage": image,
	})
}

// ResolveQR consumes a scanned payment reference.
// POST /payments/qr/resolve
func (h *PaymentQRHandler) ResolveQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qrData" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ref, err := h.service.Resolve(r.Context(), req.QRData)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrReferenceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"payment": ref,
	})
}
