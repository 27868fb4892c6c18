package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/propease/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// PaymentQRService issues short-lived QR references for pending contract
// payments, so a seeker can hand off a payment to a mobile device. The
// reference is single-use and expires after five minutes.
type PaymentQRService struct {
	redis *redis.Client
}

func NewPaymentQRService(rdb *redis.Client) *PaymentQRService {
	return &PaymentQRService{redis: rdb}
}

// PaymentReference is the payload encoded into the QR code.
type PaymentReference struct {
	UserID     string              `json:"user_id"`
	ContractID string              `json:"contract_id"`
	Kind       models.ContractKind `json:"kind"`
	Amount     decimal.Decimal     `json:"amount"`
	Timestamp  int64               `json:"timestamp"`
	Nonce      string              `json:"nonce"`
}

// Generate encodes a payment reference, stores it in Redis with a TTL, and
// returns the reference token plus a base64 PNG of the QR image.
func (s *PaymentQRService) Generate(ctx context.Context, userID, contractID string, kind models.ContractKind, amount decimal.Decimal) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrReferenceUnavailable
	}

	ref := PaymentReference{
		UserID:     userID,
		ContractID: contractID,
		Kind:       kind,
		Amount:     amount,
		Timestamp:  time.Now().Unix(),
		Nonce:      s.generateNonce(),
	}

	jsonData, err := json.Marshal(ref)
	if err != nil {
		return "", "", err
	}

	token := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("payqr:%s", token)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return token, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Resolve consumes a scanned reference. The token is deleted on first use.
func (s *PaymentQRService) Resolve(ctx context.Context, token string) (*PaymentReference, error) {
	if s.redis == nil {
		return nil, ErrReferenceUnavailable
	}

	key := fmt.Sprintf("payqr:%s", token)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired payment reference")
	}
	if err != nil {
		return nil, err
	}

	var ref PaymentReference
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &ref, nil
}

func (s *PaymentQRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
