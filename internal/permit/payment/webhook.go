package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// Webhook event names.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

var (
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	ErrMalformedEvent   = errors.New("payment: malformed webhook event")
)

// WebhookEvent is the subset of a provider notification the record store needs.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// VerifySignature reports whether signature is the HMAC-SHA512 of body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies signature and decodes body.
func ParseWebhook(secret string, body []byte, signature string) (*WebhookEvent, error) {
	if !VerifySignature(secret, body, signature) {
		return nil, ErrInvalidSignature
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, ErrMalformedEvent
	}
	if ev.Event == "" || ev.Data.Reference == "" {
		return nil, ErrMalformedEvent
	}
	return &ev, nil
}
