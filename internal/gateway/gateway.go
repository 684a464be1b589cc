// Package gateway ingests payment events from the external card/UPI gateway.
//
// The gateway delivers webhooks at-least-once and signs each payload with a
// shared secret. Deposit intents pin a pending top-up to an account before
// the money moves, so a webhook can never credit an account the platform did
// not expect.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrIntentNotFound = errors.New("deposit intent not found")
	ErrIntentConsumed = errors.New("deposit intent already consumed")
)

// Event types delivered by the gateway.
const (
	EventPaymentCaptured = "payment.captured"
)

// Event is one gateway webhook payload.
type Event struct {
	Type        string `json:"eventType" binding:"required"`
	ExternalRef string `json:"externalRef" binding:"required"`
	IntentID    string `json:"intentId"`
	AccountID   string `json:"accountId"`
	Amount      int64  `json:"amountMinorUnits"`
}

// Intent is a pending top-up registered by the platform before redirecting
// the user to the gateway checkout.
type Intent struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Amount      int64     `json:"amount"` // minor units
	ConsumedRef string    `json:"consumedRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Sign computes the hex HMAC-SHA256 signature of a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// IntentStore persists deposit intents.
type IntentStore interface {
	Create(ctx context.Context, i *Intent) error

	// Get returns an intent by ID, or ErrIntentNotFound.
	Get(ctx context.Context, id string) (*Intent, error)

	// Consume binds the intent to the external ref that settled it.
	// Returns ErrIntentConsumed if already bound to a different ref.
	Consume(ctx context.Context, id, externalRef string) error
}
