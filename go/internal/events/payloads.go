package events

import (
	"time"
)

// Event payload types that are shared between the purchase pipeline,
// the gateway, and the NATS publisher.

// RoundStartedPayload is the payload for a RoundStarted event
type RoundStartedPayload struct {
	RoundID   string    `json:"round_id"`
	EndsAt    time.Time `json:"ends_at"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
}

// PurchaseCompletedPayload is the payload for a PurchaseCompleted event
type PurchaseCompletedPayload struct {
	PurchaseID  string    `json:"purchase_id"`
	RoundID     string    `json:"round_id"`
	Quantity    int64     `json:"quantity"`
	TxHash      string    `json:"tx_hash"`
	CompletedAt time.Time `json:"completed_at"`
}

// PurchaseFailedPayload is the payload for a PurchaseFailed event
type PurchaseFailedPayload struct {
	PurchaseID string    `json:"purchase_id"`
	RoundID    string    `json:"round_id,omitempty"`
	Step       string    `json:"step"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}
