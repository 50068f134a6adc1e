package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/uruklabs/uruk-lottery/go/internal/events"
)

// LotteryEvent represents the base structure for all events pushed to
// connected clients
type LotteryEvent struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of lottery event
type EventType string

const (
	EventTypeCountdownTick     EventType = "CountdownTick"
	EventTypeStepChanged       EventType = "StepChanged"
	EventTypePurchaseCompleted EventType = "PurchaseCompleted"
	EventTypePurchaseFailed    EventType = "PurchaseFailed"
	EventTypeRoundStarted      EventType = "RoundStarted"
	EventTypeStateSnapshot     EventType = "StateSnapshot"
)

// CountdownTickPayload carries the per-second countdown update
type CountdownTickPayload struct {
	Hours   int    `json:"hours"`
	Minutes int    `json:"minutes"`
	Seconds int    `json:"seconds"`
	Source  string `json:"source"`
}

// StepChangedPayload announces a purchase pipeline step transition
type StepChangedPayload struct {
	Step      string    `json:"step"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewEvent wraps a payload in the wire envelope
func NewEvent(eventType EventType, payload interface{}) (*LotteryEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &LotteryEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *LotteryEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeCountdownTick:
		var payload CountdownTickPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeStepChanged:
		var payload StepChangedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePurchaseCompleted:
		var payload events.PurchaseCompletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePurchaseFailed:
		var payload events.PurchaseFailedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundStarted:
		var payload events.RoundStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeStateSnapshot:
		var payload ClientState
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
