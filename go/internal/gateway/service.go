package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/uruklabs/uruk-lottery/go/internal/chain"
	"github.com/uruklabs/uruk-lottery/go/internal/events"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
	"github.com/uruklabs/uruk-lottery/go/internal/purchase"
)

// EventPublisher is the outbound message bus surface the gateway uses
// for cross-service events. Satisfied by events.JetStreamPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, roundID string, payload interface{}) error
}

// Service is the local UI surface: WebSocket push for live state and a
// small JSON API for purchases and snapshots.
type Service struct {
	connectionManager *ConnectionManager
	state             *StateManager
	orchestrator      *purchase.Orchestrator
	refresher         *Refresher
	bus               EventPublisher // optional
}

// NewService creates the gateway service. bus may be nil when no NATS
// endpoint is configured.
func NewService(cm *ConnectionManager, state *StateManager, orchestrator *purchase.Orchestrator, refresher *Refresher, bus EventPublisher) *Service {
	s := &Service{
		connectionManager: cm,
		state:             state,
		orchestrator:      orchestrator,
		refresher:         refresher,
		bus:               bus,
	}

	// Every new client starts from the full current snapshot so it never
	// renders from a partial event stream.
	cm.SetOnConnect(func(conn *Connection) {
		if event, err := NewEvent(EventTypeStateSnapshot, state.Snapshot()); err == nil {
			cm.SendTo(conn, event)
		}
	})
	refresher.SetPublish(cm.Broadcast)

	return s
}

// Start begins the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.connectionManager.Start(ctx)
}

// Handler builds the HTTP surface with CORS applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/tickets/buy", s.handleBuy)
	mux.HandleFunc("/healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.connectionManager.UpgradeConnection(w, r); err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BuyRequest is the purchase form input. Quantity arrives as the raw
// string the user typed; normalization happens in the purchase package.
type BuyRequest struct {
	Quantity string `json:"quantity"`
}

// BuyResponse reports the terminal outcome of a purchase attempt.
type BuyResponse struct {
	Status string      `json:"status"`
	State  ClientState `json:"state"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Step  string      `json:"step,omitempty"`
	Kind  string      `json:"kind,omitempty"`
	State ClientState `json:"state"`
}

// handleBuy runs the purchase pipeline synchronously and reports its
// terminal step. A second buy while one is in flight gets 409.
func (s *Service) handleBuy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", State: s.state.Snapshot()})
		return
	}

	err := s.orchestrator.SubmitPurchase(r.Context(), req.Quantity)
	if err == nil {
		writeJSON(w, http.StatusOK, BuyResponse{Status: "completed", State: s.state.Snapshot()})
		return
	}

	if errors.Is(err, purchase.ErrPurchaseInFlight) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), State: s.state.Snapshot()})
		return
	}

	var stepErr *purchase.StepError
	if errors.As(err, &stepErr) {
		status := http.StatusBadGateway
		if stepErr.Kind == purchase.KindValidation {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{
			Error: stepErr.Message(),
			Step:  string(stepErr.Step),
			Kind:  string(stepErr.Kind),
			State: s.state.Snapshot(),
		})
		return
	}

	// Bare validation sentinels: the machine never left idle.
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), State: s.state.Snapshot()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// PublishTick records and broadcasts one countdown tick. Wired as the
// synchronizer's OnTick hook.
func (s *Service) PublishTick(countdown models.Countdown, source models.TimeSourceKind) {
	s.state.SetCountdown(countdown, source)
	event, err := NewEvent(EventTypeCountdownTick, CountdownTickPayload{
		Hours:   countdown.Hours,
		Minutes: countdown.Minutes,
		Seconds: countdown.Seconds,
		Source:  string(source),
	})
	if err != nil {
		return
	}
	s.connectionManager.Broadcast(event)
}

// PublishStep records and broadcasts a purchase step transition. Wired
// as the orchestrator's OnStep hook.
func (s *Service) PublishStep(step models.TransactionStep) {
	s.state.SetStep(step)
	event, err := NewEvent(EventTypeStepChanged, StepChangedPayload{
		Step:      string(step),
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	s.connectionManager.Broadcast(event)
}

// PublishCompleted broadcasts a confirmed purchase to clients and, when
// a bus is configured, to NATS. Wired as the orchestrator's OnCompleted
// hook.
func (s *Service) PublishCompleted(intent models.PurchaseIntent, receipt *chain.Receipt) {
	payload := events.PurchaseCompletedPayload{
		PurchaseID:  intent.ID.String(),
		Quantity:    intent.TicketQuantity,
		TxHash:      receipt.TxHash.Hex(),
		CompletedAt: time.Now().UTC(),
	}
	if intent.RoundID != nil {
		payload.RoundID = intent.RoundID.String()
	}

	if event, err := NewEvent(EventTypePurchaseCompleted, payload); err == nil {
		s.connectionManager.Broadcast(event)
	}
	s.publishBus(string(EventTypePurchaseCompleted), payload.RoundID, payload)
}

// PublishFailed broadcasts a terminal purchase failure. Wired as the
// orchestrator's OnError hook.
func (s *Service) PublishFailed(stepErr *purchase.StepError) {
	s.state.SetError(stepErr)
	payload := events.PurchaseFailedPayload{
		Step:     string(stepErr.Step),
		Reason:   stepErr.Message(),
		FailedAt: time.Now().UTC(),
	}

	if event, err := NewEvent(EventTypePurchaseFailed, payload); err == nil {
		s.connectionManager.Broadcast(event)
	}
	s.publishBus(string(EventTypePurchaseFailed), payload.RoundID, payload)
}

// PublishRoundStarted broadcasts a round rollover. Wired as the
// synchronizer's OnRoundStarted hook.
func (s *Service) PublishRoundStarted(roundID *big.Int, end time.Time) {
	s.state.SetRound(roundID, end)
	payload := events.RoundStartedPayload{
		RoundID:   roundID.String(),
		EndsAt:    end,
		StartedAt: time.Now().UTC(),
	}

	if event, err := NewEvent(EventTypeRoundStarted, payload); err == nil {
		s.connectionManager.Broadcast(event)
	}
	s.publishBus(string(EventTypeRoundStarted), payload.RoundID, payload)
}

func (s *Service) publishBus(eventType, roundID string, payload interface{}) {
	if s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, eventType, roundID, payload); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("bus publish failed")
	}
}
