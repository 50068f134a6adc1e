package gateway

import (
	"math/big"
	"sync"
	"time"

	"github.com/uruklabs/uruk-lottery/go/internal/models"
	"github.com/uruklabs/uruk-lottery/go/internal/purchase"
)

// ClientState is the full UI-facing state snapshot: the purchase step,
// the countdown, the current round, and the cached holdings. Sent whole
// on connect and after every refresh.
type ClientState struct {
	Step        string                `json:"step"`
	LastError   *ErrorState           `json:"last_error,omitempty"`
	Countdown   models.Countdown      `json:"countdown"`
	TimeSource  string                `json:"time_source,omitempty"`
	RoundID     string                `json:"round_id,omitempty"`
	RoundEndsAt *time.Time            `json:"round_ends_at,omitempty"`
	Holdings    *models.RoundHoldings `json:"holdings,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// ErrorState is the UI-facing rendering of a failed purchase step.
type ErrorState struct {
	Step    string `json:"step"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StateManager holds the single authoritative ClientState in memory.
// Writers replace fields under the lock; readers get a copy.
type StateManager struct {
	mu    sync.RWMutex
	state ClientState
}

// NewStateManager creates a state manager in the idle step.
func NewStateManager() *StateManager {
	return &StateManager{
		state: ClientState{
			Step:      string(models.StepIdle),
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// Snapshot returns a copy of the current state.
func (sm *StateManager) Snapshot() ClientState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// SetCountdown records the latest countdown tick and its source.
func (sm *StateManager) SetCountdown(countdown models.Countdown, source models.TimeSourceKind) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.Countdown = countdown
	sm.state.TimeSource = string(source)
	sm.state.UpdatedAt = time.Now().UTC()
}

// SetStep records a purchase step transition. Leaving the error step
// clears the last error.
func (sm *StateManager) SetStep(step models.TransactionStep) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.Step = string(step)
	if step != models.StepError {
		sm.state.LastError = nil
	}
	sm.state.UpdatedAt = time.Now().UTC()
}

// SetError records a terminal purchase failure.
func (sm *StateManager) SetError(stepErr *purchase.StepError) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.Step = string(models.StepError)
	sm.state.LastError = &ErrorState{
		Step:    string(stepErr.Step),
		Kind:    string(stepErr.Kind),
		Message: stepErr.Message(),
	}
	sm.state.UpdatedAt = time.Now().UTC()
}

// SetRound records the active round identity and its end time.
func (sm *StateManager) SetRound(roundID *big.Int, end time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if roundID != nil {
		sm.state.RoundID = roundID.String()
	}
	if !end.IsZero() {
		endCopy := end
		sm.state.RoundEndsAt = &endCopy
	}
	sm.state.UpdatedAt = time.Now().UTC()
}

// SetHoldings replaces the holdings snapshot whole.
func (sm *StateManager) SetHoldings(holdings *models.RoundHoldings) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.Holdings = holdings
	sm.state.UpdatedAt = time.Now().UTC()
}
