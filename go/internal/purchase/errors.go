package purchase

import (
	"errors"
	"fmt"

	"github.com/uruklabs/uruk-lottery/go/internal/models"
)

// ErrorKind classifies where in the pipeline a purchase attempt failed.
// Raw chain/network errors are translated into one of these at the call
// that produced them; nothing crosses the orchestrator boundary untyped.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION"
	KindRead                ErrorKind = "READ"
	KindSimulation          ErrorKind = "SIMULATION"
	KindSubmission          ErrorKind = "SUBMISSION"
	KindConfirmationTimeout ErrorKind = "CONFIRMATION_TIMEOUT"
	KindInternal            ErrorKind = "INTERNAL"
)

// Validation-level errors reported before any step transition or chain call.
var (
	ErrInvalidQuantity     = errors.New("quantity must be a positive whole number")
	ErrPurchaseInFlight    = errors.New("a transaction is already in progress")
	ErrWalletNotConfigured = errors.New("no signing wallet configured")
	ErrContractsMissing    = errors.New("lottery contract address not configured")
	ErrDecimalsUnknown     = errors.New("token decimals unknown")
)

// StepError records a failure together with the step that produced it.
type StepError struct {
	Step models.TransactionStep `json:"step"`
	Kind ErrorKind              `json:"kind"`
	Err  error                  `json:"-"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Message is the human-readable text exposed to the UI layer.
func (e *StepError) Message() string {
	return e.Err.Error()
}

func stepErr(step models.TransactionStep, kind ErrorKind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}
