package models

import (
	"math/big"

	"github.com/google/uuid"
)

// TransactionStep defines where a purchase attempt currently is in its
// approve -> simulate -> buy -> confirm sequence.
type TransactionStep string

const (
	StepIdle               TransactionStep = "IDLE"
	StepPreparing          TransactionStep = "PREPARING"
	StepCheckingAllowance  TransactionStep = "CHECKING_ALLOWANCE"
	StepApproving          TransactionStep = "APPROVING"
	StepConfirmingApproval TransactionStep = "CONFIRMING_APPROVAL"
	StepSimulatingPurchase TransactionStep = "SIMULATING_PURCHASE"
	StepBuying             TransactionStep = "BUYING"
	StepConfirmingPurchase TransactionStep = "CONFIRMING_PURCHASE"
	StepCompleted          TransactionStep = "COMPLETED"
	StepError              TransactionStep = "ERROR"
)

// Terminal reports whether a new purchase intent may start from this step.
func (s TransactionStep) Terminal() bool {
	return s == StepIdle || s == StepCompleted || s == StepError
}

// PurchaseIntent is a single user request to buy tickets. It is immutable
// after creation; simulation and submission arguments are always re-derived
// from the intent, never from whatever the UI shows by the time a prior
// step finishes.
type PurchaseIntent struct {
	ID             uuid.UUID `json:"id"`
	TicketQuantity int64     `json:"ticket_quantity"`
	RoundID        *big.Int  `json:"round_id"`
}

// AllowanceState pairs a freshly read allowance with the amount a purchase
// attempt needs. Allowance can change externally between attempts, so this
// is recomputed per intent and never cached.
type AllowanceState struct {
	CurrentAllowance *big.Int
	AmountNeeded     *big.Int
}

// NeedsApproval reports whether an approval transaction must precede the
// purchase. Exact big-integer comparison, never floating point.
func (a AllowanceState) NeedsApproval() bool {
	return a.CurrentAllowance.Cmp(a.AmountNeeded) < 0
}
