package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Gateway is the read/simulate/submit/wait surface of the lottery and token
// contracts. Every call is a suspension point: it may fail, time out, or
// return arbitrarily late relative to ticks and new intents.
type Gateway interface {
	ReadAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	ReadBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	ReadDecimals(ctx context.Context) (uint8, error)
	ReadActiveRoundID(ctx context.Context) (*big.Int, error)
	ReadRoundEndTime(ctx context.Context, roundID *big.Int) (time.Time, error)
	ReadOwnedTickets(ctx context.Context, owner common.Address, roundID *big.Int) (*big.Int, error)
	ReadPoolBalance(ctx context.Context, roundID *big.Int) (*big.Int, error)

	// Approve grants the lottery contract spending rights on the token and
	// returns the broadcast transaction hash.
	Approve(ctx context.Context, amount *big.Int) (common.Hash, error)

	// SimulatePurchase dry-runs buyTickets against current chain state.
	// A revert surfaces as *RevertError carrying the contract's reason.
	SimulatePurchase(ctx context.Context, roundID *big.Int, quantity int64) (*PurchaseRequest, error)

	// Submit broadcasts the purchase built from a simulation result. Once
	// broadcast, a transaction can only be awaited, never retracted.
	Submit(ctx context.Context, req *PurchaseRequest) (common.Hash, error)

	WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*Receipt, error)
}

// PurchaseRequest is the executable request produced by a successful
// simulation. It is bound to the round id and quantity it was simulated
// under; a changed intent invalidates it.
type PurchaseRequest struct {
	RoundID  *big.Int
	Quantity int64
	To       common.Address
	Data     []byte
	GasLimit uint64
}

// Receipt is the confirmation result of a broadcast transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// RevertError carries the contract-provided revert reason from a failed
// simulation, verbatim.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}
