package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/uruklabs/uruk-lottery/go/internal/chain"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
)

const (
	defaultConfirmTimeout = 90 * time.Second
	refreshTimeout        = 30 * time.Second
)

// RefreshFunc re-reads dependent state (balance, tickets, pool, allowance)
// after a completed purchase. It runs detached: a refresh failure is
// reported but never reverts a completed purchase.
type RefreshFunc func(ctx context.Context) error

// Hooks receive orchestrator lifecycle callbacks. All fields are optional.
type Hooks struct {
	OnStep      func(step models.TransactionStep)
	OnCompleted func(intent models.PurchaseIntent, receipt *chain.Receipt)
	OnError     func(stepErr *StepError)
}

// Config holds the static inputs of the purchase pipeline.
type Config struct {
	Owner          common.Address
	Spender        common.Address // the lottery contract
	TicketPrice    *big.Int       // whole tokens per ticket
	Decimals       uint8
	DecimalsKnown  bool
	ConfirmTimeout time.Duration
}

// Orchestrator drives one purchase intent at a time through the
// approve -> simulate -> buy -> confirm sequence. Steps are strictly
// sequential within an intent; a new intent is rejected while the current
// one is in flight.
type Orchestrator struct {
	gateway chain.Gateway
	cfg     Config
	refresh RefreshFunc
	hooks   Hooks

	mu         sync.Mutex
	step       models.TransactionStep
	lastErr    *StepError
	submitted  bool
	purchaseTx common.Hash
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(gateway chain.Gateway, cfg Config, refresh RefreshFunc, hooks Hooks) *Orchestrator {
	if cfg.TicketPrice == nil || cfg.TicketPrice.Sign() <= 0 {
		cfg.TicketPrice = big.NewInt(1)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Orchestrator{
		gateway: gateway,
		cfg:     cfg,
		refresh: refresh,
		hooks:   hooks,
		step:    models.StepIdle,
	}
}

// CurrentStep returns the step of the in-flight (or last) intent.
func (o *Orchestrator) CurrentStep() models.TransactionStep {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// LastError returns the terminal error of the last failed intent, if any.
func (o *Orchestrator) LastError() *StepError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// SubmitPurchase validates raw form input and runs the full purchase
// sequence to a terminal step. Validation failures are reported without
// any step transition or chain call; the state stays idle.
func (o *Orchestrator) SubmitPurchase(ctx context.Context, rawQuantity string) (err error) {
	quantity, err := NormalizeQuantity(rawQuantity)
	if err != nil {
		return err
	}
	if o.cfg.Owner == (common.Address{}) {
		return ErrWalletNotConfigured
	}
	if o.cfg.Spender == (common.Address{}) {
		return ErrContractsMissing
	}
	if !o.cfg.DecimalsKnown {
		return ErrDecimalsUnknown
	}

	if err := o.claim(); err != nil {
		return err
	}

	// Anything unexpected below still lands the machine in a terminal
	// error with the originating step recorded.
	defer func() {
		if r := recover(); r != nil {
			err = o.fail(o.CurrentStep(), KindInternal, fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	return o.run(ctx, quantity)
}

// claim takes the single in-flight slot, rejecting re-entrant intents.
func (o *Orchestrator) claim() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.step.Terminal() {
		return fmt.Errorf("%w (current step %s)", ErrPurchaseInFlight, o.step)
	}
	o.step = models.StepPreparing
	o.lastErr = nil
	o.submitted = false
	o.purchaseTx = common.Hash{}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, quantity int64) error {
	o.emitStep(models.StepPreparing)

	// The intent is bound to the round that is active now. Simulation and
	// submission arguments are re-derived from it later, so quantity or
	// round changes during the approval wait can never leak in.
	roundID, err := o.gateway.ReadActiveRoundID(ctx)
	if err != nil {
		return o.fail(models.StepPreparing, KindRead, fmt.Errorf("failed to read active round: %w", err))
	}
	intent := &models.PurchaseIntent{
		ID:             uuid.New(),
		TicketQuantity: quantity,
		RoundID:        roundID,
	}

	log.Info().
		Str("intent_id", intent.ID.String()).
		Int64("quantity", quantity).
		Str("round_id", roundID.String()).
		Msg("purchase intent accepted")

	o.setStep(models.StepCheckingAllowance)

	// Forced fresh read: allowance can change externally between attempts
	// (a prior partial approval, a revocation), so no cached value is ever
	// trusted here.
	allowance, err := o.gateway.ReadAllowance(ctx, o.cfg.Owner, o.cfg.Spender)
	if err != nil {
		return o.fail(models.StepCheckingAllowance, KindRead, fmt.Errorf("failed to read allowance: %w", err))
	}
	state := models.AllowanceState{
		CurrentAllowance: allowance,
		AmountNeeded:     AmountNeeded(quantity, o.cfg.TicketPrice, o.cfg.Decimals),
	}

	if state.NeedsApproval() {
		if err := o.approve(ctx); err != nil {
			return err
		}
	}

	o.setStep(models.StepSimulatingPurchase)

	req, err := o.gateway.SimulatePurchase(ctx, intent.RoundID, intent.TicketQuantity)
	if err != nil {
		var revert *chain.RevertError
		if errors.As(err, &revert) {
			return o.fail(models.StepSimulatingPurchase, KindSimulation, revert)
		}
		return o.fail(models.StepSimulatingPurchase, KindRead, fmt.Errorf("simulation failed: %w", err))
	}

	o.setStep(models.StepBuying)

	txHash, err := o.submitOnce(ctx, req)
	if err != nil {
		return o.fail(models.StepBuying, KindSubmission, fmt.Errorf("failed to submit purchase: %w", err))
	}

	o.setStep(models.StepConfirmingPurchase)

	receipt, err := o.waitConfirmed(ctx, txHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Broadcast succeeded; the transaction may still land later.
			return o.fail(models.StepConfirmingPurchase, KindConfirmationTimeout,
				fmt.Errorf("purchase %s not confirmed in time", txHash.Hex()))
		}
		return o.fail(models.StepConfirmingPurchase, KindRead, fmt.Errorf("failed waiting for confirmation: %w", err))
	}
	if !receipt.Success {
		return o.fail(models.StepConfirmingPurchase, KindSubmission,
			fmt.Errorf("purchase %s reverted on-chain", txHash.Hex()))
	}

	o.complete(*intent, receipt)
	return nil
}

// approve requests spending rights for the maximal representable amount so
// subsequent purchases skip the approval round-trip entirely.
func (o *Orchestrator) approve(ctx context.Context) error {
	o.setStep(models.StepApproving)

	txHash, err := o.gateway.Approve(ctx, new(big.Int).Set(math.MaxBig256))
	if err != nil {
		return o.fail(models.StepApproving, KindSubmission, fmt.Errorf("failed to submit approval: %w", err))
	}

	o.setStep(models.StepConfirmingApproval)

	receipt, err := o.waitConfirmed(ctx, txHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return o.fail(models.StepConfirmingApproval, KindConfirmationTimeout,
				fmt.Errorf("approval %s not confirmed in time", txHash.Hex()))
		}
		return o.fail(models.StepConfirmingApproval, KindRead, fmt.Errorf("failed waiting for approval: %w", err))
	}
	if !receipt.Success {
		return o.fail(models.StepConfirmingApproval, KindSubmission,
			fmt.Errorf("approval %s reverted on-chain", txHash.Hex()))
	}
	return nil
}

// submitOnce broadcasts the purchase exactly once per intent. Re-entry
// after a broadcast is an idempotent no-op returning the original hash.
func (o *Orchestrator) submitOnce(ctx context.Context, req *chain.PurchaseRequest) (common.Hash, error) {
	o.mu.Lock()
	if o.submitted {
		txHash := o.purchaseTx
		o.mu.Unlock()
		log.Debug().Str("tx_hash", txHash.Hex()).Msg("purchase already broadcast for this intent")
		return txHash, nil
	}
	o.mu.Unlock()

	txHash, err := o.gateway.Submit(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}

	o.mu.Lock()
	o.submitted = true
	o.purchaseTx = txHash
	o.mu.Unlock()
	return txHash, nil
}

func (o *Orchestrator) waitConfirmed(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()
	return o.gateway.WaitForConfirmation(waitCtx, txHash, 1)
}

func (o *Orchestrator) setStep(step models.TransactionStep) {
	o.mu.Lock()
	o.step = step
	o.mu.Unlock()
	o.emitStep(step)
}

func (o *Orchestrator) emitStep(step models.TransactionStep) {
	log.Debug().Str("step", string(step)).Msg("transaction step")
	if o.hooks.OnStep != nil {
		o.hooks.OnStep(step)
	}
}

// fail records a terminal error with the step that produced it.
func (o *Orchestrator) fail(step models.TransactionStep, kind ErrorKind, err error) error {
	stepErr := stepErr(step, kind, err)

	o.mu.Lock()
	o.step = models.StepError
	o.lastErr = stepErr
	o.mu.Unlock()

	log.Error().
		Err(err).
		Str("step", string(step)).
		Str("kind", string(kind)).
		Msg("purchase failed")

	o.emitStep(models.StepError)
	if o.hooks.OnError != nil {
		o.hooks.OnError(stepErr)
	}
	return stepErr
}

func (o *Orchestrator) complete(intent models.PurchaseIntent, receipt *chain.Receipt) {
	o.mu.Lock()
	o.step = models.StepCompleted
	o.mu.Unlock()

	log.Info().
		Str("intent_id", intent.ID.String()).
		Str("tx_hash", receipt.TxHash.Hex()).
		Uint64("block", receipt.BlockNumber).
		Msg("purchase confirmed")

	o.emitStep(models.StepCompleted)
	if o.hooks.OnCompleted != nil {
		o.hooks.OnCompleted(intent, receipt)
	}

	// Refresh dependent read state without blocking completion; a failed
	// refresh is reported but cannot undo a confirmed purchase.
	if o.refresh != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if err := o.refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("post-purchase refresh failed")
			}
		}()
	}
}
