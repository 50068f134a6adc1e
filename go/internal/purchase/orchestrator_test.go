package purchase

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uruklabs/uruk-lottery/go/internal/chain"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
)

var (
	testOwner   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSpender = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeGateway scripts gateway responses and records every call.
type fakeGateway struct {
	mu sync.Mutex

	allowance    *big.Int
	allowanceErr error
	roundID      *big.Int
	roundIDErr   error
	simulateErr  error
	approveErr   error
	submitErr    error
	confirmErr   error
	receiptOK    bool

	// blockConfirm, when set, holds WaitForConfirmation until closed.
	blockConfirm chan struct{}

	calls          []string
	approveAmounts []*big.Int
	submitCount    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		allowance: big.NewInt(0),
		roundID:   big.NewInt(42),
		receiptOK: true,
	}
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeGateway) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeGateway) ReadAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	f.record("ReadAllowance")
	if f.allowanceErr != nil {
		return nil, f.allowanceErr
	}
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeGateway) ReadBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	f.record("ReadBalance")
	return big.NewInt(0), nil
}

func (f *fakeGateway) ReadDecimals(ctx context.Context) (uint8, error) {
	f.record("ReadDecimals")
	return 18, nil
}

func (f *fakeGateway) ReadActiveRoundID(ctx context.Context) (*big.Int, error) {
	f.record("ReadActiveRoundID")
	if f.roundIDErr != nil {
		return nil, f.roundIDErr
	}
	return new(big.Int).Set(f.roundID), nil
}

func (f *fakeGateway) ReadRoundEndTime(ctx context.Context, roundID *big.Int) (time.Time, error) {
	f.record("ReadRoundEndTime")
	return time.Now().Add(time.Hour), nil
}

func (f *fakeGateway) ReadOwnedTickets(ctx context.Context, owner common.Address, roundID *big.Int) (*big.Int, error) {
	f.record("ReadOwnedTickets")
	return big.NewInt(0), nil
}

func (f *fakeGateway) ReadPoolBalance(ctx context.Context, roundID *big.Int) (*big.Int, error) {
	f.record("ReadPoolBalance")
	return big.NewInt(0), nil
}

func (f *fakeGateway) Approve(ctx context.Context, amount *big.Int) (common.Hash, error) {
	f.record("Approve")
	f.mu.Lock()
	f.approveAmounts = append(f.approveAmounts, new(big.Int).Set(amount))
	f.mu.Unlock()
	if f.approveErr != nil {
		return common.Hash{}, f.approveErr
	}
	return common.HexToHash("0xaaaa"), nil
}

func (f *fakeGateway) SimulatePurchase(ctx context.Context, roundID *big.Int, quantity int64) (*chain.PurchaseRequest, error) {
	f.record("SimulatePurchase")
	if f.simulateErr != nil {
		return nil, f.simulateErr
	}
	return &chain.PurchaseRequest{
		RoundID:  new(big.Int).Set(roundID),
		Quantity: quantity,
		To:       testSpender,
		GasLimit: 100000,
	}, nil
}

func (f *fakeGateway) Submit(ctx context.Context, req *chain.PurchaseRequest) (common.Hash, error) {
	f.record("Submit")
	f.mu.Lock()
	f.submitCount++
	f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0xbbbb"), nil
}

func (f *fakeGateway) WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*chain.Receipt, error) {
	f.record("WaitForConfirmation")
	if f.blockConfirm != nil {
		select {
		case <-f.blockConfirm:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &chain.Receipt{TxHash: txHash, BlockNumber: 100, Success: f.receiptOK}, nil
}

// stepRecorder collects every step transition.
type stepRecorder struct {
	mu    sync.Mutex
	steps []models.TransactionStep
}

func (r *stepRecorder) hook() func(models.TransactionStep) {
	return func(step models.TransactionStep) {
		r.mu.Lock()
		r.steps = append(r.steps, step)
		r.mu.Unlock()
	}
}

func (r *stepRecorder) saw(step models.TransactionStep) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.steps {
		if s == step {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		Owner:         testOwner,
		Spender:       testSpender,
		TicketPrice:   big.NewInt(1),
		Decimals:      18,
		DecimalsKnown: true,
	}
}

func TestSubmitPurchaseRejectsInvalidQuantity(t *testing.T) {
	for _, raw := range []string{"", "0", "007x", "-3", "abc", "1.5"} {
		gw := newFakeGateway()
		orch := NewOrchestrator(gw, testConfig(), nil, Hooks{})

		err := orch.SubmitPurchase(context.Background(), raw)
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("quantity %q: expected ErrInvalidQuantity, got %v", raw, err)
		}
		if len(gw.calls) != 0 {
			t.Errorf("quantity %q: validation failure must not reach the chain, saw %v", raw, gw.calls)
		}
		if orch.CurrentStep() != models.StepIdle {
			t.Errorf("quantity %q: step should remain idle, got %s", raw, orch.CurrentStep())
		}
	}
}

func TestSubmitPurchaseRequiresConfiguredWallet(t *testing.T) {
	gw := newFakeGateway()
	cfg := testConfig()
	cfg.Owner = common.Address{}
	orch := NewOrchestrator(gw, cfg, nil, Hooks{})

	if err := orch.SubmitPurchase(context.Background(), "3"); !errors.Is(err, ErrWalletNotConfigured) {
		t.Fatalf("expected ErrWalletNotConfigured, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Errorf("no chain calls expected, saw %v", gw.calls)
	}
}

func TestPurchaseSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = AmountNeeded(10, big.NewInt(1), 18)

	rec := &stepRecorder{}
	orch := NewOrchestrator(gw, testConfig(), nil, Hooks{OnStep: rec.hook()})

	if err := orch.SubmitPurchase(context.Background(), "10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.saw(models.StepApproving) || rec.saw(models.StepConfirmingApproval) {
		t.Error("sufficient allowance must skip the approval steps")
	}
	if gw.called("Approve") {
		t.Error("Approve must not be called when allowance is sufficient")
	}
	if orch.CurrentStep() != models.StepCompleted {
		t.Errorf("expected completed, got %s", orch.CurrentStep())
	}
}

func TestPurchaseApprovesMaximalAmountWhenAllowanceShort(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = big.NewInt(0)

	rec := &stepRecorder{}
	orch := NewOrchestrator(gw, testConfig(), nil, Hooks{OnStep: rec.hook()})

	if err := orch.SubmitPurchase(context.Background(), "10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !rec.saw(models.StepApproving) || !rec.saw(models.StepConfirmingApproval) {
		t.Errorf("insufficient allowance must pass through approval, steps: %v", rec.steps)
	}
	if len(gw.approveAmounts) != 1 {
		t.Fatalf("expected exactly one approval, got %d", len(gw.approveAmounts))
	}
	// Approval is for the maximal representable amount, not the exact
	// purchase amount, so later purchases skip the extra transaction.
	if gw.approveAmounts[0].Cmp(math.MaxBig256) != 0 {
		t.Errorf("expected max uint256 approval, got %s", gw.approveAmounts[0])
	}
}

func TestPurchaseRejectsReentrantIntent(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = AmountNeeded(1, big.NewInt(1), 18)
	gw.blockConfirm = make(chan struct{})

	orch := NewOrchestrator(gw, testConfig(), nil, Hooks{})

	done := make(chan error, 1)
	go func() {
		done <- orch.SubmitPurchase(context.Background(), "1")
	}()

	// Wait until the first intent is parked in confirmation.
	deadline := time.After(2 * time.Second)
	for !gw.called("WaitForConfirmation") {
		select {
		case <-deadline:
			t.Fatal("first intent never reached confirmation")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := orch.SubmitPurchase(context.Background(), "2"); !errors.Is(err, ErrPurchaseInFlight) {
		t.Errorf("expected ErrPurchaseInFlight, got %v", err)
	}

	close(gw.blockConfirm)
	if err := <-done; err != nil {
		t.Fatalf("first intent failed: %v", err)
	}

	if gw.submitCount != 1 {
		t.Errorf("expected exactly one submission, got %d", gw.submitCount)
	}
}

func TestSimulationRevertSurfacesReason(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = AmountNeeded(5, big.NewInt(1), 18)
	gw.simulateErr = &chain.RevertError{Reason: "RoundClosed"}

	orch := NewOrchestrator(gw, testConfig(), nil, Hooks{})

	err := orch.SubmitPurchase(context.Background(), "5")
	if err == nil {
		t.Fatal("expected simulation error")
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %T", err)
	}
	if stepErr.Step != models.StepSimulatingPurchase {
		t.Errorf("expected step %s, got %s", models.StepSimulatingPurchase, stepErr.Step)
	}
	if stepErr.Kind != KindSimulation {
		t.Errorf("expected kind %s, got %s", KindSimulation, stepErr.Kind)
	}
	if !strings.Contains(stepErr.Message(), "RoundClosed") {
		t.Errorf("revert reason should surface verbatim, got %q", stepErr.Message())
	}
	if gw.called("Submit") {
		t.Error("a reverted simulation must never be submitted")
	}
}

func TestAllowanceReadFailureAbortsIntent(t *testing.T) {
	gw := newFakeGateway()
	gw.allowanceErr = errors.New("rpc timeout")

	orch := NewOrchestrator(gw, testConfig(), nil, Hooks{})

	err := orch.SubmitPurchase(context.Background(), "1")
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != models.StepCheckingAllowance || stepErr.Kind != KindRead {
		t.Errorf("expected read error at checkingAllowance, got %s/%s", stepErr.Kind, stepErr.Step)
	}
	if orch.CurrentStep() != models.StepError {
		t.Errorf("expected error step, got %s", orch.CurrentStep())
	}
}

func TestConfirmationTimeoutIsDistinctKind(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = AmountNeeded(1, big.NewInt(1), 18)
	gw.confirmErr = context.DeadlineExceeded

	orch := NewOrchestrator(gw, testConfig(), nil, Hooks{})

	err := orch.SubmitPurchase(context.Background(), "1")
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Kind != KindConfirmationTimeout {
		t.Errorf("expected kind %s, got %s", KindConfirmationTimeout, stepErr.Kind)
	}
}

func TestCompletionTriggersRefreshWithoutBlocking(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = AmountNeeded(1, big.NewInt(1), 18)

	refreshed := make(chan struct{}, 1)
	refresh := func(ctx context.Context) error {
		refreshed <- struct{}{}
		return errors.New("refresh backend down")
	}

	orch := NewOrchestrator(gw, testConfig(), refresh, Hooks{})

	if err := orch.SubmitPurchase(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was never triggered")
	}

	// A failing refresh is reported but cannot revert a completed purchase.
	if orch.CurrentStep() != models.StepCompleted {
		t.Errorf("expected completed, got %s", orch.CurrentStep())
	}
}

func TestCompletedHookCarriesOriginalIntent(t *testing.T) {
	gw := newFakeGateway()
	gw.allowance = AmountNeeded(7, big.NewInt(1), 18)
	gw.roundID = big.NewInt(9)

	var got models.PurchaseIntent
	hooks := Hooks{OnCompleted: func(intent models.PurchaseIntent, receipt *chain.Receipt) {
		got = intent
	}}

	orch := NewOrchestrator(gw, testConfig(), nil, hooks)
	if err := orch.SubmitPurchase(context.Background(), "007"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.TicketQuantity != 7 {
		t.Errorf("expected normalized quantity 7, got %d", got.TicketQuantity)
	}
	if got.RoundID.Cmp(big.NewInt(9)) != 0 {
		t.Errorf("expected round 9, got %s", got.RoundID)
	}
}
