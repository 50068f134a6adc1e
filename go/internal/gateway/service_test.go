package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"github.com/uruklabs/uruk-lottery/go/internal/chain"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
	"github.com/uruklabs/uruk-lottery/go/internal/purchase"
	"github.com/uruklabs/uruk-lottery/go/internal/roundclock"
)

type fakeChainGateway struct {
	mu           sync.Mutex
	allowance    *big.Int
	blockConfirm chan struct{} // when non-nil, WaitForConfirmation blocks until closed
	submits      int
}

func (f *fakeChainGateway) ReadAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeChainGateway) ReadBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return big.NewInt(1000), nil
}

func (f *fakeChainGateway) ReadDecimals(ctx context.Context) (uint8, error) {
	return 18, nil
}

func (f *fakeChainGateway) ReadActiveRoundID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(3), nil
}

func (f *fakeChainGateway) ReadRoundEndTime(ctx context.Context, roundID *big.Int) (time.Time, error) {
	return time.Now().Add(time.Hour), nil
}

func (f *fakeChainGateway) ReadOwnedTickets(ctx context.Context, owner common.Address, roundID *big.Int) (*big.Int, error) {
	return big.NewInt(4), nil
}

func (f *fakeChainGateway) ReadPoolBalance(ctx context.Context, roundID *big.Int) (*big.Int, error) {
	return big.NewInt(250), nil
}

func (f *fakeChainGateway) Approve(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return common.HexToHash("0xaa"), nil
}

func (f *fakeChainGateway) SimulatePurchase(ctx context.Context, roundID *big.Int, quantity int64) (*chain.PurchaseRequest, error) {
	return &chain.PurchaseRequest{RoundID: roundID, Quantity: quantity, GasLimit: 100000}, nil
}

func (f *fakeChainGateway) Submit(ctx context.Context, req *chain.PurchaseRequest) (common.Hash, error) {
	f.mu.Lock()
	f.submits++
	f.mu.Unlock()
	return common.HexToHash("0xbb"), nil
}

func (f *fakeChainGateway) WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*chain.Receipt, error) {
	if f.blockConfirm != nil {
		select {
		case <-f.blockConfirm:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &chain.Receipt{TxHash: txHash, BlockNumber: 12, Success: true}, nil
}

func newTestService(fake *fakeChainGateway) (*Service, *purchase.Orchestrator) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	state := NewStateManager()
	coord := roundclock.NewCoordinator(clockwork.NewRealClock(), 0)
	refresher := NewRefresher(fake, coord, state, common.HexToAddress("0x01"), common.HexToAddress("0x02"), nil)

	var svc *Service
	orch := purchase.NewOrchestrator(fake, purchase.Config{
		Owner:         common.HexToAddress("0x01"),
		Spender:       common.HexToAddress("0x02"),
		TicketPrice:   big.NewInt(1),
		Decimals:      18,
		DecimalsKnown: true,
	}, refresher.Refresh, purchase.Hooks{
		OnStep:      func(step models.TransactionStep) { svc.PublishStep(step) },
		OnCompleted: func(intent models.PurchaseIntent, receipt *chain.Receipt) { svc.PublishCompleted(intent, receipt) },
		OnError:     func(stepErr *purchase.StepError) { svc.PublishFailed(stepErr) },
	})

	svc = NewService(cm, state, orch, refresher, nil)
	return svc, orch
}

func postBuy(t *testing.T, handler http.Handler, quantity string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(BuyRequest{Quantity: quantity})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/buy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestBuyEndpointCompletesPurchase(t *testing.T) {
	fake := &fakeChainGateway{allowance: big.NewInt(0).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))}
	svc, _ := newTestService(fake)
	handler := svc.Handler()

	rec := postBuy(t, handler, "2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp BuyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "completed" {
		t.Errorf("expected completed, got %q", resp.Status)
	}
	if resp.State.Step != string(models.StepCompleted) {
		t.Errorf("expected completed step in state, got %s", resp.State.Step)
	}
	if fake.submits != 1 {
		t.Errorf("expected exactly one submit, got %d", fake.submits)
	}
}

func TestBuyEndpointRejectsInvalidQuantity(t *testing.T) {
	fake := &fakeChainGateway{allowance: big.NewInt(0)}
	svc, orch := newTestService(fake)
	handler := svc.Handler()

	for _, quantity := range []string{"", "0", "abc", "-1"} {
		rec := postBuy(t, handler, quantity)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("quantity %q: expected 400, got %d", quantity, rec.Code)
		}
	}
	if got := orch.CurrentStep(); got != models.StepIdle {
		t.Errorf("validation failures must leave the machine idle, got %s", got)
	}
	if fake.submits != 0 {
		t.Errorf("no submit expected, got %d", fake.submits)
	}
}

func TestBuyEndpointConflictsWhileInFlight(t *testing.T) {
	fake := &fakeChainGateway{
		allowance:    big.NewInt(0).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		blockConfirm: make(chan struct{}),
	}
	svc, orch := newTestService(fake)
	handler := svc.Handler()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postBuy(t, handler, "1")
	}()

	// Wait for the first purchase to reach the blocked confirmation.
	deadline := time.Now().Add(2 * time.Second)
	for orch.CurrentStep() != models.StepConfirmingPurchase {
		if time.Now().After(deadline) {
			t.Fatal("first purchase never reached confirmation")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := postBuy(t, handler, "1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", rec.Code)
	}

	close(fake.blockConfirm)
	first := <-done
	if first.Code != http.StatusOK {
		t.Fatalf("first purchase should complete, got %d: %s", first.Code, first.Body.String())
	}
	if fake.submits != 1 {
		t.Errorf("expected exactly one submit, got %d", fake.submits)
	}
}

func TestStateEndpointReturnsSnapshot(t *testing.T) {
	fake := &fakeChainGateway{allowance: big.NewInt(0)}
	svc, _ := newTestService(fake)
	handler := svc.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap ClientState
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Step != string(models.StepIdle) {
		t.Errorf("expected idle, got %s", snap.Step)
	}
}
