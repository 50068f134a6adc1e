package gateway

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/uruklabs/uruk-lottery/go/internal/chain"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
	"github.com/uruklabs/uruk-lottery/go/internal/roundclock"
)

// Refresher re-reads the round-dependent holdings (token balance, owned
// tickets, pool size, allowance) and pushes the resulting snapshot to
// connected clients. Concurrent refresh triggers are collapsed by the
// shared coordinator: whoever holds it refreshes, everyone else skips.
type Refresher struct {
	chain   chain.Gateway
	coord   *roundclock.Coordinator
	state   *StateManager
	owner   common.Address
	spender common.Address

	// roundID supplies the current round identity; nil means read it
	// from the chain.
	roundID func() *big.Int

	// publish pushes the refreshed snapshot to clients. Optional.
	publish func(*LotteryEvent)
}

// NewRefresher wires a refresher over the chain gateway and the shared
// refresh coordinator.
func NewRefresher(chainGateway chain.Gateway, coord *roundclock.Coordinator, state *StateManager, owner, spender common.Address, roundID func() *big.Int) *Refresher {
	return &Refresher{
		chain:   chainGateway,
		coord:   coord,
		state:   state,
		owner:   owner,
		spender: spender,
		roundID: roundID,
	}
}

// SetPublish registers the snapshot broadcast callback.
func (r *Refresher) SetPublish(publish func(*LotteryEvent)) {
	r.publish = publish
}

// SetRoundProvider registers the round identity source. Without one the
// refresher reads the round id from the chain on every refresh.
func (r *Refresher) SetRoundProvider(roundID func() *big.Int) {
	r.roundID = roundID
}

// Refresh runs one guarded refresh. If another refresh already holds the
// coordinator the call is a no-op; the holder's snapshot covers it.
func (r *Refresher) Refresh(ctx context.Context) error {
	if !r.coord.TryAcquire() {
		log.Debug().Msg("refresh already in progress, skipping")
		return nil
	}
	defer r.coord.Release()
	return r.Reload(ctx)
}

// Reload re-reads holdings without touching the coordinator. Callers
// that already hold the coordinator (rollover handling) use this form.
func (r *Refresher) Reload(ctx context.Context) error {
	roundID := r.currentRound(ctx)
	if roundID == nil {
		return fmt.Errorf("refresh holdings: no active round identity")
	}

	balance, err := r.chain.ReadBalance(ctx, r.owner)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	tickets, err := r.chain.ReadOwnedTickets(ctx, r.owner, roundID)
	if err != nil {
		return fmt.Errorf("read owned tickets: %w", err)
	}
	pool, err := r.chain.ReadPoolBalance(ctx, roundID)
	if err != nil {
		return fmt.Errorf("read pool balance: %w", err)
	}
	allowance, err := r.chain.ReadAllowance(ctx, r.owner, r.spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}

	holdings := &models.RoundHoldings{
		RoundID:      roundID,
		TokenBalance: balance,
		OwnedTickets: tickets,
		PoolBalance:  pool,
		Allowance:    allowance,
		RefreshedAt:  time.Now().UTC(),
	}
	r.state.SetHoldings(holdings)

	log.Info().
		Str("round_id", roundID.String()).
		Str("balance", balance.String()).
		Str("tickets", tickets.String()).
		Str("pool", pool.String()).
		Msg("holdings refreshed")

	if r.publish != nil {
		snapshot := r.state.Snapshot()
		if event, err := NewEvent(EventTypeStateSnapshot, snapshot); err == nil {
			r.publish(event)
		}
	}
	return nil
}

func (r *Refresher) currentRound(ctx context.Context) *big.Int {
	if r.roundID != nil {
		if id := r.roundID(); id != nil {
			return id
		}
	}
	id, err := r.chain.ReadActiveRoundID(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("active round read failed during refresh")
		return nil
	}
	return id
}
