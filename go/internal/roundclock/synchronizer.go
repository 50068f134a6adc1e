package roundclock

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/uruklabs/uruk-lottery/go/clients/status_client"
	"github.com/uruklabs/uruk-lottery/go/internal/models"
)

// ChainReader is the slice of the chain gateway the synchronizer needs.
type ChainReader interface {
	ReadActiveRoundID(ctx context.Context) (*big.Int, error)
	ReadRoundEndTime(ctx context.Context, roundID *big.Int) (time.Time, error)
}

// StatusFetcher is the backend time source.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (*status_client.Status, error)
}

// RefreshFunc re-reads round-dependent data (tickets, pool, balances)
// after a confirmed rollover.
type RefreshFunc func(ctx context.Context) error

// Hooks receive synchronizer outputs. All fields are optional.
type Hooks struct {
	OnTick         func(countdown models.Countdown, source models.TimeSourceKind)
	OnRoundStarted func(roundID *big.Int, end time.Time)
}

// Config holds the synchronizer cadences.
type Config struct {
	TickInterval           time.Duration
	SlowPollInterval       time.Duration
	FastPollInterval       time.Duration
	FastWindow             time.Duration
	RolloverRetryDelay     time.Duration
	MaxRolloverRetries     int
	StaticFallbackDuration time.Duration
	BackendTimeout         time.Duration
}

// DefaultConfig mirrors the cadence the web client used: 1s display ticks,
// a slow 30s backend poll that tightens to 2s in the final seconds before
// an expected rollover.
func DefaultConfig() Config {
	return Config{
		TickInterval:           time.Second,
		SlowPollInterval:       30 * time.Second,
		FastPollInterval:       2 * time.Second,
		FastWindow:             15 * time.Second,
		RolloverRetryDelay:     2 * time.Second,
		MaxRolloverRetries:     5,
		StaticFallbackDuration: 30 * time.Minute,
		BackendTimeout:         3 * time.Second,
	}
}

// Synchronizer reconciles local wall-clock time against the contract,
// the backend, and a static fallback to drive one authoritative countdown,
// and detects round rollover exactly once per actual transition.
type Synchronizer struct {
	chain   ChainReader
	backend StatusFetcher
	clock   clockwork.Clock
	coord   *Coordinator
	refresh RefreshFunc
	cfg     Config
	hooks   Hooks

	// Owned state; mutated only inside tick/rollover handling.
	contractSrc *models.RoundTimeSource
	backendSrc  *models.RoundTimeSource
	fallbackSrc *models.RoundTimeSource
	offset time.Duration

	// roundID is the last round id a rollover was processed for. Guarded
	// because RoundID is served to other goroutines.
	idMu    sync.Mutex
	roundID *big.Int

	lastBackendPoll   time.Time
	lastRolloverCheck time.Time
	rolloverRetries   int
}

// NewSynchronizer creates a synchronizer; Prime must run before Run.
func NewSynchronizer(chainReader ChainReader, backend StatusFetcher, clock clockwork.Clock, coord *Coordinator, refresh RefreshFunc, cfg Config, hooks Hooks) *Synchronizer {
	return &Synchronizer{
		chain:   chainReader,
		backend: backend,
		clock:   clock,
		coord:   coord,
		refresh: refresh,
		cfg:     cfg,
		hooks:   hooks,
	}
}

// RoundID returns the round identity of the last processed rollover.
func (s *Synchronizer) RoundID() *big.Int {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if s.roundID == nil {
		return nil
	}
	return new(big.Int).Set(s.roundID)
}

func (s *Synchronizer) setRoundID(roundID *big.Int) {
	s.idMu.Lock()
	s.roundID = roundID
	s.idMu.Unlock()
}

// Prime performs the initial source reads and arms the static fallback so
// the first tick already has something to count down from. Read failures
// are tolerated; the fallback covers them.
func (s *Synchronizer) Prime(ctx context.Context) {
	now := s.clock.Now()

	if roundID, err := s.chain.ReadActiveRoundID(ctx); err == nil {
		s.setRoundID(roundID)
		if end, err := s.chain.ReadRoundEndTime(ctx, roundID); err == nil {
			s.contractSrc = &models.RoundTimeSource{
				Kind:    models.SourceContract,
				End:     end,
				ReadAt:  now,
				RoundID: roundID,
			}
		} else {
			log.Warn().Err(err).Msg("initial round end read failed")
		}
	} else {
		log.Warn().Err(err).Msg("initial round id read failed")
	}

	s.pollBackend(ctx)
	s.armFallback()

	selected := s.selected()
	if selected != nil {
		log.Info().
			Str("source", string(selected.Kind)).
			Time("end", selected.End).
			Msg("countdown armed")
	}
}

// Run drives the 1-second tick loop until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().Dur("tick", s.cfg.TickInterval).Msg("round clock synchronizer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round clock synchronizer shutting down")
			return nil
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

// tick recomputes the countdown from the selected source and kicks off
// backend polling and rollover detection as needed.
func (s *Synchronizer) tick(ctx context.Context) {
	now := s.clock.Now()
	remaining := s.remaining(now)

	// Backend cadence: slow normally, fast only in the final seconds
	// before the expected rollover. Once the fast retry burst is spent
	// the cadence drops back to slow until something advances the round.
	interval := s.cfg.SlowPollInterval
	if remaining <= s.cfg.FastWindow && s.rolloverRetries < s.cfg.MaxRolloverRetries {
		interval = s.cfg.FastPollInterval
	}
	if s.lastBackendPoll.IsZero() || now.Sub(s.lastBackendPoll) >= interval {
		s.pollBackend(ctx)
		remaining = s.remaining(now)
	}

	selected := s.selected()
	if selected == nil {
		// Nothing at all to count from; arm the fallback and try again
		// next tick.
		s.armFallback()
		return
	}

	countdown := models.NewCountdown(remaining)
	if s.hooks.OnTick != nil {
		s.hooks.OnTick(countdown, selected.Kind)
	}

	if remaining <= 0 || s.pendingIdentityChange() {
		s.checkRollover(ctx)
	}
}

// pendingIdentityChange reports whether the backend already advertises a
// round id different from the last processed one, which happens when the
// backend advances before the local countdown reaches zero.
func (s *Synchronizer) pendingIdentityChange() bool {
	return s.backendSrc != nil && s.backendSrc.RoundID != nil &&
		s.roundID != nil && s.backendSrc.RoundID.Cmp(s.roundID) != 0
}

// remaining computes selected end minus offset-corrected local time.
func (s *Synchronizer) remaining(now time.Time) time.Duration {
	selected := s.selected()
	if selected == nil {
		return 0
	}
	return selected.End.Sub(now.Add(s.offset))
}

func (s *Synchronizer) selected() *models.RoundTimeSource {
	return SelectSource(s.contractSrc, s.backendSrc, s.fallbackSrc)
}

// pollBackend refreshes the backend reading and the clock offset. Backend
// failure is never an error to callers; the countdown degrades to the
// contract source or the static fallback.
func (s *Synchronizer) pollBackend(ctx context.Context) {
	s.lastBackendPoll = s.clock.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()

	status, err := s.backend.FetchStatus(fetchCtx)
	if err != nil {
		log.Debug().Err(err).Msg("backend status poll failed; keeping previous source")
		return
	}

	now := s.clock.Now()
	serverTime := time.Unix(status.ServerTime.Timestamp, 0)
	s.offset = serverTime.Sub(now).Truncate(time.Second)

	roundID, err := status.RoundInfo.RoundID()
	if err != nil {
		log.Debug().Err(err).Msg("backend round id unparsable; keeping previous source")
		return
	}

	// A fresh identity restores the rollover retry budget.
	if s.roundID != nil && roundID.Cmp(s.roundID) != 0 {
		s.rolloverRetries = 0
	}

	s.backendSrc = &models.RoundTimeSource{
		Kind:    models.SourceBackend,
		End:     status.RoundInfo.RoundEnd(),
		Offset:  s.offset,
		ReadAt:  now,
		RoundID: roundID,
	}
}

// armFallback re-arms the static estimate a fixed duration from now. It is
// deliberately non-authoritative; it only keeps the display alive.
func (s *Synchronizer) armFallback() {
	s.fallbackSrc = &models.RoundTimeSource{
		Kind:   models.SourceStaticFallback,
		End:    s.clock.Now().Add(s.cfg.StaticFallbackDuration),
		ReadAt: s.clock.Now(),
	}
}

// checkRollover runs the rollover-handling routine at most once at a time.
// The retry budget bounds the fast burst right after expiry; once spent,
// identity checks keep going at the slow poll cadence so a late upstream
// round change is still detected.
func (s *Synchronizer) checkRollover(ctx context.Context) {
	now := s.clock.Now()
	delay := s.cfg.RolloverRetryDelay
	if s.rolloverRetries >= s.cfg.MaxRolloverRetries {
		delay = s.cfg.SlowPollInterval
	}
	if !s.lastRolloverCheck.IsZero() && now.Sub(s.lastRolloverCheck) < delay {
		return
	}
	if !s.coord.TryAcquire() {
		return
	}
	defer s.coord.Release()

	s.lastRolloverCheck = now

	newRoundID, end, kind, ok := s.readRoundIdentity(ctx)
	if !ok {
		s.rolloverRetries++
		if s.selected() == nil || s.selected().Kind == models.SourceStaticFallback {
			s.armFallback()
		}
		return
	}

	if s.roundID != nil && s.roundID.Cmp(newRoundID) == 0 {
		// Upstream has not advanced yet; no notification, retry later.
		s.rolloverRetries++
		log.Debug().
			Str("round_id", newRoundID.String()).
			Int("retries", s.rolloverRetries).
			Msg("round unchanged after countdown expiry")
		return
	}

	s.handleRollover(ctx, newRoundID, end, kind)
}

// readRoundIdentity reads the active round from the highest-priority
// available source: contract first, backend second.
func (s *Synchronizer) readRoundIdentity(ctx context.Context) (*big.Int, time.Time, models.TimeSourceKind, bool) {
	if roundID, err := s.chain.ReadActiveRoundID(ctx); err == nil {
		end, err := s.chain.ReadRoundEndTime(ctx, roundID)
		if err != nil {
			log.Debug().Err(err).Msg("round end read failed during rollover check")
			return nil, time.Time{}, "", false
		}
		return roundID, end, models.SourceContract, true
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()
	status, err := s.backend.FetchStatus(fetchCtx)
	if err != nil {
		return nil, time.Time{}, "", false
	}
	roundID, err := status.RoundInfo.RoundID()
	if err != nil {
		return nil, time.Time{}, "", false
	}
	return roundID, status.RoundInfo.RoundEnd(), models.SourceBackend, true
}

// handleRollover processes a confirmed round transition exactly once:
// update the round identity, re-arm the countdown, refresh dependent data,
// and emit a single notification.
func (s *Synchronizer) handleRollover(ctx context.Context, newRoundID *big.Int, end time.Time, kind models.TimeSourceKind) {
	previous := "none"
	if s.roundID != nil {
		previous = s.roundID.String()
	}

	s.setRoundID(newRoundID)
	s.rolloverRetries = 0
	rearmed := &models.RoundTimeSource{
		Kind:    kind,
		End:     end,
		Offset:  s.offset,
		ReadAt:  s.clock.Now(),
		RoundID: newRoundID,
	}
	if kind == models.SourceContract {
		s.contractSrc = rearmed
	} else {
		// Chain was unreachable; the backend reading drives the countdown
		// and the stale contract reading is dropped.
		s.backendSrc = rearmed
		s.contractSrc = nil
	}
	s.armFallback()

	log.Info().
		Str("previous_round", previous).
		Str("round_id", newRoundID.String()).
		Time("end", end).
		Msg("new round started")

	if s.refresh != nil {
		if err := s.refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("rollover refresh failed")
		}
	}

	if s.hooks.OnRoundStarted != nil {
		s.hooks.OnRoundStarted(newRoundID, end)
	}
}
