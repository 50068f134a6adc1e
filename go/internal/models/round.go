package models

import (
	"math/big"
	"time"
)

// TimeSourceKind tags where a round end time came from. Priority is
// Contract > Backend > StaticFallback; the static fallback only exists to
// keep a countdown on screen when everything else is unreachable.
type TimeSourceKind string

const (
	SourceContract       TimeSourceKind = "CONTRACT"
	SourceBackend        TimeSourceKind = "BACKEND"
	SourceStaticFallback TimeSourceKind = "STATIC_FALLBACK"
)

// Authoritative reports whether a countdown derived from this source can be
// trusted for rollover decisions.
func (k TimeSourceKind) Authoritative() bool {
	return k == SourceContract || k == SourceBackend
}

// RoundTimeSource is one reading of the round end time. Replaced wholesale
// when a fresher reading arrives, never mutated in place.
type RoundTimeSource struct {
	Kind    TimeSourceKind
	End     time.Time
	Offset  time.Duration // serverTime - localTime, backend readings only
	ReadAt  time.Time
	RoundID *big.Int // nil when the source doesn't carry an id
}

// Valid reports whether this reading carries a usable end time.
func (s *RoundTimeSource) Valid() bool {
	return s != nil && !s.End.IsZero()
}

// Countdown is the display form of remaining time. Always derived from
// the selected end time, never stored authoritatively.
type Countdown struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// NewCountdown clamps a remaining duration at zero and splits it for
// display.
func NewCountdown(remaining time.Duration) Countdown {
	if remaining < 0 {
		remaining = 0
	}
	total := int(remaining / time.Second)
	return Countdown{
		Hours:   total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}

// Zero reports whether the countdown has reached zero.
func (c Countdown) Zero() bool {
	return c.Hours == 0 && c.Minutes == 0 && c.Seconds == 0
}

// RoundHoldings is the per-round cached read state shown to the UI:
// balances and ticket counts re-read after purchases and rollovers.
// Replaced as a whole snapshot to avoid torn reads.
type RoundHoldings struct {
	RoundID      *big.Int  `json:"round_id"`
	TokenBalance *big.Int  `json:"token_balance"`
	OwnedTickets *big.Int  `json:"owned_tickets"`
	PoolBalance  *big.Int  `json:"pool_balance"`
	Allowance    *big.Int  `json:"allowance"`
	RefreshedAt  time.Time `json:"refreshed_at"`
}
