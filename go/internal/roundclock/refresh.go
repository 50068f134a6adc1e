package roundclock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const defaultSettleDelay = 2 * time.Second

// Coordinator is the single-owner mutual-exclusion guard around refresh
// work: the rollover-handling routine and any purchase-triggered refresh
// acquire it so they never overlap destructively. It is a flag, not a
// semaphore; a busy guard means skip, not queue.
type Coordinator struct {
	clock  clockwork.Clock
	settle time.Duration

	mu   sync.Mutex
	busy bool
}

// NewCoordinator creates a released coordinator. The settle delay keeps the
// guard held briefly after release to absorb backend eventual-consistency
// lag.
func NewCoordinator(clock clockwork.Clock, settle time.Duration) *Coordinator {
	if settle < 0 {
		settle = defaultSettleDelay
	}
	return &Coordinator{clock: clock, settle: settle}
}

// TryAcquire takes the guard if it is free. Never blocks.
func (c *Coordinator) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

// Release frees the guard after the settle delay. It must run on success
// and failure paths alike; callers pair it with TryAcquire via defer.
func (c *Coordinator) Release() {
	if c.settle == 0 {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		return
	}

	go func() {
		<-c.clock.After(c.settle)
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		log.Debug().Dur("settle", c.settle).Msg("refresh guard released")
	}()
}

// Busy reports whether the guard is currently held.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}
