// Package countdown drives the per-question answer timer on the local clock.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Tick reports the whole seconds left for the armed generation. Expired is
// set on exactly one tick per generation, the one with Remaining == 0.
type Tick struct {
	Generation int
	Remaining  int
	Expired    bool
}

// Countdown counts down from a server-declared duration. Remaining time is
// derived from a deadline on the clock, so late or coalesced ticks correct
// themselves instead of drifting.
type Countdown struct {
	clock clockwork.Clock
	ticks chan Tick

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns an idle countdown.
func New(clock clockwork.Clock) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{
		clock: clock,
		ticks: make(chan Tick, 1),
	}
}

// Ticks delivers ticks for the armed generation. Only the newest pending tick
// is kept when the reader falls behind.
func (c *Countdown) Ticks() <-chan Tick {
	return c.ticks
}

// Start arms the countdown for seconds under the given generation. Any
// previous run is torn down first.
func (c *Countdown) Start(seconds int, generation int) {
	c.Cancel()
	if seconds < 0 {
		seconds = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	deadline := c.clock.Now().Add(time.Duration(seconds) * time.Second)
	if seconds == 0 {
		close(c.done)
		c.stop = nil
		c.publish(Tick{Generation: generation, Expired: true})
		return
	}
	ticker := c.clock.NewTicker(time.Second)
	go c.run(ticker, deadline, generation, seconds, c.stop, c.done)
}

// Cancel tears down the running countdown, if any. No tick of the cancelled
// generation is published after Cancel returns.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	c.mu.Lock()
	c.drainLocked()
	c.mu.Unlock()
}

// Active reports whether a countdown is armed and not yet expired.
func (c *Countdown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Countdown) run(ticker clockwork.Ticker, deadline time.Time, generation, last int, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		remaining := secondsUntil(deadline, c.clock.Now())
		if remaining >= last {
			continue
		}
		last = remaining

		c.mu.Lock()
		if c.stop != stop {
			c.mu.Unlock()
			return
		}
		c.publish(Tick{Generation: generation, Remaining: remaining, Expired: remaining == 0})
		c.mu.Unlock()

		if remaining == 0 {
			return
		}
	}
}

// publish replaces any unread tick with t. Callers hold c.mu.
func (c *Countdown) publish(t Tick) {
	select {
	case c.ticks <- t:
	default:
		select {
		case <-c.ticks:
		default:
		}
		c.ticks <- t
	}
}

func (c *Countdown) drainLocked() {
	select {
	case <-c.ticks:
	default:
	}
}

func secondsUntil(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}
