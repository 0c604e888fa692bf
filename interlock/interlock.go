// Package interlock holds the rain-safety state machine. It consumes
// debounced rain readings and decides when the cover must close, when it
// may reopen, and when operators must be notified. It never touches the
// hardware itself; the poll loop executes its decisions.
package interlock

import (
	"sync"

	"go.uber.org/zap"
)

// Config for the rain interlock.
type Config struct {
	// WetThreshold is how many consecutive wet readings it takes to
	// latch rain; DryThreshold how many dry readings to clear it.
	WetThreshold int
	DryThreshold int

	// AutoReopen reopens the cover once rain clears, but only when the
	// interlock itself closed it.
	AutoReopen bool
}

// DefaultConfig returns the thresholds used in the field.
func DefaultConfig() Config {
	return Config{
		WetThreshold: 2,
		DryThreshold: 2,
		AutoReopen:   true,
	}
}

// Decision is what the caller must do after feeding in a reading. Zero
// value means no action.
type Decision struct {
	Close      bool // drive the cover closed
	Open       bool // drive the cover open
	NotifyRain bool // rain newly latched, alert operators
}

// Interlock tracks the debounced rain state and the cover position.
type Interlock struct {
	cfg Config
	log *zap.SugaredLogger

	mu           sync.Mutex
	wetStreak    int
	dryStreak    int
	raining      bool
	coverClosed  bool
	closedByRain bool
	faultLatched bool
}

// New creates an interlock. The cover is assumed open until reported
// otherwise.
func New(cfg Config, log *zap.SugaredLogger) *Interlock {
	if cfg.WetThreshold < 1 {
		cfg.WetThreshold = 1
	}
	if cfg.DryThreshold < 1 {
		cfg.DryThreshold = 1
	}
	return &Interlock{cfg: cfg, log: log}
}

// Startup seeds the state from the first reading after boot. A wet boot
// closes immediately, no debounce: the enclosure may have been open
// through a power cut.
func (i *Interlock) Startup(raining bool) Decision {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.raining = raining
	if !raining {
		return Decision{}
	}
	i.wetStreak = i.cfg.WetThreshold
	i.log.Warnw("rain detected at startup, closing cover")
	if i.coverClosed {
		return Decision{NotifyRain: true}
	}
	return Decision{Close: true, NotifyRain: true}
}

// Observe feeds one rain reading through the debounce and returns what
// the caller must do.
func (i *Interlock) Observe(raining bool) Decision {
	i.mu.Lock()
	defer i.mu.Unlock()

	var d Decision
	if raining {
		i.dryStreak = 0
		i.wetStreak++
		if i.wetStreak >= i.cfg.WetThreshold && !i.raining {
			i.raining = true
			d.NotifyRain = true
			if !i.coverClosed {
				d.Close = true
			}
			i.log.Warnw("rain latched", "wet_readings", i.wetStreak)
		}
		return d
	}

	i.wetStreak = 0
	i.dryStreak++
	if i.dryStreak >= i.cfg.DryThreshold && i.raining {
		i.raining = false
		i.log.Infow("rain cleared", "dry_readings", i.dryStreak)
		if i.cfg.AutoReopen && i.coverClosed && i.closedByRain {
			d.Open = true
		}
	}
	return d
}

// CoverClosed records that the cover reached the closed position. byRain
// marks interlock-driven closes; operator closes never auto-reopen.
func (i *Interlock) CoverClosed(byRain bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.coverClosed = true
	i.closedByRain = byRain
}

// CoverOpened records that the cover reached the open position.
func (i *Interlock) CoverOpened() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.coverClosed = false
	i.closedByRain = false
}

// Raining returns the debounced rain state.
func (i *Interlock) Raining() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.raining
}

// IsCoverClosed returns the last reported cover position.
func (i *Interlock) IsCoverClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.coverClosed
}

// AllowOpen reports whether an open command may run right now. Rain
// blocks all opens, manual ones included.
func (i *Interlock) AllowOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.raining
}

// MotorDown records that the motor controller went unreachable. It
// returns true exactly once per outage: with no rain sensor the cover
// cannot be protected, and operators must know.
func (i *Interlock) MotorDown() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.faultLatched {
		return false
	}
	i.faultLatched = true
	i.log.Errorw("motor controller unreachable, rain protection lost")
	return true
}

// MotorUp clears the outage latch once the motor controller is back.
func (i *Interlock) MotorUp() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faultLatched = false
}
