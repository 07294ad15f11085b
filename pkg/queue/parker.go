package queue

import (
	"time"

	"github.com/jzx17/gosched/pkg/types"
)

// Parker blocks the calling goroutine until unparked. The wake token is
// latched in a one-slot channel: Unpark before Park is remembered, and
// repeated Unpark calls without an intervening Park coalesce.
type Parker struct {
	notify chan struct{}
	clock  types.Clock
}

// NewParker creates a parker using clock for bounded waits.
func NewParker(clock types.Clock) *Parker {
	if clock == nil {
		clock = types.NewRealClock()
	}
	return &Parker{
		notify: make(chan struct{}, 1),
		clock:  clock,
	}
}

// Park blocks until Unpark is called. A wake latched before Park returns
// immediately.
func (p *Parker) Park() {
	<-p.notify
}

// ParkTimeout blocks until Unpark or until d elapses. It reports whether
// the parker was woken (true) or timed out (false).
func (p *Parker) ParkTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-p.notify:
			return true
		default:
			return false
		}
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.notify:
		return true
	case <-timer.C():
		return false
	}
}

// Unpark wakes the parked goroutine, or latches the wake if none is parked.
// Safe to call from any goroutine and idempotent under repeated calls.
func (p *Parker) Unpark() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
