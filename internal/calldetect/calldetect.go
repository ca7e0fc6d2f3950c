// Package calldetect fires a room's end-of-call event exactly once, after the room has held
// zero participants continuously for its configured empty-room timeout (C7).
package calldetect

import (
	"sync"
	"time"
)

// Detector watches one room's participant count and schedules a single-shot end-of-call
// callback once the room has been empty for timeout.
type Detector struct {
	timeout time.Duration
	onEnd   func()

	mu      sync.Mutex
	timer   *time.Timer
	fired   bool
	stopped bool
}

// New constructs a Detector for one room. onEnd fires at most once: on the timer's goroutine
// after the timeout, or on the caller's goroutine when Force triggers it.
func New(timeout time.Duration, onEnd func()) *Detector {
	return &Detector{timeout: timeout, onEnd: onEnd}
}

// OnParticipantCount reports the room's current participant count. A transition to zero arms
// the timeout; any positive count cancels a pending timer.
func (d *Detector) OnParticipantCount(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.fired {
		return
	}

	if n > 0 {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		return
	}

	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.timeout, d.fire)
}

// Force fires the end-of-call callback immediately, as if the timeout had elapsed. Used for a
// forced finalize (e.g. an operator-initiated room close) bypassing the empty-room wait.
func (d *Detector) Force() {
	d.fire()
}

func (d *Detector) fire() {
	d.mu.Lock()
	if d.stopped || d.fired {
		d.mu.Unlock()
		return
	}
	d.fired = true
	d.mu.Unlock()

	d.onEnd()
}

// Stop cancels any pending timer and prevents further firing (used on worker shutdown, where
// finalize happens through a different path).
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
