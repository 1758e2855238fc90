package service

import (
	"sync"
	"time"
)

// Throttle runs fn at most once per interval. A trigger inside the window is
// deferred to the end of the window, so the last trigger is never lost.
type Throttle struct {
	interval time.Duration
	fn       func()
	now      func() time.Time

	mu      sync.Mutex
	last    time.Time
	pending *time.Timer
	stopped bool
}

// NewThrottle creates a throttle around fn
func NewThrottle(interval time.Duration, fn func()) *Throttle {
	return &Throttle{
		interval: interval,
		fn:       fn,
		now:      time.Now,
	}
}

// Trigger requests a run of fn
func (t *Throttle) Trigger() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := t.now()
	wait := t.interval - now.Sub(t.last)
	if t.interval <= 0 || wait <= 0 {
		t.last = now
		t.mu.Unlock()
		t.fn()
		return
	}
	if t.pending == nil {
		t.pending = time.AfterFunc(wait, t.fire)
	}
	t.mu.Unlock()
}

func (t *Throttle) fire() {
	t.mu.Lock()
	t.pending = nil
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.last = t.now()
	t.mu.Unlock()
	t.fn()
}

// Flush runs a pending trigger immediately
func (t *Throttle) Flush() {
	t.mu.Lock()
	if t.pending == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	t.pending.Stop()
	t.pending = nil
	t.last = t.now()
	t.mu.Unlock()
	t.fn()
}

// Stop drops any pending trigger and ignores later ones
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
