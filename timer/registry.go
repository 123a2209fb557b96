// Package timer keeps one bonus-time countdown per device.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Expiry identifies the countdown that fired. The callback hands it back to
// Expire, which only succeeds if no newer countdown replaced it meanwhile.
type Expiry struct {
	DeviceID   int
	Generation uint64
}

type entry struct {
	expiresAt  time.Time
	generation uint64
	timer      clockwork.Timer
}

type Registry struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[int]*entry
	nextGen uint64
}

func NewRegistry(clk clockwork.Clock) *Registry {
	return &Registry{clock: clk, entries: make(map[int]*entry)}
}

// Start arms a countdown for deviceID, replacing any existing one. onExpire
// runs when it elapses, unless it was cancelled or replaced first.
func (r *Registry) Start(deviceID int, d time.Duration, onExpire func(Expiry)) time.Time {
	r.mu.Lock()
	if old, ok := r.entries[deviceID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	r.nextGen++
	e := &entry{
		expiresAt:  r.clock.Now().Add(d),
		generation: r.nextGen,
	}
	r.entries[deviceID] = e
	r.mu.Unlock()

	exp := Expiry{DeviceID: deviceID, Generation: e.generation}
	t := r.clock.AfterFunc(d, func() {
		if !r.current(exp) {
			return
		}
		onExpire(exp)
	})

	r.mu.Lock()
	e.timer = t
	r.mu.Unlock()

	return e.expiresAt
}

// Expire removes the entry that produced exp. It reports false when the
// countdown was cancelled or replaced after it fired.
func (r *Registry) Expire(exp Expiry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[exp.DeviceID]
	if !ok || e.generation != exp.Generation {
		return false
	}
	delete(r.entries, exp.DeviceID)
	return true
}

// Cancel stops the countdown for deviceID and reports whether one existed.
func (r *Registry) Cancel(deviceID int) bool {
	r.mu.Lock()
	e, ok := r.entries[deviceID]
	delete(r.entries, deviceID)
	var t clockwork.Timer
	if ok {
		t = e.timer
	}
	r.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	return ok
}

// Remaining returns the time left on deviceID's countdown.
func (r *Registry) Remaining(deviceID int) (time.Duration, bool) {
	r.mu.Lock()
	e, ok := r.entries[deviceID]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}

	left := e.expiresAt.Sub(r.clock.Now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// All returns the time left on every running countdown, keyed by device.
func (r *Registry) All() map[int]time.Duration {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]time.Duration, len(r.entries))
	for id, e := range r.entries {
		left := e.expiresAt.Sub(now)
		if left < 0 {
			left = 0
		}
		out[id] = left
	}
	return out
}

// CancelAll stops every countdown. Used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	timers := make([]clockwork.Timer, 0, len(r.entries))
	for _, e := range r.entries {
		if e.timer != nil {
			timers = append(timers, e.timer)
		}
	}
	r.entries = make(map[int]*entry)
	r.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (r *Registry) current(exp Expiry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[exp.DeviceID]
	return ok && e.generation == exp.Generation
}
