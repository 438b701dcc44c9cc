// Package hosttest provides in-memory fakes for internal/host's interfaces
// so the broker can be exercised without a real multimedia server.
package hosttest

import (
	"sync"
	"time"

	"frameworks/customs/internal/host"
)

// Registry is an in-memory host.Registry fake keyed by object index.
type Registry struct {
	mu            sync.Mutex
	sinkInputs    map[uint32]host.StreamOwner
	sourceOutputs map[uint32]host.StreamOwner
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sinkInputs:    make(map[uint32]host.StreamOwner),
		sourceOutputs: make(map[uint32]host.StreamOwner),
	}
}

// SetSinkInputOwner records that sink-input idx is owned by the given client.
func (r *Registry) SetSinkInputOwner(idx uint32, clientIndex uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinkInputs[idx] = host.StreamOwner{Present: true, ClientIndex: clientIndex}
}

// SetSourceOutputOwner records that source-output idx is owned by the given client.
func (r *Registry) SetSourceOutputOwner(idx uint32, clientIndex uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceOutputs[idx] = host.StreamOwner{Present: true, ClientIndex: clientIndex}
}

func (r *Registry) SinkInputOwner(idx uint32) host.StreamOwner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinkInputs[idx]
}

func (r *Registry) SourceOutputOwner(idx uint32) host.StreamOwner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sourceOutputs[idx]
}

// timer is the fake host.TimerHandle. It enforces the single-pending-timer
// discipline SPEC_FULL.md §3 documents: Stop after firing is a harmless
// no-op, and a timer cannot be stopped twice in a way that panics.
type timer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

func (t *timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.t.Stop()
}

// Clock is a real-time host.Clock fake; it uses actual wall-clock timers
// (suitable for short test durations) rather than a virtual clock, which
// keeps the fake trivial while still exercising the real rearm/cancel path.
type Clock struct{}

// NewClock returns a Clock backed by real timers.
func NewClock() *Clock { return &Clock{} }

func (c *Clock) AfterFunc(d time.Duration, fn host.TimerFunc) host.TimerHandle {
	h := &timer{}
	h.t = time.AfterFunc(d, fn)
	return h
}

// ManualClock is a virtual host.Clock for deterministic tests: timers only
// fire when Advance is called, never on their own.
type ManualClock struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	fire time.Duration
	fn   host.TimerFunc
	due  bool
	fired bool
	stopped bool
}

func (t *manualTimer) Stop() {
	t.stopped = true
}

// NewManualClock returns a Clock that never fires until Advance is called.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) AfterFunc(d time.Duration, fn host.TimerFunc) host.TimerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fire: d, fn: fn}
	c.pending = append(c.pending, t)
	return t
}

// Advance fires every pending, unstopped timer whose deadline is <= d,
// oldest-armed first. Intended for single-step "fire the one timer I just
// armed" test usage; it does not model a running wall clock.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	due := make([]*manualTimer, 0, len(c.pending))
	var remaining []*manualTimer
	for _, t := range c.pending {
		if !t.stopped && !t.fired && t.fire <= d {
			t.fired = true
			due = append(due, t)
		} else if !t.stopped && !t.fired {
			remaining = append(remaining, t)
		}
	}
	c.pending = remaining
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}
