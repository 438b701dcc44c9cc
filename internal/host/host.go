// Package host declares the external collaborators the broker consumes as
// interfaces: the hook bus, the object registries, the main-loop timer
// abstraction, and client credentials. None of these are implemented here —
// they belong to the multimedia server embedding the broker — except for the
// in-memory fakes under hosttest, which exist solely so the rest of this
// module can be tested without a real host.
package host

import "time"

// Facility enumerates the kinds of objects the host's registries hold and
// the subscription-event system reports on.
type Facility int

const (
	FacilitySink Facility = iota
	FacilitySource
	FacilitySinkInput
	FacilitySourceOutput
	FacilityModule
	FacilityClient
	FacilitySampleCache
	FacilityServer
	FacilityCard
)

// EventType is the {NEW, CHANGE, REMOVE} carried alongside a facility code
// in a subscription event word.
type EventType int

const (
	EventNew EventType = iota
	EventChange
	EventRemove
	EventOther
)

// Credentials describes what the host knows about a client's originating
// process at the moment a hook fires.
type Credentials struct {
	Valid bool
	PID   uint32
}

// ObjectRef identifies a facility object the broker must resolve ownership
// or visibility against.
type ObjectRef struct {
	Facility Facility
	Index    uint32
}

// StreamOwner is what the host reports when the broker asks "who owns this
// sink-input / source-output". Present is false when the stream itself, or
// its client backreference, could not be resolved.
type StreamOwner struct {
	Present     bool
	ClientIndex uint32
}

// Registry resolves ownership of stream objects on behalf of the
// owner-check rule (spec §4.1). The broker never touches the host's sink or
// source-input tables directly.
type Registry interface {
	// SinkInputOwner returns the client that owns sink-input index idx.
	SinkInputOwner(idx uint32) StreamOwner
	// SourceOutputOwner returns the client that owns source-output index idx.
	SourceOutputOwner(idx uint32) StreamOwner
}

// AsyncFinish is the continuation a CANCEL-returning hook must invoke
// exactly once with the final allow/deny decision.
type AsyncFinish func(granted bool)

// Request is the access-control record the host hands the broker on every
// hook invocation. The broker never mutates it except to copy-and-override
// Hook when recursively checking visibility (spec §3).
type Request struct {
	ClientIndex int
	Hook        int
	ObjectIndex uint32
	Event       uint32
	Finish      AsyncFinish
}

// WithHook returns a copy of r with Hook replaced, used by the event filter
// to recurse into the decision engine on a derived get-info hook.
func (r Request) WithHook(hook int) Request {
	r.Hook = hook
	return r
}

// TimerHandle is a single armed (or disarmed) timer owned by exactly one
// caller at a time. Rearming must disarm any previous firing per
// glib12-mainloop.c's one-pending-timer-at-a-time discipline (see
// SPEC_FULL.md §3).
type TimerHandle interface {
	// Stop disarms the timer. Safe to call on an already-stopped timer.
	Stop()
}

// TimerFunc is invoked on the loop goroutine when a timer fires.
type TimerFunc func()

// Clock is the main-loop's timer abstraction. The broker never calls
// time.AfterFunc directly so that tests can substitute a fake clock.
type Clock interface {
	// AfterFunc arms fn to run after d, returning a handle that can cancel it.
	AfterFunc(d time.Duration, fn TimerFunc) TimerHandle
}

// HookBus is the host's hook dispatch bus. The broker registers one
// callback per access hook plus the four client lifecycle hooks (spec §6).
type HookBus interface {
	// ConnectHook registers fn at the given priority for hook id h. Returns a
	// slot id usable to disconnect during broker teardown.
	ConnectHook(h int, priority int, fn func(Request) Outcome) int
	// ConnectClientPut/Auth/ProplistChanged/Unlink register the four client
	// lifecycle callbacks the lifecycle binder (C8) reacts to.
	ConnectClientPut(fn func(clientIndex int, creds Credentials)) int
	ConnectClientAuth(fn func(clientIndex int, creds Credentials)) int
	ConnectClientProplistChanged(fn func(clientIndex int, creds Credentials)) int
	ConnectClientUnlink(fn func(clientIndex int)) int
	// Disconnect releases a previously connected slot.
	Disconnect(slot int)
}

// Outcome is the three-valued result a rule, the event filter, or the
// decision engine returns.
type Outcome int

const (
	// OK: operation permitted, proceed.
	OK Outcome = iota
	// STOP: operation refused.
	STOP
	// CANCEL: decision deferred; caller must await Request.Finish.
	CANCEL
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case STOP:
		return "stop"
	case CANCEL:
		return "cancel"
	default:
		return "unknown"
	}
}
