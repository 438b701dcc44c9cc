// Package client implements the C3 client registry entry and C4 seen-object
// set, per spec.md §3's client entry data model.
package client

import (
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/hookid"
	"frameworks/customs/internal/policy"
)

// CacheState is one slot of the per-hook async decision cache (spec.md §3:
// "cached[H] ... each slot in {unchecked, granted, denied}").
type CacheState int

const (
	Unchecked CacheState = iota
	Granted
	Denied
)

// Pending is the in-flight async request context spec.md §3 describes:
// "exactly one at a time per client". Holding the original Request lets the
// portal arbiter re-invoke its Finish continuation on reply or timeout.
type Pending struct {
	Request host.Request
	Timer   host.TimerHandle
}

// Entry is the C3 client registry entry, owned by the broker and keyed by
// client index.
type Entry struct {
	ClientIndex int
	Policy      policy.Handle
	PID         uint32
	PIDKnown    bool

	Seen   *SeenSet
	cached [hookid.Count]CacheState

	Pending *Pending
}

// NewEntry constructs a client entry bound to the given policy and
// credentials, per spec.md §4.6's client-put handling.
func NewEntry(clientIndex int, p policy.Handle, creds host.Credentials) *Entry {
	return &Entry{
		ClientIndex: clientIndex,
		Policy:      p,
		PID:         creds.PID,
		PIDKnown:    creds.Valid,
		Seen:        NewSeenSet(),
	}
}

// Cache returns the cached disposition for hook h.
func (e *Entry) Cache(h int) CacheState {
	if h < 0 || h >= hookid.Count {
		return Unchecked
	}
	return e.cached[h]
}

// SetCache persists a portal arbitration result for hook h. Entries survive
// for the lifetime of the client entry (spec.md invariant 3).
func (e *Entry) SetCache(h int, state CacheState) {
	if h < 0 || h >= hookid.Count {
		return
	}
	e.cached[h] = state
}

// Rebind updates policy and pid in place on client-auth / proplist-changed,
// per spec.md §4.6 ("Update policy and pid in place").
func (e *Entry) Rebind(p policy.Handle, creds host.Credentials) {
	e.Policy = p
	e.PID = creds.PID
	e.PIDKnown = creds.Valid
}

// Teardown cancels any in-flight timer and clears the pending context,
// matching spec.md invariant 4/5: arrivals after this point must be
// dropped by the caller, never invoking Finish.
func (e *Entry) Teardown() {
	if e.Pending != nil && e.Pending.Timer != nil {
		e.Pending.Timer.Stop()
	}
	e.Pending = nil
}
