package client

import "sync"

// Registry is the broker's map of live client entries, keyed by client
// index. Unlike policy.Table, entries are not handle-allocated — spec.md
// keys the client entry by client index directly, since client indices are
// the host's own stable identifiers.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]*Entry
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]*Entry)}
}

// Put inserts or replaces the entry for e.ClientIndex (client-put, spec.md §4.6).
func (r *Registry) Put(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ClientIndex] = e
}

// Get looks up the entry for clientIndex. ok is false for an unknown client
// — the decision engine must treat that as STOP (spec.md §4.3 step 1).
func (r *Registry) Get(clientIndex int) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[clientIndex]
	return e, ok
}

// Remove tears down and deletes the entry for clientIndex (client-unlink,
// spec.md §4.6). No-op if the client is already gone.
func (r *Registry) Remove(clientIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[clientIndex]
	if !ok {
		return
	}
	e.Teardown()
	delete(r.entries, clientIndex)
}

// Len reports the number of live client entries, exposed for diagnostics
// and tests (spec.md invariant 5's "all entries... destroyed before broker
// teardown completes" is checked via this in tests).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Each iterates every live entry. Used only by broker teardown; fn must not
// call back into Registry methods that take the write lock.
func (r *Registry) Each(fn func(*Entry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		fn(e)
	}
}
