// Package policy implements the C2 policy table: a fixed H-slot rule vector
// identified by a stable, monotonically allocated handle, per spec.md §4.2.
package policy

import (
	"fmt"
	"sync"

	"frameworks/customs/internal/hookid"
	"frameworks/customs/internal/rule"
)

// Disposition is the default-fill rule a new policy's table starts with,
// before individual hook slots are overwritten.
type Disposition int

const (
	// AllowAll fills every slot with Allow.
	AllowAll Disposition = iota
	// DenyAll fills every slot with Deny.
	DenyAll
)

// Handle identifies a registered policy. Stable for the policy's lifetime;
// removal is by handle (spec.md §3).
type Handle uint64

// Policy is a flat H-slot array, entry i = rule selected for hook i. Fixed
// after construction (spec.md §3: "a policy's rule table is fixed after
// construction").
type Policy struct {
	table [hookid.Count]rule.Rule
}

// New builds a policy with every slot set to disposition's rule. Callers
// then overwrite individual slots with Set before registering it.
func New(disposition Disposition) *Policy {
	var fill rule.Rule
	switch disposition {
	case DenyAll:
		fill = rule.Rule{Kind: rule.Deny}
	default:
		fill = rule.Rule{Kind: rule.Allow}
	}
	p := &Policy{}
	for i := range p.table {
		p.table[i] = fill
	}
	return p
}

// Set overwrites the rule for hook h. Intended to be called only while
// constructing the policy, before it is registered in a Table.
func (p *Policy) Set(h hookid.Hook, r rule.Rule) {
	p.table[h] = r
}

// Rule returns the rule bound to hook h, or (Rule{}, false) if h is out of
// range — the engine treats this as a nil slot and returns STOP.
func (p *Policy) Rule(h int) (rule.Rule, bool) {
	if h < 0 || h >= hookid.Count {
		return rule.Rule{}, false
	}
	return p.table[h], true
}

// Table is the handle-allocating container policies are registered in.
type Table struct {
	mu       sync.RWMutex
	next     Handle
	policies map[Handle]*Policy
}

// NewTable returns an empty policy table.
func NewTable() *Table {
	return &Table{policies: make(map[Handle]*Policy)}
}

// Register assigns p a fresh, stable handle and returns it.
func (t *Table) Register(p *Policy) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.policies[h] = p
	return h
}

// Lookup dereferences a handle. ok is false for an unknown or removed
// handle (spec.md invariant 1 requires callers never hold such a handle,
// but lookups still report it rather than panicking).
func (t *Table) Lookup(h Handle) (*Policy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.policies[h]
	return p, ok
}

// Remove releases h. Removal is by handle per spec.md §3.
func (t *Table) Remove(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.policies, h)
}

// String renders a handle for diagnostic logging.
func (h Handle) String() string {
	return fmt.Sprintf("policy#%d", uint64(h))
}

// BuildDefault constructs the non-sandboxed built-in policy per spec.md
// §4.8: allow-listed get-info/stat hooks, owner-check on client and
// stream operations, PLAY_SAMPLE/CONNECT_PLAYBACK allowed outright,
// CONNECT_RECORD left at the table's default-deny fill, everything else deny.
func BuildDefault() *Policy {
	p := New(DenyAll)
	applyShared(p)
	p.Set(hookid.PlaySample, rule.Rule{Kind: rule.Allow})
	p.Set(hookid.ConnectPlayback, rule.Rule{Kind: rule.Allow})
	// ConnectRecord intentionally left at the DenyAll fill (spec.md §4.8:
	// "(undefined -> deny)").
	return p
}

// BuildPortal constructs the sandbox-aware built-in policy per spec.md
// §4.8: identical shared allow-list and owner-checks, but
// PLAY_SAMPLE/CONNECT_PLAYBACK/CONNECT_RECORD all escalate to the portal
// arbiter instead of being allowed or denied outright.
func BuildPortal() *Policy {
	p := New(DenyAll)
	applyShared(p)
	p.Set(hookid.PlaySample, rule.Rule{Kind: rule.PortalCheck})
	p.Set(hookid.ConnectPlayback, rule.Rule{Kind: rule.PortalCheck})
	p.Set(hookid.ConnectRecord, rule.Rule{Kind: rule.PortalCheck})
	return p
}

// applyShared sets the hooks spec.md §4.8 says both built-in policies hold
// in common: allow-listed get-info/stat hooks, and owner-check on client
// and stream operations.
func applyShared(p *Policy) {
	allowListed := []hookid.Hook{
		hookid.SinkGetInfo,
		hookid.SourceGetInfo,
		hookid.ServerGetInfo,
		hookid.ModuleGetInfo,
		hookid.CardGetInfo,
		hookid.Stat,
		hookid.SampleGetInfo,
	}
	for _, h := range allowListed {
		p.Set(h, rule.Rule{Kind: rule.Allow})
	}

	ownerChecked := []hookid.Hook{
		hookid.ClientGetInfo,
		hookid.ClientKill,
		hookid.SinkInputGetInfo,
		hookid.SinkInputMove,
		hookid.SinkInputSetVolume,
		hookid.SinkInputSetMute,
		hookid.SinkInputKill,
		hookid.SourceOutputGetInfo,
		hookid.SourceOutputMove,
		hookid.SourceOutputSetVolume,
		hookid.SourceOutputSetMute,
		hookid.SourceOutputKill,
	}
	for _, h := range ownerChecked {
		p.Set(h, rule.Rule{Kind: rule.OwnerCheck})
	}
}
