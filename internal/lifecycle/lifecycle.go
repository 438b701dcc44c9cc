// Package lifecycle implements the C8 client lifecycle binder: reacting to
// client put/auth/proplist-changed/unlink to create, re-evaluate, and
// destroy registry entries, per spec.md §4.6.
package lifecycle

import (
	"frameworks/customs/internal/client"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/policy"
	"frameworks/customs/internal/sandbox"
	"frameworks/customs/pkg/logging"
)

// Binder wires the four client lifecycle hooks to the client registry.
type Binder struct {
	clients        *client.Registry
	defaultPolicy  policy.Handle
	portalPolicy   policy.Handle
	sandboxChecker *sandbox.Detector
	logger         logging.Logger
}

// New constructs a Binder. defaultPolicy and portalPolicy must already be
// registered in the broker's policy.Table.
func New(clients *client.Registry, defaultPolicy, portalPolicy policy.Handle, sandboxChecker *sandbox.Detector, logger logging.Logger) *Binder {
	return &Binder{
		clients:        clients,
		defaultPolicy:  defaultPolicy,
		portalPolicy:   portalPolicy,
		sandboxChecker: sandboxChecker,
		logger:         logger,
	}
}

// selectPolicy implements spec.md §4.9 exactly: if credentials are trusted
// and the sandbox detector reports confined -> portal policy; otherwise ->
// default policy. This is deliberately NOT the original's
// find_policy_for_client, whose sandbox branch is unreachable (spec.md §9
// "Open question — unreachable fall-through in policy selection": the bug
// is not replicated here).
func (b *Binder) selectPolicy(creds host.Credentials) policy.Handle {
	if creds.Valid && b.sandboxChecker.IsConfined(creds.PID) {
		return b.portalPolicy
	}
	return b.defaultPolicy
}

// OnClientPut implements spec.md §4.6's client-put handling: look up a
// policy, create a client entry with that policy and the client's current
// pid. Never dereferences credentials beyond the Valid flag (handled by
// selectPolicy / sandbox.Detector, which only reads PID when Valid is set).
func (b *Binder) OnClientPut(clientIndex int, creds host.Credentials) {
	p := b.selectPolicy(creds)
	entry := client.NewEntry(clientIndex, p, creds)
	b.clients.Put(entry)

	if b.logger != nil {
		b.logger.WithFields(logging.Fields{
			"client_index": clientIndex,
			"policy":       p.String(),
			"creds_valid":  creds.Valid,
		}).Debug("client entry created")
	}
}

// OnClientAuth implements spec.md §4.6's client-auth handling: re-select
// the policy (a newly trusted pid may flip sandboxed-ness), update policy
// and pid in place.
func (b *Binder) OnClientAuth(clientIndex int, creds host.Credentials) {
	b.rebind(clientIndex, creds, "client-auth")
}

// OnProplistChanged implements spec.md §4.6: identical handling to
// client-auth. Proplist content does not affect policy selection (spec.md
// §4.9); the binder never receives it, so it is not logged either.
func (b *Binder) OnProplistChanged(clientIndex int, creds host.Credentials) {
	b.rebind(clientIndex, creds, "client-proplist-changed")
}

func (b *Binder) rebind(clientIndex int, creds host.Credentials, reason string) {
	entry, ok := b.clients.Get(clientIndex)
	if !ok {
		// Defensive: the host should never fire auth/proplist-changed before
		// put, but if it does there is nothing to rebind.
		return
	}

	p := b.selectPolicy(creds)
	entry.Rebind(p, creds)

	if b.logger != nil {
		b.logger.WithFields(logging.Fields{
			"client_index": clientIndex,
			"policy":       p.String(),
			"reason":       reason,
		}).Debug("client entry rebound")
	}
}

// OnClientUnlink implements spec.md §4.6: remove the client entry, which
// triggers destruction of seen, cancellation of timer, and repudiation of
// pending (handled by client.Registry.Remove / Entry.Teardown).
func (b *Binder) OnClientUnlink(clientIndex int) {
	b.clients.Remove(clientIndex)

	if b.logger != nil {
		b.logger.WithFields(logging.Fields{"client_index": clientIndex}).Debug("client entry removed")
	}
}
