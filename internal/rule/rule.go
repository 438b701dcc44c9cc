// Package rule implements the four built-in decision functions (allow,
// deny, owner-check, portal-check) as a small tagged variant, per spec.md
// §4.1 and the design note in §9 preferring a tagged variant over function
// pointers/closures because it serializes, tests, and logs trivially.
package rule

import (
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/hookid"
)

// Kind is the tag identifying which built-in decision function a Rule is.
type Kind int

const (
	Allow Kind = iota
	Deny
	OwnerCheck
	PortalCheck
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case OwnerCheck:
		return "owner-check"
	case PortalCheck:
		return "portal-check"
	default:
		return "unknown-rule"
	}
}

// Rule is the tagged-variant decision function of spec.md §4.1.
type Rule struct {
	Kind Kind
}

// Arbiter resolves portal-check rules, deferring the actual asynchronous
// protocol (C7) to whatever implements this interface. Evaluate takes only
// the request and an Arbiter, never a *client.Entry directly, so that
// package rule does not need to import internal/client (it would otherwise
// create an import cycle with client -> rule for the policy handle type).
type Arbiter interface {
	// PortalCheck runs the portal-check protocol for req and returns the
	// engine outcome (CANCEL when a request is issued, OK/STOP on cache hit,
	// STOP when no request can be issued).
	PortalCheck(req host.Request) host.Outcome
}

// Evaluate runs r against req, consulting registry for owner-check and
// arbiter for portal-check. registry and arbiter may be nil when the rule
// kind does not need them (tests exercising Allow/Deny in isolation).
func Evaluate(r Rule, req host.Request, registry host.Registry, arbiter Arbiter) host.Outcome {
	switch r.Kind {
	case Allow:
		return host.OK
	case Deny:
		return host.STOP
	case OwnerCheck:
		return evaluateOwnerCheck(req, registry)
	case PortalCheck:
		return arbiter.PortalCheck(req)
	default:
		return host.STOP
	}
}

// evaluateOwnerCheck implements spec.md §4.1's owner-check: OK iff the
// acting client equals the owning client of the target object.
func evaluateOwnerCheck(req host.Request, registry host.Registry) host.Outcome {
	switch hookid.CategoryOf(hookid.Hook(req.Hook)) {
	case hookid.CategoryClient:
		// The target object is a client; the owner is that client itself.
		if uint32(req.ClientIndex) == req.ObjectIndex {
			return host.OK
		}
		return host.STOP
	case hookid.CategorySinkInput:
		owner := registry.SinkInputOwner(req.ObjectIndex)
		if !owner.Present {
			return host.STOP
		}
		if owner.ClientIndex == uint32(req.ClientIndex) {
			return host.OK
		}
		return host.STOP
	case hookid.CategorySourceOutput:
		owner := registry.SourceOutputOwner(req.ObjectIndex)
		if !owner.Present {
			return host.STOP
		}
		if owner.ClientIndex == uint32(req.ClientIndex) {
			return host.OK
		}
		return host.STOP
	default:
		return host.STOP
	}
}
