// Package engine implements the C5 decision engine: the single
// Check(request) operation spec.md §4.3 describes, dispatching
// (client, hook) to the selected rule.
package engine

import (
	"frameworks/customs/internal/client"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/policy"
	"frameworks/customs/internal/rule"
	"frameworks/customs/pkg/logging"
)

// Engine is the C5 decision engine.
type Engine struct {
	Clients  *client.Registry
	Policies *policy.Table
	Registry host.Registry
	Arbiter  rule.Arbiter
	Logger   logging.Logger
}

// New constructs an Engine wired to the given collaborators. logger may be
// nil, in which case Check logs nothing.
func New(clients *client.Registry, policies *policy.Table, registry host.Registry, arbiter rule.Arbiter, logger logging.Logger) *Engine {
	return &Engine{Clients: clients, Policies: policies, Registry: registry, Arbiter: arbiter, Logger: logger}
}

// Check implements spec.md §4.3's algorithm exactly:
//  1. Look up the client entry. Missing client => STOP (fail closed).
//  2. Dereference the policy by the entry's handle.
//  3. Fetch rule = policy[request.hook]. Nil slot => STOP.
//  4. Invoke the rule; its return is the engine's return.
func (e *Engine) Check(req host.Request) host.Outcome {
	outcome := e.check(req)
	e.log(req, outcome)
	return outcome
}

func (e *Engine) check(req host.Request) host.Outcome {
	entry, ok := e.Clients.Get(req.ClientIndex)
	if !ok {
		return host.STOP
	}

	p, ok := e.Policies.Lookup(entry.Policy)
	if !ok {
		return host.STOP
	}

	r, ok := p.Rule(req.Hook)
	if !ok {
		return host.STOP
	}

	return rule.Evaluate(r, req, e.Registry, e.Arbiter)
}

// log emits the diagnostic line spec.md §7 requires for every decision:
// "(hook, object_index, client_index, outcome)". Allow is logged at Debug;
// STOP/CANCEL at Info, matching SPEC_FULL.md §1's "Debug (allow) or
// Info/Warn (deny / portal escalation)".
func (e *Engine) log(req host.Request, outcome host.Outcome) {
	if e.Logger == nil {
		return
	}
	entry := e.Logger.WithFields(logging.Fields{
		"hook":         req.Hook,
		"client_index": req.ClientIndex,
		"object_index": req.ObjectIndex,
		"outcome":      outcome.String(),
	})
	if outcome == host.OK {
		entry.Debug("access decision")
		return
	}
	entry.Info("access decision")
}
