// Package broker wires C1-C9 together into the two module flavors spec.md
// §6 describes: a plain (non-sandboxed) broker and a sandbox-aware broker
// that additionally opens a portal transport. NewDefault/NewSandboxed and
// Close mirror PulseAudio's pa__init/pa__done: connecting hook callbacks at
// an elevated priority and releasing every client entry on teardown. The
// policy table is not emptied by Close.
package broker

import (
	"time"

	"frameworks/customs/internal/client"
	"frameworks/customs/internal/engine"
	"frameworks/customs/internal/eventfilter"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/hookid"
	"frameworks/customs/internal/lifecycle"
	"frameworks/customs/internal/policy"
	"frameworks/customs/internal/portal"
	"frameworks/customs/internal/sandbox"
	"frameworks/customs/pkg/logging"
)

// HookPriority is the elevated priority spec.md §6 requires the broker's
// hook callbacks to register at, ahead of the host's own default handling.
const HookPriority = 100

// Module is the running broker instance: the handle every collaborator
// (engine, lifecycle binder, portal arbiter) receives as an explicit
// context, per spec.md §9's "global state confined to a per-instance broker
// handle".
type Module struct {
	clients  *client.Registry
	policies *policy.Table
	engine   *engine.Engine
	filter   *eventfilter.Filter
	binder   *lifecycle.Binder

	bus     host.HookBus
	slots   []int
	loop    *host.Loop
	arb     *portal.Arbiter   // nil for the plain (non-sandboxed) flavor
	metrics DecisionObserver // nil until SetMetrics is called or cfg.Metrics is set
	closed  bool
}

// DecisionObserver is the subset of Metrics (and, for the sandbox flavor,
// of portal.Metrics) the broker needs to count every access-hook decision.
// Declaring it here rather than taking *Metrics directly lets NewSandboxed
// reuse the same cfg.Metrics value passed to the portal arbiter.
type DecisionObserver interface {
	ObserveDecision(hook int, outcome string)
}

// SetMetrics attaches a DecisionObserver so every subsequent access-hook
// decision is counted. Safe to call before or after Close; decisions are
// only reported for hook invocations that happen while it is set.
func (m *Module) SetMetrics(metrics DecisionObserver) {
	m.metrics = metrics
}

// NewDefault builds the plain, non-sandboxed broker flavor. No portal
// transport is opened. Both built-in policies are registered and the
// binder still binds confined clients to the portal policy, whose
// portal-check slots STOP through noPortal; CONNECT_RECORD is therefore
// refused for every client.
func NewDefault(bus host.HookBus, registry host.Registry, logger logging.Logger) *Module {
	clients := client.NewRegistry()
	policies := policy.NewTable()
	defaultHandle := policies.Register(policy.BuildDefault())
	portalHandle := policies.Register(policy.BuildPortal())

	eng := engine.New(clients, policies, registry, noPortal{}, logger)
	filter := eventfilter.New(eng)
	binder := lifecycle.New(clients, defaultHandle, portalHandle, sandbox.New(), logger)

	m := &Module{
		clients:  clients,
		policies: policies,
		engine:   eng,
		filter:   filter,
		binder:   binder,
		bus:      bus,
	}
	m.connect()
	return m
}

// noPortal is the rule.Arbiter used by the plain flavor: portal-check rules
// never appear in BuildDefault's table, but they do in BuildPortal's, which
// the plain flavor binds confined clients to. noPortal STOPs every such
// request, and keeps the interface non-nil so Evaluate never
// nil-dereferences.
type noPortal struct{}

func (noPortal) PortalCheck(req host.Request) host.Outcome { return host.STOP }

// SandboxedConfig configures NewSandboxed.
type SandboxedConfig struct {
	Transport     portal.Transport
	Clock         host.Clock
	PortalTimeout time.Duration // 0 defaults to portal.DefaultTimeout
	Logger        logging.Logger
	Metrics       portal.Metrics
}

// NewSandboxed builds the sandbox-aware broker flavor: confined clients'
// device-hook requests escalate to transport (spec.md §6: "the
// sandbox-aware one additionally opens a session-bus connection" — here a
// websocket+HTTP portal transport, see SPEC_FULL.md §2).
func NewSandboxed(bus host.HookBus, registry host.Registry, cfg SandboxedConfig) *Module {
	clients := client.NewRegistry()
	policies := policy.NewTable()
	defaultHandle := policies.Register(policy.BuildDefault())
	portalHandle := policies.Register(policy.BuildPortal())

	loop := host.NewLoop(256)
	go loop.Run()

	arb := portal.New(clients, cfg.Transport, cfg.Clock, loop, cfg.PortalTimeout, cfg.Logger, cfg.Metrics)
	go arb.ServeResponses()

	eng := engine.New(clients, policies, registry, arb, cfg.Logger)
	filter := eventfilter.New(eng)
	binder := lifecycle.New(clients, defaultHandle, portalHandle, sandbox.New(), cfg.Logger)

	m := &Module{
		clients:  clients,
		policies: policies,
		engine:   eng,
		filter:   filter,
		binder:   binder,
		bus:      bus,
		loop:     loop,
		arb:      arb,
	}
	if cfg.Metrics != nil {
		m.metrics = cfg.Metrics
	}
	m.connect()
	return m
}

// connect registers the H access-hook callbacks and the four client
// lifecycle callbacks, per spec.md §6.
func (m *Module) connect() {
	for h := 0; h < hookid.Count; h++ {
		h := h
		if hookid.Hook(h) == hookid.FilterSubscribeEvent {
			m.slots = append(m.slots, m.bus.ConnectHook(h, HookPriority, m.onSubscribeEvent))
			continue
		}
		m.slots = append(m.slots, m.bus.ConnectHook(h, HookPriority, m.checkAndObserve))
	}

	m.slots = append(m.slots,
		m.bus.ConnectClientPut(m.binder.OnClientPut),
		m.bus.ConnectClientAuth(m.binder.OnClientAuth),
		m.bus.ConnectClientProplistChanged(m.binder.OnProplistChanged),
		m.bus.ConnectClientUnlink(m.binder.OnClientUnlink),
	)
}

// checkAndObserve wraps engine.Check with the optional Metrics reporter, so
// the H ordinary access hooks feed customs_decisions_total without the
// engine itself taking a metrics dependency (see DESIGN.md).
func (m *Module) checkAndObserve(req host.Request) host.Outcome {
	outcome := m.engine.Check(req)
	if m.metrics != nil {
		m.metrics.ObserveDecision(req.Hook, outcome.String())
	}
	return outcome
}

// onSubscribeEvent routes FILTER_SUBSCRIBE_EVENT through the event filter
// (C6) instead of dispatching it as an ordinary policy-table rule, per
// spec.md §4.4: subscription events pass through this single hook.
func (m *Module) onSubscribeEvent(req host.Request) host.Outcome {
	entry, ok := m.clients.Get(req.ClientIndex)
	if !ok {
		return host.STOP
	}
	return m.filter.Check(req, entry.Seen)
}

// Close tears down every client entry, cancelling any in-flight
// arbitration. Registered policies stay in the policy table. Hook
// registrations are disconnected first so no new request can race the
// teardown.
func (m *Module) Close() {
	if m.closed {
		return
	}
	m.closed = true

	for _, slot := range m.slots {
		m.bus.Disconnect(slot)
	}

	var toRemove []int
	m.clients.Each(func(e *client.Entry) { toRemove = append(toRemove, e.ClientIndex) })
	for _, idx := range toRemove {
		m.clients.Remove(idx)
	}

	if m.loop != nil {
		m.loop.Close()
	}
}

// Check exposes the decision engine's Check operation directly, for
// callers (tests, or a host integration layer) that do not go through the
// HookBus abstraction.
func (m *Module) Check(req host.Request) host.Outcome {
	return m.engine.Check(req)
}

// Clients exposes the client registry for diagnostics and tests (e.g.
// asserting spec.md invariant 5 — every entry destroyed before Close
// returns).
func (m *Module) Clients() *client.Registry { return m.clients }

// Policies exposes the policy table for tests that need to bind a client
// entry directly to the portal policy without a real confined process for
// the sandbox detector to classify.
func (m *Module) Policies() *policy.Table { return m.policies }
