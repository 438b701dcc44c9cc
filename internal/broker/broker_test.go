package broker

import (
	"context"
	"testing"

	"frameworks/customs/internal/eventfilter"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/host/hosttest"
	"frameworks/customs/internal/hookid"
	"frameworks/customs/internal/policy"
	"frameworks/customs/internal/portal"
)

func TestDefaultBrokerUnknownClientStops(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	m := NewDefault(bus, reg, nil)
	defer m.Close()

	req := host.Request{ClientIndex: 99, Hook: int(hookid.SinkGetInfo), ObjectIndex: 0}
	if got := bus.Fire(int(hookid.SinkGetInfo), req); got != host.STOP {
		t.Fatalf("unknown client: got %v, want STOP", got)
	}
}

func TestDefaultBrokerClientPutThenAllowListedHook(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	m := NewDefault(bus, reg, nil)
	defer m.Close()

	bus.FireClientPut(5, host.Credentials{Valid: true, PID: 1})

	req := host.Request{ClientIndex: 5, Hook: int(hookid.SinkGetInfo), ObjectIndex: 3}
	if got := bus.Fire(int(hookid.SinkGetInfo), req); got != host.OK {
		t.Fatalf("allow-listed hook after put: got %v, want OK", got)
	}
}

func TestDefaultBrokerOwnerCheckThroughHookBus(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	reg.SetSinkInputOwner(7, 5)
	m := NewDefault(bus, reg, nil)
	defer m.Close()

	bus.FireClientPut(5, host.Credentials{Valid: true, PID: 1})
	bus.FireClientPut(6, host.Credentials{Valid: true, PID: 2})

	pass := host.Request{ClientIndex: 5, Hook: int(hookid.SinkInputKill), ObjectIndex: 7}
	if got := bus.Fire(int(hookid.SinkInputKill), pass); got != host.OK {
		t.Fatalf("owning client: got %v, want OK", got)
	}

	fail := host.Request{ClientIndex: 6, Hook: int(hookid.SinkInputKill), ObjectIndex: 7}
	if got := bus.Fire(int(hookid.SinkInputKill), fail); got != host.STOP {
		t.Fatalf("non-owning client: got %v, want STOP", got)
	}
}

func TestDefaultBrokerSubscribeEventFirstSightAndChange(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	m := NewDefault(bus, reg, nil)
	defer m.Close()

	bus.FireClientPut(5, host.Credentials{Valid: true, PID: 1})

	newReq := host.Request{ClientIndex: 5, Event: eventfilter.Encode(host.FacilitySink, host.EventNew), ObjectIndex: 2}
	if got := bus.Fire(int(hookid.FilterSubscribeEvent), newReq); got != host.OK {
		t.Fatalf("first sight NEW: got %v, want OK", got)
	}

	changeReq := host.Request{ClientIndex: 5, Event: eventfilter.Encode(host.FacilitySink, host.EventChange), ObjectIndex: 2}
	if got := bus.Fire(int(hookid.FilterSubscribeEvent), changeReq); got != host.OK {
		t.Fatalf("subsequent CHANGE: got %v, want OK", got)
	}
}

func TestDefaultBrokerUnlinkRemovesEntry(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	m := NewDefault(bus, reg, nil)
	defer m.Close()

	bus.FireClientPut(5, host.Credentials{Valid: true, PID: 1})
	if m.Clients().Len() != 1 {
		t.Fatal("expected one client entry after put")
	}

	bus.FireClientUnlink(5)
	if m.Clients().Len() != 0 {
		t.Fatal("expected entry to be gone after unlink")
	}
}

func TestCloseTearsDownAllEntries(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	m := NewDefault(bus, reg, nil)

	bus.FireClientPut(5, host.Credentials{Valid: true, PID: 1})
	bus.FireClientPut(6, host.Credentials{Valid: true, PID: 2})

	m.Close()
	if m.Clients().Len() != 0 {
		t.Fatal("expected Close to tear down every client entry (invariant 5)")
	}
}

// stubTransport is a portal.Transport fake that hands back a fixed request
// id on every AccessDevice call and lets the test deliver a Response signal
// on demand.
type stubTransport struct {
	id        string
	responses chan portal.Response
}

func newStubTransport(id string) *stubTransport {
	return &stubTransport{id: id, responses: make(chan portal.Response, 8)}
}

func (s *stubTransport) AccessDevice(ctx context.Context, pid uint32, devices []portal.DeviceTag) (string, error) {
	return s.id, nil
}

func (s *stubTransport) Responses() <-chan portal.Response {
	return s.responses
}

func (s *stubTransport) respond(requestID string, granted bool) {
	s.responses <- portal.Response{RequestID: requestID, Granted: granted}
}

// TestSandboxedBrokerConnectPlaybackCancelsThenGrants exercises spec.md
// §4.5/§8 scenario 6 end to end through the sandboxed broker: a client
// bound to the portal policy gets CANCEL on first CONNECT_PLAYBACK, the
// transport's Response signal resolves it to granted, and a second request
// for the same hook is now served synchronously from the cache.
func TestSandboxedBrokerConnectPlaybackCancelsThenGrants(t *testing.T) {
	bus := hosttest.NewHookBus()
	reg := hosttest.NewRegistry()
	transport := newStubTransport("req-1")
	clock := hosttest.NewClock()

	m := NewSandboxed(bus, reg, SandboxedConfig{
		Transport: transport,
		Clock:     clock,
	})
	defer m.Close()

	bus.FireClientPut(5, host.Credentials{Valid: false})

	// The sandbox detector only ever reports confined for trusted pids, and
	// this test has no real /proc cgroup fixture to classify — rebind the
	// entry straight onto the registered portal policy instead, matching
	// spec.md's intended "sandboxed => portal policy" outcome directly.
	entry, ok := m.Clients().Get(5)
	if !ok {
		t.Fatal("expected client entry after put")
	}
	entry.Policy = m.Policies().Register(policy.BuildPortal())

	var finished bool
	var granted bool
	req := host.Request{
		ClientIndex: 5,
		Hook:        int(hookid.ConnectPlayback),
		Finish:      func(g bool) { finished = true; granted = g },
	}

	if got := m.engine.Check(req); got != host.CANCEL {
		t.Fatalf("first CONNECT_PLAYBACK: got %v, want CANCEL", got)
	}

	transport.respond("req-1", true)
	waitForLoop(m)

	if !finished || !granted {
		t.Fatalf("expected Finish(true) after Response(granted), got finished=%v granted=%v", finished, granted)
	}

	if got := m.engine.Check(req); got != host.OK {
		t.Fatalf("second CONNECT_PLAYBACK (cached): got %v, want OK", got)
	}
}

func waitForLoop(m *Module) {
	if m.loop != nil {
		m.loop.Call(func() {})
	}
}
