package portal

import (
	"context"
	"testing"
	"time"

	"frameworks/customs/internal/client"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/host/hosttest"
	"frameworks/customs/internal/hookid"
)

type fakeTransport struct {
	nextID    string
	sendErr   error
	responses chan Response
	requested []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(chan Response, 8)}
}

func (f *fakeTransport) AccessDevice(ctx context.Context, pid uint32, devices []DeviceTag) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.requested = append(f.requested, f.nextID)
	return f.nextID, nil
}

func (f *fakeTransport) Responses() <-chan Response {
	return f.responses
}

func newTestArbiter(t *testing.T, transport Transport, clock host.Clock) (*Arbiter, *client.Registry, *host.Loop) {
	t.Helper()
	clients := client.NewRegistry()
	loop := host.NewLoop(8)
	go loop.Run()
	t.Cleanup(loop.Close)
	a := New(clients, transport, clock, loop, 50*time.Millisecond, nil, nil)
	go a.ServeResponses()
	return a, clients, loop
}

func TestDeviceTagsForHook(t *testing.T) {
	cases := []struct {
		hook hookid.Hook
		want []DeviceTag
	}{
		{hookid.ConnectRecord, []DeviceTag{Microphone}},
		{hookid.ConnectPlayback, []DeviceTag{Speakers}},
		{hookid.PlaySample, []DeviceTag{Speakers}},
		{hookid.Stat, nil},
	}
	for _, c := range cases {
		got := DeviceTagsForHook(int(c.hook))
		if len(got) != len(c.want) {
			t.Errorf("hook %s: got %v, want %v", c.hook, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("hook %s: got %v, want %v", c.hook, got, c.want)
			}
		}
	}
}

func TestPortalCheckCacheHitGranted(t *testing.T) {
	a, clients, _ := newTestArbiter(t, newFakeTransport(), hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	e.SetCache(int(hookid.ConnectPlayback), client.Granted)
	clients.Put(e)

	req := host.Request{ClientIndex: 5, Hook: int(hookid.ConnectPlayback)}
	if got := a.PortalCheck(req); got != host.OK {
		t.Fatalf("cache hit granted: got %v, want OK", got)
	}
}

func TestPortalCheckCacheHitDenied(t *testing.T) {
	a, clients, _ := newTestArbiter(t, newFakeTransport(), hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	e.SetCache(int(hookid.ConnectPlayback), client.Denied)
	clients.Put(e)

	req := host.Request{ClientIndex: 5, Hook: int(hookid.ConnectPlayback)}
	if got := a.PortalCheck(req); got != host.STOP {
		t.Fatalf("cache hit denied: got %v, want STOP", got)
	}
}

func TestPortalCheckMissIssuesCallAndCancels(t *testing.T) {
	transport := newFakeTransport()
	transport.nextID = "req-1"
	a, clients, _ := newTestArbiter(t, transport, hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	clients.Put(e)

	req := host.Request{ClientIndex: 5, Hook: int(hookid.ConnectPlayback)}
	if got := a.PortalCheck(req); got != host.CANCEL {
		t.Fatalf("cache miss: got %v, want CANCEL", got)
	}
	if e.Pending == nil {
		t.Fatal("expected pending context to be set")
	}
}

func TestPortalCheckOverlapStops(t *testing.T) {
	transport := newFakeTransport()
	transport.nextID = "req-1"
	a, clients, _ := newTestArbiter(t, transport, hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	clients.Put(e)

	req := host.Request{ClientIndex: 5, Hook: int(hookid.ConnectPlayback)}
	if got := a.PortalCheck(req); got != host.CANCEL {
		t.Fatalf("first request: got %v, want CANCEL", got)
	}

	overlap := host.Request{ClientIndex: 5, Hook: int(hookid.PlaySample)}
	if got := a.PortalCheck(overlap); got != host.STOP {
		t.Fatalf("overlapping request for same client: got %v, want STOP", got)
	}
}

func TestPortalCheckSendFailureStops(t *testing.T) {
	transport := newFakeTransport()
	transport.sendErr = context.DeadlineExceeded
	a, clients, _ := newTestArbiter(t, transport, hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	clients.Put(e)

	req := host.Request{ClientIndex: 5, Hook: int(hookid.ConnectPlayback)}
	if got := a.PortalCheck(req); got != host.STOP {
		t.Fatalf("send failure: got %v, want STOP", got)
	}
	if e.Pending != nil {
		t.Fatal("expected no pending context after send failure")
	}
}

func TestResponseArrivalGrantsAndCaches(t *testing.T) {
	transport := newFakeTransport()
	transport.nextID = "req-1"
	a, clients, loop := newTestArbiter(t, transport, hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	clients.Put(e)

	var finished bool
	var grantedArg bool
	req := host.Request{
		ClientIndex: 5,
		Hook:        int(hookid.ConnectPlayback),
		Finish:      func(granted bool) { finished = true; grantedArg = granted },
	}
	if got := a.PortalCheck(req); got != host.CANCEL {
		t.Fatalf("initial request: got %v, want CANCEL", got)
	}

	transport.responses <- Response{RequestID: "req-1", Granted: true}

	// Synchronize with the loop goroutine, which the response was posted to.
	loop.Call(func() {})

	if !finished || !grantedArg {
		t.Fatalf("expected Finish(true) to have been invoked, got finished=%v granted=%v", finished, grantedArg)
	}
	if e.Cache(int(hookid.ConnectPlayback)) != client.Granted {
		t.Fatal("expected decision to be cached as Granted")
	}

	// Idempotence: a second request for the same (client, hook) is now a
	// synchronous cache hit with no new bus traffic.
	second := a.PortalCheck(host.Request{ClientIndex: 5, Hook: int(hookid.ConnectPlayback)})
	if second != host.OK {
		t.Fatalf("second request after grant: got %v, want OK", second)
	}
	if len(transport.requested) != 1 {
		t.Fatalf("expected exactly one AccessDevice call, got %d", len(transport.requested))
	}
}

func TestTimeoutGrantsConservatively(t *testing.T) {
	transport := newFakeTransport()
	transport.nextID = "req-1"
	clock := hosttest.NewManualClock()
	a, clients, loop := newTestArbiter(t, transport, clock)
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	clients.Put(e)

	var finished, grantedArg bool
	req := host.Request{
		ClientIndex: 5,
		Hook:        int(hookid.ConnectPlayback),
		Finish:      func(granted bool) { finished = true; grantedArg = granted },
	}
	a.PortalCheck(req)

	clock.Advance(50 * time.Millisecond)
	loop.Call(func() {})

	if !finished || !grantedArg {
		t.Fatalf("expected timeout to grant per conservative policy, finished=%v granted=%v", finished, grantedArg)
	}
	if e.Cache(int(hookid.ConnectPlayback)) != client.Granted {
		t.Fatal("expected timeout outcome to be cached as Granted")
	}
}

func TestResponseAfterUnlinkIsDropped(t *testing.T) {
	transport := newFakeTransport()
	transport.nextID = "req-1"
	a, clients, loop := newTestArbiter(t, transport, hosttest.NewClock())
	e := client.NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	clients.Put(e)

	called := false
	req := host.Request{
		ClientIndex: 5,
		Hook:        int(hookid.ConnectPlayback),
		Finish:      func(granted bool) { called = true },
	}
	a.PortalCheck(req)

	clients.Remove(5)

	transport.responses <- Response{RequestID: "req-1", Granted: true}
	loop.Call(func() {})

	if called {
		t.Fatal("expected Finish not to be called after client unlink")
	}
}
