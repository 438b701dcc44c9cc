package client

import (
	"testing"

	"frameworks/customs/internal/host"
	"frameworks/customs/internal/hookid"
)

func TestSeenSetRoundTrip(t *testing.T) {
	s := NewSeenSet()
	if s.Contains(host.FacilitySink, 2) {
		t.Fatal("empty set should not contain anything")
	}

	s.Insert(host.FacilitySink, 2)
	if !s.Contains(host.FacilitySink, 2) {
		t.Fatal("expected (sink,2) to be present after Insert")
	}

	s.Remove(host.FacilitySink, 2)
	if s.Contains(host.FacilitySink, 2) {
		t.Fatal("expected (sink,2) to be gone after Remove")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty set after round trip, got len %d", s.Len())
	}
}

func TestSeenSetRemoveWithoutInsertIsNoop(t *testing.T) {
	s := NewSeenSet()
	s.Remove(host.FacilitySink, 99)
	if s.Len() != 0 {
		t.Fatal("remove without prior insert must not mutate the set")
	}
}

func TestEntryCacheSurvivesForEntryLifetime(t *testing.T) {
	e := NewEntry(5, 1, host.Credentials{Valid: true, PID: 123})
	if e.Cache(int(hookid.ConnectPlayback)) != Unchecked {
		t.Fatal("new entry should start unchecked")
	}

	e.SetCache(int(hookid.ConnectPlayback), Granted)
	if e.Cache(int(hookid.ConnectPlayback)) != Granted {
		t.Fatal("expected cache to persist Granted")
	}
}

func TestEntryRebindUpdatesPolicyAndPID(t *testing.T) {
	e := NewEntry(5, 1, host.Credentials{Valid: false})
	e.Rebind(2, host.Credentials{Valid: true, PID: 42})
	if e.Policy != 2 || !e.PIDKnown || e.PID != 42 {
		t.Fatalf("rebind did not update in place: %+v", e)
	}
}

func TestRegistryUnknownClientNotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(99); ok {
		t.Fatal("expected unknown client to be absent")
	}
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	e := NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	r.Put(e)

	got, ok := r.Get(5)
	if !ok || got != e {
		t.Fatal("expected Get to return the entry just Put")
	}

	r.Remove(5)
	if _, ok := r.Get(5); ok {
		t.Fatal("expected entry to be gone after Remove")
	}
}

type fakeTimer struct{ stopped bool }

func (f *fakeTimer) Stop() { f.stopped = true }

func TestRegistryRemoveCancelsPendingTimer(t *testing.T) {
	r := NewRegistry()
	e := NewEntry(5, 1, host.Credentials{Valid: true, PID: 1})
	ft := &fakeTimer{}
	e.Pending = &Pending{Timer: ft}
	r.Put(e)

	r.Remove(5)
	if !ft.stopped {
		t.Fatal("expected unlink to stop the pending timer")
	}
}
