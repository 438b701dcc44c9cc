package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"frameworks/customs/internal/client"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/policy"
	"frameworks/customs/internal/sandbox"
)

func writeTempFile(t *testing.T, contents string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cgroup")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func newTestBinder(t *testing.T, confinedPIDs map[uint32]bool) (*Binder, *client.Registry, policy.Handle, policy.Handle) {
	t.Helper()
	clients := client.NewRegistry()
	table := policy.NewTable()
	defaultHandle := table.Register(policy.BuildDefault())
	portalHandle := table.Register(policy.BuildPortal())

	detector := sandbox.NewWithPathFunc(func(pid uint32) string {
		if confinedPIDs[pid] {
			return writeConfinedFixture(t)
		}
		return writeUnconfinedFixture(t)
	})

	b := New(clients, defaultHandle, portalHandle, detector, nil)
	return b, clients, defaultHandle, portalHandle
}

func writeConfinedFixture(t *testing.T) string {
	t.Helper()
	return writeCgroupFixture(t, "1:name=systemd:/flatpak-app.scope\n")
}

func writeUnconfinedFixture(t *testing.T) string {
	t.Helper()
	return writeCgroupFixture(t, "1:name=systemd:/session-2.scope\n")
}

func writeCgroupFixture(t *testing.T, contents string) string {
	t.Helper()
	f, err := writeTempFile(t, contents)
	if err != nil {
		t.Fatalf("writeCgroupFixture: %v", err)
	}
	return f
}

func TestOnClientPutUntrustedCredsGetsDefaultPolicy(t *testing.T) {
	b, clients, defaultHandle, _ := newTestBinder(t, nil)
	b.OnClientPut(1, host.Credentials{Valid: false})

	e, ok := clients.Get(1)
	if !ok {
		t.Fatal("expected entry to be created")
	}
	if e.Policy != defaultHandle {
		t.Fatalf("untrusted creds: got policy %v, want default %v", e.Policy, defaultHandle)
	}
}

func TestOnClientPutConfinedGetsPortalPolicy(t *testing.T) {
	b, clients, _, portalHandle := newTestBinder(t, map[uint32]bool{42: true})
	b.OnClientPut(1, host.Credentials{Valid: true, PID: 42})

	e, _ := clients.Get(1)
	if e.Policy != portalHandle {
		t.Fatalf("confined client: got policy %v, want portal %v", e.Policy, portalHandle)
	}
}

func TestOnClientAuthCanFlipToPortalPolicy(t *testing.T) {
	b, clients, defaultHandle, portalHandle := newTestBinder(t, map[uint32]bool{42: true})
	b.OnClientPut(1, host.Credentials{Valid: false})

	e, _ := clients.Get(1)
	if e.Policy != defaultHandle {
		t.Fatal("expected initial unauthenticated policy to be default")
	}

	b.OnClientAuth(1, host.Credentials{Valid: true, PID: 42})
	e, _ = clients.Get(1)
	if e.Policy != portalHandle || e.PID != 42 {
		t.Fatalf("expected auth to flip to portal policy and set pid, got policy=%v pid=%v", e.Policy, e.PID)
	}
}

func TestOnClientUnlinkRemovesEntry(t *testing.T) {
	b, clients, _, _ := newTestBinder(t, nil)
	b.OnClientPut(1, host.Credentials{Valid: false})
	b.OnClientUnlink(1)

	if _, ok := clients.Get(1); ok {
		t.Fatal("expected entry to be removed after unlink")
	}
}

func TestOnProplistChangedDoesNotAffectSelectionBeyondCreds(t *testing.T) {
	b, clients, defaultHandle, _ := newTestBinder(t, nil)
	b.OnClientPut(1, host.Credentials{Valid: true, PID: 1})
	b.OnProplistChanged(1, host.Credentials{Valid: true, PID: 1})

	e, _ := clients.Get(1)
	if e.Policy != defaultHandle {
		t.Fatal("proplist-changed with unconfined pid should keep default policy")
	}
}
