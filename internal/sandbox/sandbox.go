// Package sandbox implements the C9 sandbox detector: classifying a
// client's trusted process as confined or not by inspecting its
// control-group membership, per spec.md §4.7 and module-flatpak.c's
// cgroup-path template (see SPEC_FULL.md §3).
package sandbox

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	systemdController = "1:name=systemd:"
	flatpakMarker     = "flatpak-"
)

// Detector classifies pids as confined or not by reading their cgroup
// membership file.
type Detector struct {
	// cgroupPath renders the path to a pid's cgroup file; overridable in
	// tests so they don't need a real /proc.
	cgroupPath func(pid uint32) string
}

// New returns a Detector reading the real /proc/<pid>/cgroup.
func New() *Detector {
	return &Detector{cgroupPath: func(pid uint32) string {
		return fmt.Sprintf("/proc/%d/cgroup", pid)
	}}
}

// NewWithPathFunc returns a Detector reading from wherever pathFunc points,
// for tests that substitute a fixture file instead of /proc.
func NewWithPathFunc(pathFunc func(pid uint32) string) *Detector {
	return &Detector{cgroupPath: pathFunc}
}

// IsConfined implements spec.md §4.7: scans the systemd controller line for
// the "flatpak-" substring. If the file cannot be opened at all (process
// already exited, permission denied), the client is unconfined — the
// original's fail-open fallback (SPEC_FULL.md §3).
func (d *Detector) IsConfined(pid uint32) bool {
	f, err := os.Open(d.cgroupPath(pid))
	if err != nil {
		return false
	}
	defer f.Close()

	return scanForFlatpak(f)
}

func scanForFlatpak(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, systemdController) {
			continue
		}
		if strings.Contains(line, flatpakMarker) {
			return true
		}
	}
	return false
}
