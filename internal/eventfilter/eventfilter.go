// Package eventfilter implements the C6 event filter: the state machine
// that gates subscription events by prior visibility (spec.md §4.4).
package eventfilter

import (
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/hookid"
)

const (
	facilityMask = 0x0000FFFF
	typeMask     = 0xFFFF0000
)

// Decode splits a raw subscription event word into its facility and type,
// per spec.md §4.4: "facility = event & FACILITY_MASK, type = event & TYPE_MASK".
func Decode(event uint32) (host.Facility, host.EventType) {
	facility := host.Facility(event & facilityMask)
	switch event & typeMask {
	case uint32(host.EventNew) << 16:
		return facility, host.EventNew
	case uint32(host.EventChange) << 16:
		return facility, host.EventChange
	case uint32(host.EventRemove) << 16:
		return facility, host.EventRemove
	default:
		return facility, host.EventOther
	}
}

// Encode packs a facility and type back into an event word. Used by tests
// to build subscription event words.
func Encode(f host.Facility, t host.EventType) uint32 {
	return uint32(f)&facilityMask | (uint32(t) << 16)
}

// getInfoHook is the constant facility -> get-info hook table spec.md
// §4.4 specifies for promoting a NEW/CHANGE event into a visibility check.
var getInfoHook = map[host.Facility]int{
	host.FacilitySink:         int(hookid.SinkGetInfo),
	host.FacilitySource:       int(hookid.SourceGetInfo),
	host.FacilitySinkInput:    int(hookid.SinkInputGetInfo),
	host.FacilitySourceOutput: int(hookid.SourceOutputGetInfo),
	host.FacilityModule:       int(hookid.ModuleGetInfo),
	host.FacilityClient:       int(hookid.ClientGetInfo),
	host.FacilitySampleCache:  int(hookid.SampleGetInfo),
	host.FacilityServer:       int(hookid.ServerGetInfo),
	host.FacilityCard:         int(hookid.CardGetInfo),
}

// Checker is the subset of the decision engine the event filter recurses
// into for a promoted visibility check (spec.md §4.4: "Fire it through the
// decision engine").
type Checker interface {
	Check(req host.Request) host.Outcome
}

// Filter implements C6 against a client's seen-set.
type Filter struct {
	engine Checker
}

// New constructs a Filter that recurses into engine for visibility checks.
func New(engine Checker) *Filter {
	return &Filter{engine: engine}
}

// Seen is the minimal seen-set surface the filter needs, satisfied by
// *client.SeenSet without importing package client (which would create an
// eventfilter <-> client import cycle once client needs the filter's hook
// constants; the filter stays a leaf relative to client by taking this
// interface instead).
type Seen interface {
	Contains(f host.Facility, idx uint32) bool
	Insert(f host.Facility, idx uint32)
	Remove(f host.Facility, idx uint32)
}

// Check implements the table in spec.md §4.4 exactly.
func (filt *Filter) Check(req host.Request, seen Seen) host.Outcome {
	facility, typ := Decode(req.Event)

	switch typ {
	case host.EventRemove:
		if !seen.Contains(facility, req.ObjectIndex) {
			return host.STOP
		}
		seen.Remove(facility, req.ObjectIndex)
		return host.OK

	case host.EventChange:
		if seen.Contains(facility, req.ObjectIndex) {
			return host.OK
		}
		// Fall through to the NEW branch (promoted-CHANGE).
		return filt.checkNew(req, facility, seen)

	case host.EventNew:
		return filt.checkNew(req, facility, seen)

	default:
		return host.STOP
	}
}

func (filt *Filter) checkNew(req host.Request, facility host.Facility, seen Seen) host.Outcome {
	hook, ok := getInfoHook[facility]
	if !ok {
		return host.STOP
	}

	derived := req.WithHook(hook)
	if outcome := filt.engine.Check(derived); outcome != host.OK {
		return host.STOP
	}

	seen.Insert(facility, req.ObjectIndex)
	return host.OK
}
