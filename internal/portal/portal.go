// Package portal implements the C7 portal arbiter: the asynchronous
// out-of-process authorization protocol of spec.md §4.5, its per-client
// concurrency policy, and its result cache (held on the client entry
// itself, per spec.md's client entry data model).
package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"frameworks/customs/internal/client"
	"frameworks/customs/internal/host"
	"frameworks/customs/internal/hookid"
	"frameworks/customs/pkg/logging"
)

// DefaultTimeout is the device-portal round-trip timeout. module-flatpak.c
// hard-codes REQUEST_TIMEOUT = 20 seconds; customs supplements it as a
// named, env-overridable constant (SPEC_FULL.md §3).
const DefaultTimeout = 20 * time.Second

// DeviceTag is one of the device classes a portal AccessDevice call can
// request, per spec.md §6's bus protocol.
type DeviceTag string

const (
	Microphone DeviceTag = "microphone"
	Speakers   DeviceTag = "speakers"
)

// DeviceTagsForHook derives the device array for a hook per spec.md §4.5:
// "record -> microphone, connect-playback | play-sample -> speakers". This
// is the only hook-dependent parameter of the portal call.
func DeviceTagsForHook(h int) []DeviceTag {
	switch hookid.Hook(h) {
	case hookid.ConnectRecord:
		return []DeviceTag{Microphone}
	case hookid.ConnectPlayback, hookid.PlaySample:
		return []DeviceTag{Speakers}
	default:
		return nil
	}
}

// Response is a parsed portal Response signal: req.md §4.5 step 3 parses
// "the first argument as an unsigned response code. 0 => granted, anything
// else => denied."
type Response struct {
	RequestID string
	Granted   bool
}

// Transport is the outbound AccessDevice call plus the inbound Response
// signal stream, both genuinely external to the broker. See SPEC_FULL.md §2
// for why this is HTTP+websocket rather than literal D-Bus.
type Transport interface {
	// AccessDevice issues the call and returns the portal's request handle.
	AccessDevice(ctx context.Context, pid uint32, devices []DeviceTag) (requestID string, err error)
	// Responses is the stream of inbound Response signals.
	Responses() <-chan Response
}

type pendingKey struct {
	clientIndex int
	hook        int
}

// Metrics is the minimal counter/histogram surface the arbiter reports
// through, satisfied by thin wrappers over prometheus.CounterVec /
// HistogramVec built with pkg/monitoring.MetricsCollector's NewCounter and
// NewHistogram (see internal/broker). Nil is a valid, no-op Metrics.
type Metrics interface {
	ObserveDecision(hook int, outcome string)
	ObservePortalRequest(result string)
	ObserveRoundTrip(d time.Duration)
}

// Arbiter implements rule.Arbiter.
type Arbiter struct {
	clients   *client.Registry
	transport Transport
	clock     host.Clock
	loop      *host.Loop
	timeout   time.Duration
	logger    logging.Logger
	metrics   Metrics

	sf singleflight.Group

	mu                 sync.Mutex
	pendingByRequestID map[string]pendingKey
}

// New constructs an Arbiter. timeout <= 0 defaults to DefaultTimeout.
func New(clients *client.Registry, transport Transport, clock host.Clock, loop *host.Loop, timeout time.Duration, logger logging.Logger, metrics Metrics) *Arbiter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Arbiter{
		clients:            clients,
		transport:          transport,
		clock:              clock,
		loop:               loop,
		timeout:            timeout,
		logger:             logger,
		metrics:            metrics,
		pendingByRequestID: make(map[string]pendingKey),
	}
}

// ServeResponses drains transport.Responses() onto the loop goroutine until
// the channel closes. Callers should run this in its own goroutine; the
// real serialization point is handleResponse running inside loop.Post.
func (a *Arbiter) ServeResponses() {
	for resp := range a.transport.Responses() {
		resp := resp
		a.loop.Post(func() { a.handleResponse(resp) })
	}
}

// PortalCheck implements rule.Arbiter, the portal-check rule's protocol
// from spec.md §4.5.
func (a *Arbiter) PortalCheck(req host.Request) host.Outcome {
	entry, ok := a.clients.Get(req.ClientIndex)
	if !ok {
		return host.STOP
	}

	// Step 1: cache hit.
	switch entry.Cache(req.Hook) {
	case client.Granted:
		return host.OK
	case client.Denied:
		return host.STOP
	}

	// Per-client concurrency: spec.md §4.5 "Additional portal-check
	// invocations for the same client while one is pending STOP".
	if entry.Pending != nil {
		return host.STOP
	}

	devices := DeviceTagsForHook(req.Hook)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	requestID, err := a.issue(ctx, req.ClientIndex, entry.PID, devices)
	if err != nil {
		// spec.md §7: "Bus method-send failure -> Release the message, log, STOP".
		if a.logger != nil {
			a.logger.WithFields(logging.Fields{
				"client_index": req.ClientIndex,
				"hook":         req.Hook,
				"error":        err,
			}).Warn("portal AccessDevice send failed")
		}
		if a.metrics != nil {
			a.metrics.ObservePortalRequest("send_error")
		}
		return host.STOP
	}

	timer := a.clock.AfterFunc(a.timeout, func() {
		a.loop.Post(func() { a.resolveTimeout(req.ClientIndex, req.Hook) })
	})
	entry.Pending = &client.Pending{Request: req, Timer: timer}

	a.mu.Lock()
	a.pendingByRequestID[requestID] = pendingKey{clientIndex: req.ClientIndex, hook: req.Hook}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.ObservePortalRequest("sent")
	}

	return host.CANCEL
}

// issue collapses concurrent AccessDevice calls for the same client index
// through singleflight.Group: the loop is expected to serialize PortalCheck
// so this path is normally uncontended, but nothing stops a caller from
// invoking Check concurrently from multiple goroutines without going
// through the loop, and a double AccessDevice send for one client would
// violate the one-pending-per-client invariant just as badly as a race on
// entry.Pending would. Collapsing here is a second line of defense.
func (a *Arbiter) issue(ctx context.Context, clientIndex int, pid uint32, devices []DeviceTag) (string, error) {
	key := fmt.Sprintf("client-%d", clientIndex)
	v, err, _ := a.sf.Do(key, func() (interface{}, error) {
		return a.transport.AccessDevice(ctx, pid, devices)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// handleResponse implements spec.md §4.5 step 3. Must only run on the loop
// goroutine.
func (a *Arbiter) handleResponse(resp Response) {
	a.mu.Lock()
	pk, ok := a.pendingByRequestID[resp.RequestID]
	delete(a.pendingByRequestID, resp.RequestID)
	a.mu.Unlock()
	if !ok {
		return
	}

	entry, ok := a.clients.Get(pk.clientIndex)
	if !ok || entry.Pending == nil {
		// Client unlinked while the response was in flight: drop silently
		// (spec.md §7 "Client unlink during pending -> Drop silently; do
		// not call async_finish").
		return
	}

	pending := entry.Pending
	if pending.Timer != nil {
		pending.Timer.Stop()
	}
	entry.Pending = nil

	state := client.Denied
	if resp.Granted {
		state = client.Granted
	}
	entry.SetCache(pk.hook, state)

	if a.metrics != nil {
		result := "denied"
		if resp.Granted {
			result = "granted"
		}
		a.metrics.ObservePortalRequest(result)
	}

	if pending.Request.Finish != nil {
		pending.Request.Finish(resp.Granted)
	}
}

// resolveTimeout implements spec.md §4.5 step 4 and the conservative
// timeout policy of §9: "defaults to granted". Must only run on the loop
// goroutine.
func (a *Arbiter) resolveTimeout(clientIndex int, hook int) {
	entry, ok := a.clients.Get(clientIndex)
	if !ok || entry.Pending == nil {
		return
	}

	pending := entry.Pending
	entry.Pending = nil
	entry.SetCache(hook, client.Granted)

	if a.logger != nil {
		a.logger.WithFields(logging.Fields{
			"client_index": clientIndex,
			"hook":         hook,
		}).Warn("portal arbitration timed out, granting per fail-open policy")
	}
	if a.metrics != nil {
		a.metrics.ObservePortalRequest("timeout")
	}

	if pending.Request.Finish != nil {
		pending.Request.Finish(true)
	}
}
