// Command customs-portal runs the sandbox-aware access-control broker
// (spec.md §6's second module flavor), which additionally opens a portal
// transport so confined clients' playback/record/sample-playback requests
// escalate to an out-of-process arbiter (C7).
//
// As with cmd/customs, the host hook bus and object registries are
// genuinely external (spec.md §1); this entry point wires the in-memory
// hosttest fakes in their place and focuses on what IS this binary's own
// concern: dialing the portal transport, configuring its timeout, and
// exposing health/metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"frameworks/customs/internal/broker"
	"frameworks/customs/internal/host/hosttest"
	"frameworks/customs/internal/portal"
	"frameworks/customs/pkg/clients"
	"frameworks/customs/pkg/config"
	"frameworks/customs/pkg/logging"
	"frameworks/customs/pkg/monitoring"
	"frameworks/customs/pkg/server"
	"frameworks/customs/pkg/version"
)

const serviceName = "customs-portal"

// unreachableTransport is the fallback portal.Transport used when the
// initial websocket dial fails. Every AccessDevice call errors immediately,
// matching spec.md §7's "Bus method-send failure -> Release the message,
// log, STOP" instead of panicking on a half-constructed transport.
type unreachableTransport struct {
	responses chan portal.Response
}

func newUnreachableTransport() *unreachableTransport {
	return &unreachableTransport{responses: make(chan portal.Response)}
}

func (u *unreachableTransport) AccessDevice(context.Context, uint32, []portal.DeviceTag) (string, error) {
	return "", fmt.Errorf("portal: transport unavailable")
}

func (u *unreachableTransport) Responses() <-chan portal.Response {
	return u.responses
}

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	version.ComponentName = serviceName

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	metrics := broker.NewMetrics(metricsCollector)

	httpURL := config.GetEnv("CUSTOMS_PORTAL_HTTP_URL", "http://localhost:7070/portal/access-device")
	wsURL := config.GetEnv("CUSTOMS_PORTAL_WS_URL", "ws://localhost:7070/portal/responses")
	timeoutSeconds := config.GetEnvInt("CUSTOMS_PORTAL_TIMEOUT_SECONDS", int(portal.DefaultTimeout/time.Second))

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var transport portal.Transport
	wsTransport, err := portal.NewWSTransport(dialCtx, httpURL, wsURL, clients.DefaultHTTPExecutorConfig(), logger)
	connected := err == nil
	if err != nil {
		// spec.md §7: "Bus connect failure at init -> Log, continue; portal-check
		// rules will STOP for lack of transport." We still start the process —
		// every portal-check invocation will fail the AccessDevice send and STOP —
		// but report the degraded health up front.
		logger.WithError(err).Warn("portal transport dial failed; portal-check will STOP until reachable")
		transport = newUnreachableTransport()
	} else {
		transport = wsTransport
	}

	healthChecker.AddCheck("portal", func() monitoring.CheckResult {
		if !connected {
			return monitoring.CheckResult{Status: monitoring.StatusUnhealthy, Message: "portal transport not connected"}
		}
		return monitoring.CheckResult{Status: monitoring.StatusHealthy}
	})

	bus := hosttest.NewHookBus()
	registry := hosttest.NewRegistry()

	m := broker.NewSandboxed(bus, registry, broker.SandboxedConfig{
		Transport:     transport,
		Clock:         hosttest.NewClock(),
		PortalTimeout: time.Duration(timeoutSeconds) * time.Second,
		Logger:        logger,
		Metrics:       metrics,
	})
	defer m.Close()

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)

	cfg := server.DefaultConfig(serviceName, config.GetEnv("CUSTOMS_PORTAL_LISTEN_PORT", "8081"))
	if err := server.Start(cfg, router, logger); err != nil {
		logger.WithError(err).Error("customs-portal exited with error")
		os.Exit(1)
	}
}
