// Command customs runs the plain, non-sandboxed access-control broker
// (spec.md §6's default module flavor). It wires the ambient stack
// (logging, config, health, metrics, HTTP) the same way every teacher
// service does and loads internal/broker against the embedding host's
// HookBus/Registry implementations.
//
// The host hook bus and object registries are genuinely external to this
// module (spec.md §1's "out of scope: external collaborators") — a real
// deployment links this package against the multimedia server's own Go
// bindings for those two interfaces. Lacking a real one in this repository,
// main wires the in-memory hosttest fakes instead, so the process is a
// runnable demonstration of the wiring (and a smoke target for /healthz)
// rather than a functioning standalone broker.
package main

import (
	"os"

	"frameworks/customs/internal/broker"
	"frameworks/customs/internal/host/hosttest"
	"frameworks/customs/pkg/config"
	"frameworks/customs/pkg/logging"
	"frameworks/customs/pkg/monitoring"
	"frameworks/customs/pkg/server"
	"frameworks/customs/pkg/version"
)

const serviceName = "customs"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	version.ComponentName = serviceName

	bus := hosttest.NewHookBus()
	registry := hosttest.NewRegistry()

	m := broker.NewDefault(bus, registry, logger)
	defer m.Close()

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	healthChecker.AddCheck("broker", func() monitoring.CheckResult {
		return monitoring.CheckResult{Status: monitoring.StatusHealthy}
	})

	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	m.SetMetrics(broker.NewMetrics(metricsCollector))

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)

	cfg := server.DefaultConfig(serviceName, config.GetEnv("CUSTOMS_PORT", "8080"))
	if err := server.Start(cfg, router, logger); err != nil {
		logger.WithError(err).Error("customs exited with error")
		os.Exit(1)
	}
}
