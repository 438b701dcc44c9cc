package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/customs/internal/hookid"
	"frameworks/customs/pkg/monitoring"
)

// Metrics adapts pkg/monitoring.MetricsCollector to the counters/histogram
// the engine and portal arbiter report through, grounded on
// pkg/monitoring/metrics.go's NewCounter/NewHistogram helpers (the same
// service-metric pattern every teacher service uses, relabeled for the
// hooks and portal outcomes this broker actually counts).
type Metrics struct {
	decisions *prometheus.CounterVec
	portal    *prometheus.CounterVec
	roundTrip *prometheus.HistogramVec
}

// NewMetrics registers customs's business metrics against collector.
func NewMetrics(collector *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		decisions: collector.NewCounter(
			"decisions_total",
			"Access-control decisions by hook and outcome",
			[]string{"hook", "outcome"},
		),
		portal: collector.NewCounter(
			"portal_requests_total",
			"Portal arbitration outcomes",
			[]string{"result"},
		),
		roundTrip: collector.NewHistogram(
			"portal_round_trip_seconds",
			"Portal arbitration round-trip latency",
			nil,
			nil,
		),
	}
}

// ObserveDecision records one engine.Check outcome. Module.checkAndObserve
// calls it around engine.Engine.Check, since package engine itself takes no
// metrics dependency (see DESIGN.md).
func (m *Metrics) ObserveDecision(hook int, outcome string) {
	m.decisions.WithLabelValues(hookid.Hook(hook).String(), outcome).Inc()
}

// ObservePortalRequest implements portal.Metrics.
func (m *Metrics) ObservePortalRequest(result string) {
	m.portal.WithLabelValues(result).Inc()
}

// ObserveRoundTrip implements portal.Metrics.
func (m *Metrics) ObserveRoundTrip(d time.Duration) {
	m.roundTrip.WithLabelValues().Observe(d.Seconds())
}
