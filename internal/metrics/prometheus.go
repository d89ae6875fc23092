// Package metrics wraps the Prometheus collectors devbridge exposes on
// GET /metrics: invocation outcome counters, bridge-state gauges, the held
// connection age histogram, registry size, and errors labeled by apperr.Kind.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fnharness/devbridge/runtime"
)

// Registry wraps the devbridge Prometheus collectors.
type Registry struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	runtimeOutcomes    *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	invocationDuration prometheus.Histogram
	queueWaitMs        prometheus.Histogram
	registrySize       prometheus.Gauge
	runtimeConnected   prometheus.Gauge
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// New builds a fresh Registry under namespace, with its own prometheus
// collector registry (not the global default registerer), matching the
// teacher's per-process-registry convention.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Registry{
		registry: reg,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of external invoke requests, labeled by function and status.",
			},
			[]string{"function", "status"},
		),

		runtimeOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runtime_outcomes_total",
				Help:      "Total runtime-loop iteration outcomes, labeled by outcome.",
			},
			[]string{"outcome"},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total structured apperr error responses written by the HTTP server on any route, labeled by apperr code. Handler-failure 500s written by the bridge are not counted.",
			},
			[]string{"code"},
		),

		invocationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Wall-clock duration of a matched invocation, external POST to completion.",
				Buckets:   defaultBuckets,
			},
		),

		queueWaitMs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "next_conn_held_milliseconds",
				Help:      "How long a runtime-next connection sat held before being triggered or preempted.",
				Buckets:   defaultBuckets,
			},
		),

		registrySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_functions",
				Help:      "Number of distinct functions currently registered.",
			},
		),

		runtimeConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runtime_connected",
				Help:      "1 while the bridge's last reported state is NEXT_HELD or INVOKING, 0 once it reports IDLE.",
			},
		),
	}

	reg.MustRegister(
		m.invocationsTotal,
		m.runtimeOutcomes,
		m.errorsTotal,
		m.invocationDuration,
		m.queueWaitMs,
		m.registrySize,
		m.runtimeConnected,
	)

	return m
}

// Handler returns the promhttp handler scraping this Registry's collectors.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInvocation increments the invocation counter for function/status and
// observes durationMs in the (unlabeled) duration histogram.
func (m *Registry) RecordInvocation(function, status string, durationMs float64) {
	m.invocationsTotal.WithLabelValues(function, status).Inc()
	m.invocationDuration.Observe(durationMs)
}

// RecordError increments the errors counter for the given apperr code.
func (m *Registry) RecordError(code string) {
	m.errorsTotal.WithLabelValues(code).Inc()
}

// ObserveRuntimeOutcome implements runtime.Metrics.
func (m *Registry) ObserveRuntimeOutcome(outcome runtime.Outcome) {
	m.runtimeOutcomes.WithLabelValues(string(outcome)).Inc()
}

// ObserveNextHeldMs records how long a next-conn sat held before resolving.
func (m *Registry) ObserveNextHeldMs(ms float64) {
	m.queueWaitMs.Observe(ms)
}

// SetRegistrySize sets the registry-size gauge.
func (m *Registry) SetRegistrySize(n int) {
	m.registrySize.Set(float64(n))
}

// SetRuntimeConnected sets the runtime-connected gauge (1 or 0).
func (m *Registry) SetRuntimeConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.runtimeConnected.Set(v)
}
