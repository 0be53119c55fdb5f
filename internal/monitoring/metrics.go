// Package monitoring exposes Prometheus metrics for the terminal engine.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	SpawnFailures  prometheus.Counter

	// Session I/O
	BytesRead     prometheus.Counter
	BytesWritten  prometheus.Counter
	OutputDropped prometheus.Counter

	// Streaming
	WSConnections prometheus.Gauge
}

// NewMetrics creates a metrics collector backed by its own registry, so
// multiple instances (e.g. in tests) never collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termcore_sessions_active",
			Help: "Number of running terminal sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "termcore_sessions_total",
			Help: "Total number of terminal sessions started",
		}),
		SpawnFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "termcore_spawn_failures_total",
			Help: "Total number of failed session starts",
		}),

		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "termcore_output_bytes_total",
			Help: "Total bytes read from session ptys",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "termcore_input_bytes_total",
			Help: "Total bytes written to session ptys",
		}),
		OutputDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "termcore_output_dropped_bytes_total",
			Help: "Output bytes evicted from session buffers under overflow",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termcore_ws_connections",
			Help: "Number of open terminal WebSocket streams",
		}),
	}
}

// Registry returns the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
