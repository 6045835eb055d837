// Package metrics exposes the Prometheus instrumentation for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics. Each instance carries its own
// registry so tests can build servers without colliding registrations.
type Metrics struct {
	registry *prometheus.Registry

	CommandsTotal     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	KeysTotal         prometheus.Gauge
}

// NewMetrics creates a new metrics instance with a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linekv_commands_total",
				Help: "Total number of commands executed",
			},
			[]string{"command", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linekv_command_duration_seconds",
				Help:    "Duration of commands in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		ConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linekv_connections_total",
				Help: "Total number of accepted connections",
			},
		),
		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "linekv_connections_active",
				Help: "Number of active connections",
			},
		),
		KeysTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "linekv_keys_total",
				Help: "Total number of keys in the store",
			},
		),
	}
}

// Registry returns the registry backing this instance, for the admin
// /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementCommand increments the command counter.
func (m *Metrics) IncrementCommand(command, status string) {
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}

// ObserveCommandDuration observes command duration.
func (m *Metrics) ObserveCommandDuration(command string, seconds float64) {
	m.CommandDuration.WithLabelValues(command).Observe(seconds)
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnClosed records a finished connection.
func (m *Metrics) ConnClosed() {
	m.ConnectionsActive.Dec()
}

// SetKeysTotal sets the total number of keys.
func (m *Metrics) SetKeysTotal(count float64) {
	m.KeysTotal.Set(count)
}
