package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors exposed on the admin HTTP server's
// /metrics endpoint. Grounded on rockstar-0000-aistore's use of
// prometheus/client_golang for storage-node operational counters; this
// replaces the hand-rolled atomic-counter-plus-JSON-encoder approach with
// real collectors registered against their own registry so tests can spin
// up independent Server instances without colliding on the global default
// registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	commandsProcessed *prometheus.CounterVec
	errorsTotal       prometheus.Counter
	packagesIndexed   prometheus.Gauge
	commandDuration   *prometheus.HistogramVec
}

// NewMetrics creates a fresh set of collectors registered against their own
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "package_indexer_connections_total",
		Help: "Total number of TCP connections accepted.",
	})
	m.commandsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "package_indexer_commands_total",
		Help: "Total number of commands processed, by response.",
	}, []string{"response"})
	m.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "package_indexer_protocol_errors_total",
		Help: "Total number of malformed requests rejected with ERROR.",
	})
	m.packagesIndexed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "package_indexer_packages_indexed",
		Help: "Current number of indexed packages.",
	})
	m.commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "package_indexer_command_duration_seconds",
		Help:    "Time to process a single command under the store lock.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	m.registry.MustRegister(
		m.connectionsTotal,
		m.commandsProcessed,
		m.errorsTotal,
		m.packagesIndexed,
		m.commandDuration,
	)

	return m
}

// Registry exposes the underlying Prometheus registry, e.g. for mounting a
// promhttp.HandlerFor on the admin server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) IncrementConnections() {
	m.connectionsTotal.Inc()
}

func (m *Metrics) ObserveCommand(command string, response string, seconds float64) {
	m.commandsProcessed.WithLabelValues(response).Inc()
	m.commandDuration.WithLabelValues(command).Observe(seconds)
}

func (m *Metrics) IncrementErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) SetPackagesIndexed(n int) {
	m.packagesIndexed.Set(float64(n))
}
