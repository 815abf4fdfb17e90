// Package metrics exposes Prometheus counters for proxy traffic.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request modes as reported in the mode label.
const (
	ModeSync   = "sync"
	ModeStream = "stream"
)

// Request outcomes as reported in the outcome label.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics bundles the proxy's Prometheus collectors. Collectors register
// against the given registry, so independent instances never collide.
type Metrics struct {
	Registry *prometheus.Registry

	requests       *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	streamFrames   prometheus.Counter
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_total",
				Help: "Total number of proxied message requests",
			},
			[]string{"mode", "outcome"},
		),

		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_upstream_errors_total",
				Help: "Total number of non-2xx upstream responses",
			},
			[]string{"status"},
		),

		streamFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "proxy_stream_frames_total",
				Help: "Total number of content delta frames written to clients",
			},
		),
	}
}

// ObserveRequest records the outcome of one proxied request.
func (m *Metrics) ObserveRequest(mode, outcome string) {
	m.requests.WithLabelValues(mode, outcome).Inc()
}

// ObserveUpstreamError records a non-2xx upstream status.
func (m *Metrics) ObserveUpstreamError(status int) {
	m.upstreamErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveStreamFrame records one delta frame flushed to a client.
func (m *Metrics) ObserveStreamFrame() {
	m.streamFrames.Inc()
}
