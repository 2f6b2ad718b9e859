// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "licensing"

// Outcome labels.
const (
	OutcomeOK = "ok"
)

// Metrics groups the counters recorded by the activation flows. A nil
// *Metrics records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	logins    *prometheus.CounterVec
	streams   *prometheus.CounterVec
	downloads *prometheus.CounterVec
	bindings  *prometheus.CounterVec
	rotations prometheus.Counter
}

// New builds the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Client login attempts by outcome.",
		}, []string{"outcome"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_streams_total",
			Help:      "Product stream requests by outcome.",
		}, []string{"outcome"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_downloads_total",
			Help:      "Loader installer downloads by outcome.",
		}, []string{"outcome"}),
		bindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hardware_bindings_total",
			Help:      "New hardware bindings by initial state.",
		}, []string{"state"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Loader key pair rotations.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.streams, m.downloads, m.bindings, m.rotations,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Stream(outcome string) {
	if m != nil {
		m.streams.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Download(outcome string) {
	if m != nil {
		m.downloads.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Binding(state string) {
	if m != nil {
		m.bindings.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) KeyRotation() {
	if m != nil {
		m.rotations.Inc()
	}
}
