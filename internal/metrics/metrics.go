// Package metrics holds the operator-facing Prometheus counters of the
// identity service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshTotal         *prometheus.CounterVec
	RefreshReuseTotal    prometheus.Counter
	LoginTotal           *prometheus.CounterVec
	AssetCleanupFailures *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_refresh_total",
				Help: "Refresh token rotations by result",
			},
			[]string{"result"},
		),
		RefreshReuseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_refresh_token_reuse_total",
			Help: "Refresh tokens presented after they had already been rotated",
		}),
		LoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_login_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		AssetCleanupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_asset_cleanup_failures_total",
				Help: "Remote assets that could not be deleted after replacement",
			},
			[]string{"field"},
		),
	}
	reg.MustRegister(m.RefreshTotal, m.RefreshReuseTotal, m.LoginTotal, m.AssetCleanupFailures)
	return m
}

// NewRegistry returns a private registry carrying the Go runtime and process
// collectors plus the service counters.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry, New(registry)
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshReused() {
	if m == nil {
		return
	}
	m.RefreshReuseTotal.Inc()
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.LoginTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AssetCleanupFailed(field string) {
	if m == nil {
		return
	}
	m.AssetCleanupFailures.WithLabelValues(field).Inc()
}
