package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the server's Prometheus metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	DeltasMerged     prometheus.Counter
	VersionsAppended prometheus.Counter
	SyncConnections  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_requests_total",
			Help: "HTTP requests handled, by method and status.",
		}, []string{"method", "status"}),
		DeltasMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_deltas_merged_total",
			Help: "Deltas merged into accumulated update logs.",
		}),
		VersionsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_versions_appended_total",
			Help: "Version snapshots appended to file histories.",
		}),
		SyncConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collab_sync_connections",
			Help: "Currently open document sync connections.",
		}),
	}
	m.registry.MustRegister(m.RequestsTotal, m.DeltasMerged, m.VersionsAppended, m.SyncConnections)
	return m
}

// Handler serves the metrics exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
