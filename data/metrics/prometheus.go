package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports search metrics to Prometheus
type PrometheusCollector struct {
	queries  *prometheus.CounterVec
	indexOps *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	healthy  *prometheus.GaugeVec
}

// NewPrometheusCollector creates the collector and registers it on reg
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsearch",
			Name:      "search_queries_total",
			Help:      "Total search queries by engine and status",
		}, []string{"engine", "status"}),

		indexOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsearch",
			Name:      "index_operations_total",
			Help:      "Total index operations by engine and operation",
		}, []string{"engine", "op"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nsearch",
			Name:      "operation_duration_seconds",
			Help:      "Backend operation duration",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"engine", "op"}),

		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nsearch",
			Name:      "backend_up",
			Help:      "Whether the last reachability probe succeeded",
		}, []string{"component"}),
	}

	reg.MustRegister(c.queries, c.indexOps, c.latency, c.healthy)
	return c
}

// SearchQuery records a search query
func (c *PrometheusCollector) SearchQuery(engine string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.queries.WithLabelValues(engine, status).Inc()
}

// SearchIndex records an index operation
func (c *PrometheusCollector) SearchIndex(engine, operation string) {
	c.indexOps.WithLabelValues(engine, operation).Inc()
}

// SearchLatency records the duration of a backend operation
func (c *PrometheusCollector) SearchLatency(engine, operation string, d time.Duration) {
	c.latency.WithLabelValues(engine, operation).Observe(d.Seconds())
}

// HealthCheck records a reachability probe
func (c *PrometheusCollector) HealthCheck(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	c.healthy.WithLabelValues(component).Set(v)
}
