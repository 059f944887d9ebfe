package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMemoryCollector(t *testing.T) {
	c := NewMemoryCollector()
	c.SearchQuery("meilisearch", nil)
	c.SearchQuery("meilisearch", errors.New("boom"))
	c.SearchIndex("meilisearch", "index_documents")
	c.HealthCheck("meilisearch", true)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats["search_queries"])
	assert.Equal(t, int64(1), stats["search_errors"])
	assert.Equal(t, int64(1), stats["operations"].(map[string]int64)["meilisearch:index_documents"])
	assert.True(t, stats["health"].(map[string]bool)["meilisearch"])
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SearchQuery("typesense", nil)
	c.SearchQuery("typesense", errors.New("down"))
	c.SearchIndex("typesense", "delete_documents")
	c.SearchLatency("typesense", "search", 20*time.Millisecond)
	c.HealthCheck("typesense", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("typesense", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("typesense", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.indexOps.WithLabelValues("typesense", "delete_documents")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.healthy.WithLabelValues("typesense")))
}

func TestNoOpCollector(t *testing.T) {
	var c Collector = NoOpCollector{}
	c.SearchQuery("x", nil)
	c.SearchIndex("x", "y")
}
