package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector interface for search layer metrics
type Collector interface {
	SearchQuery(engine string, err error)
	SearchIndex(engine, operation string)
	SearchLatency(engine, operation string, d time.Duration)
	HealthCheck(component string, healthy bool)
}

// NoOpCollector implements Collector with no-op methods
type NoOpCollector struct{}

func (NoOpCollector) SearchQuery(string, error)                   {}
func (NoOpCollector) SearchIndex(string, string)                  {}
func (NoOpCollector) SearchLatency(string, string, time.Duration) {}
func (NoOpCollector) HealthCheck(string, bool)                    {}

// MemoryCollector keeps counters in memory
type MemoryCollector struct {
	searchQueries  atomic.Int64
	searchErrors   atomic.Int64
	searchIndexOps atomic.Int64

	lastSearchQuery atomic.Value // time.Time

	mu           sync.RWMutex
	operations   map[string]int64
	healthChecks map[string]bool
}

// NewMemoryCollector creates a new in-memory collector
func NewMemoryCollector() *MemoryCollector {
	c := &MemoryCollector{
		operations:   make(map[string]int64),
		healthChecks: make(map[string]bool),
	}
	c.lastSearchQuery.Store(time.Time{})
	return c
}

// SearchQuery records a search query
func (c *MemoryCollector) SearchQuery(engine string, err error) {
	c.searchQueries.Add(1)
	c.lastSearchQuery.Store(time.Now())
	if err != nil {
		c.searchErrors.Add(1)
	}
}

// SearchIndex records an index operation
func (c *MemoryCollector) SearchIndex(engine, operation string) {
	c.searchIndexOps.Add(1)
	c.mu.Lock()
	c.operations[engine+":"+operation]++
	c.mu.Unlock()
}

// SearchLatency is not tracked in memory
func (c *MemoryCollector) SearchLatency(string, string, time.Duration) {}

// HealthCheck records the last health state of a component
func (c *MemoryCollector) HealthCheck(component string, healthy bool) {
	c.mu.Lock()
	c.healthChecks[component] = healthy
	c.mu.Unlock()
}

// Stats returns a snapshot of the collected metrics
func (c *MemoryCollector) Stats() map[string]any {
	c.mu.RLock()
	ops := make(map[string]int64, len(c.operations))
	for k, v := range c.operations {
		ops[k] = v
	}
	health := make(map[string]bool, len(c.healthChecks))
	for k, v := range c.healthChecks {
		health[k] = v
	}
	c.mu.RUnlock()

	return map[string]any{
		"search_queries":    c.searchQueries.Load(),
		"search_errors":     c.searchErrors.Load(),
		"search_index_ops":  c.searchIndexOps.Load(),
		"last_search_query": c.lastSearchQuery.Load(),
		"operations":        ops,
		"health":            health,
	}
}
