package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ncobase/nsearch/concurrency"
	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/data/metrics"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of client spans
const TracerName = "nsearch/search"

// DefaultParallelism is the number of adapters MultiSearch queries at once
const DefaultParallelism = 4

// MultiQuery is one entry of a client multi-search, addressed by handle
type MultiQuery struct {
	Handle  string  `json:"handle" binding:"required"`
	Query   string  `json:"query"`
	Options Options `json:"options"`
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCollector sets the metrics collector
func WithCollector(collector metrics.Collector) ClientOption {
	return func(c *Client) {
		if collector != nil {
			c.collector = collector
		}
	}
}

// WithLocker sets the locker serializing rebuilds
func WithLocker(locker Locker) ClientOption {
	return func(c *Client) {
		if locker != nil {
			c.locker = locker
		}
	}
}

// WithAdapterFactory bypasses the engine registry
func WithAdapterFactory(factory AdapterFactory) ClientOption {
	return func(c *Client) {
		c.factory = factory
	}
}

// WithParallelism bounds the adapters queried at once by MultiSearch
func WithParallelism(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithTracer sets the tracer used for client spans
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Client resolves configured indexes to adapters and runs operations on them
type Client struct {
	mu        sync.RWMutex
	cfg       *config.Search
	indexes   map[string]*Index
	handles   []string
	adapters  map[string]Adapter
	breakers  map[Engine]*gobreaker.CircuitBreaker
	collector metrics.Collector
	locker    Locker
	tracer    trace.Tracer
	factory   AdapterFactory

	parallelism int
}

// NewClient creates a client over the configured indexes
func NewClient(cfg *config.Search, opts ...ClientOption) (*Client, error) {
	c := &Client{
		collector: metrics.NoOpCollector{},
		locker:    NewKeyedLocker(),
		tracer:    otel.Tracer(TracerName),

		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the index definitions and drops every cached adapter
func (c *Client) Reload(cfg *config.Search) error {
	if cfg == nil {
		return &ConfigurationError{Reason: "missing search configuration"}
	}
	indexes, err := IndexesFromConfig(cfg)
	if err != nil {
		return err
	}

	byHandle := make(map[string]*Index, len(indexes))
	handles := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		byHandle[idx.Handle] = idx
		handles = append(handles, idx.Handle)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.indexes = byHandle
	c.handles = handles
	c.adapters = make(map[string]Adapter)
	c.breakers = make(map[Engine]*gobreaker.CircuitBreaker)
	return nil
}

// IndexesFromConfig builds index definitions, resolving engine defaults,
// prefixes and connection overrides
func IndexesFromConfig(cfg *config.Search) ([]*Index, error) {
	out := make([]*Index, 0, len(cfg.Indexes))
	for _, ic := range cfg.Indexes {
		name := ic.Engine
		if name == "" {
			name = cfg.DefaultEngine
		}
		engine, err := ParseEngine(name)
		if err != nil {
			return nil, err
		}

		prefix := cfg.IndexPrefix
		if ic.Prefix != nil {
			prefix = *ic.Prefix
		}

		conn := engineConfig(engine, cfg.Connection(string(engine)))
		if ic.Connection != nil {
			override := engineConfig(engine, ic.Connection)
			conn = conn.Merge(&override)
		}

		idx := &Index{
			Handle:       ic.Handle,
			Name:         ic.Name,
			Engine:       engine,
			Prefix:       prefix,
			OverrideName: ic.OverrideName,
			Connection:   &conn,
		}
		for _, f := range ic.Fields {
			idx.Fields = append(idx.Fields, FieldMapping{
				Name:    f.Name,
				Type:    FieldType(f.Type),
				Enabled: f.IsEnabled(),
				Weight:  f.Weight,
				Role:    Role(f.Role),
				Options: f.Options,
			})
		}
		if err := idx.Validate(); err != nil {
			return nil, fmt.Errorf("index %q: %w", ic.Handle, err)
		}
		out = append(out, idx)
	}
	return out, nil
}

func engineConfig(engine Engine, conn *config.Connection) EngineConfig {
	ec := EngineConfig{Engine: engine}
	if conn == nil {
		return ec
	}
	for _, h := range conn.Hosts {
		if h = strings.TrimSpace(h); h != "" {
			ec.Hosts = append(ec.Hosts, h)
		}
	}
	ec.APIKey = conn.APIKey
	ec.AppID = conn.AppID
	ec.Username = conn.Username
	ec.Password = conn.Password
	ec.InsecureSkipTLS = conn.InsecureSkipTLS
	ec.Timeout = conn.Timeout
	return ec
}

// Index returns the definition registered under handle
func (c *Client) Index(handle string) (*Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, handle)
	}
	return idx, nil
}

// Indexes returns every configured index in configuration order
func (c *Client) Indexes() []*Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Index, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, c.indexes[h])
	}
	return out
}

// Adapter returns the adapter serving handle
func (c *Client) Adapter(handle string) (Adapter, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	return c.adapterFor(idx)
}

func (c *Client) adapterFor(idx *Index) (Adapter, error) {
	cfg := EngineConfig{Engine: idx.Engine}
	if idx.Connection != nil {
		cfg = *idx.Connection
	}
	key := cfg.Key()

	c.mu.RLock()
	a, ok := c.adapters[key]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.adapters[key]; ok {
		return a, nil
	}
	var err error
	if c.factory != nil {
		a, err = c.factory(&cfg)
	} else {
		a, err = NewAdapter(&cfg)
	}
	if err != nil {
		return nil, err
	}
	c.adapters[key] = a
	return a, nil
}

func (c *Client) breaker(engine Engine) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil || c.cfg.Breaker == nil || !c.cfg.Breaker.Enabled {
		return nil
	}
	if cb, ok := c.breakers[engine]; ok {
		return cb
	}
	settings := c.cfg.Breaker
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "search-" + string(engine),
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsNotFound(err) || IsTranslation(err) || IsConfiguration(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf(context.Background(), "circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
	c.breakers[engine] = cb
	return cb
}

// run executes fn on the adapter of idx inside a span and the engine breaker
func (c *Client) run(ctx context.Context, idx *Index, op string, fn func(ctx context.Context, a Adapter) error) error {
	ctx, span := c.tracer.Start(ctx, "search."+op, trace.WithAttributes(
		attribute.String("search.engine", string(idx.Engine)),
		attribute.String("search.index", idx.PhysicalName()),
	))
	defer span.End()

	a, err := c.adapterFor(idx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	start := time.Now()
	if cb := c.breaker(idx.Engine); cb != nil {
		_, err = cb.Execute(func() (any, error) {
			return nil, fn(ctx, a)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &BackendError{Engine: idx.Engine, Op: op, Err: err}
		}
	} else {
		err = fn(ctx, a)
	}
	c.collector.SearchLatency(string(idx.Engine), op, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Search runs query against handle
func (c *Client) Search(ctx context.Context, handle, query string, opts Options) (*Result, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var res *Result
	err = c.run(ctx, idx, "search", func(ctx context.Context, a Adapter) error {
		var err error
		res, err = a.Search(ctx, idx, query, opts)
		return err
	})
	c.collector.SearchQuery(string(idx.Engine), err)
	return res, err
}

// MultiSearch runs every query, batching those served by the same adapter.
// Batches of different adapters run concurrently; results are returned in
// input order.
func (c *Client) MultiSearch(ctx context.Context, queries []MultiQuery) ([]*Result, error) {
	type group struct {
		idx       *Index
		positions []int
		queries   []Query
	}
	groups := make(map[string]*group)
	var keys []string
	for i, q := range queries {
		idx, err := c.Index(q.Handle)
		if err != nil {
			return nil, err
		}
		key := string(idx.Engine)
		if idx.Connection != nil {
			key = idx.Connection.Key()
		}
		g, ok := groups[key]
		if !ok {
			g = &group{idx: idx}
			groups[key] = g
			keys = append(keys, key)
		}
		g.positions = append(g.positions, i)
		g.queries = append(g.queries, Query{Index: idx, Query: q.Query, Options: q.Options})
	}
	sort.Strings(keys)

	out := make([]*Result, len(queries))
	err := concurrency.ForEach(ctx, c.parallelism, len(keys), func(ctx context.Context, k int) error {
		g := groups[keys[k]]
		var results []*Result
		err := c.run(ctx, g.idx, "multi_search", func(ctx context.Context, a Adapter) error {
			var err error
			results, err = a.MultiSearch(ctx, g.queries)
			return err
		})
		c.collector.SearchQuery(string(g.idx.Engine), err)
		if err != nil {
			return err
		}
		if len(results) != len(g.positions) {
			return &BackendError{
				Engine: g.idx.Engine,
				Op:     "multi_search",
				Err:    fmt.Errorf("expected %d results, got %d", len(g.positions), len(results)),
			}
		}
		for i, pos := range g.positions {
			out[pos] = results[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchFacetValues searches facet values of handle
func (c *Client) SearchFacetValues(ctx context.Context, handle string, req FacetValuesRequest) (map[string][]FacetCount, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var out map[string][]FacetCount
	err = c.run(ctx, idx, "facet_values", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.SearchFacetValues(ctx, idx, req)
		return err
	})
	c.collector.SearchQuery(string(idx.Engine), err)
	return out, err
}

// GetDocument returns a document, nil when absent
func (c *Client) GetDocument(ctx context.Context, handle, id string) (Document, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var doc Document
	err = c.run(ctx, idx, "get_document", func(ctx context.Context, a Adapter) error {
		var err error
		doc, err = a.GetDocument(ctx, idx, id)
		return err
	})
	return doc, err
}

// IndexDocuments upserts docs into handle
func (c *Client) IndexDocuments(ctx context.Context, handle string, docs []Document) (*BulkResult, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var res *BulkResult
	err = c.run(ctx, idx, "index_documents", func(ctx context.Context, a Adapter) error {
		var err error
		res, err = a.IndexDocuments(ctx, idx, docs)
		return err
	})
	c.collector.SearchIndex(string(idx.Engine), "index")
	return res, err
}

// DeleteDocuments removes ids from handle
func (c *Client) DeleteDocuments(ctx context.Context, handle string, ids []string) (*BulkResult, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var res *BulkResult
	err = c.run(ctx, idx, "delete_documents", func(ctx context.Context, a Adapter) error {
		var err error
		res, err = a.DeleteDocuments(ctx, idx, ids)
		return err
	})
	c.collector.SearchIndex(string(idx.Engine), "delete")
	return res, err
}

// GetDocumentCount counts the documents of handle
func (c *Client) GetDocumentCount(ctx context.Context, handle string) (int64, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.run(ctx, idx, "count", func(ctx context.Context, a Adapter) error {
		var err error
		n, err = a.GetDocumentCount(ctx, idx)
		return err
	})
	return n, err
}

// GetAllDocumentIDs lists every id of handle
func (c *Client) GetAllDocumentIDs(ctx context.Context, handle string) ([]string, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = c.run(ctx, idx, "document_ids", func(ctx context.Context, a Adapter) error {
		var err error
		ids, err = a.GetAllDocumentIDs(ctx, idx)
		return err
	})
	return ids, err
}

// GetIndexSchema returns the raw schema of handle
func (c *Client) GetIndexSchema(ctx context.Context, handle string) (map[string]any, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	err = c.run(ctx, idx, "schema", func(ctx context.Context, a Adapter) error {
		schema = a.GetIndexSchema(ctx, idx)
		return nil
	})
	return schema, err
}

// GetSchemaFields returns the canonical fields of handle
func (c *Client) GetSchemaFields(ctx context.Context, handle string) ([]SchemaField, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, err
	}
	var fields []SchemaField
	err = c.run(ctx, idx, "schema_fields", func(ctx context.Context, a Adapter) error {
		var err error
		fields, err = a.GetSchemaFields(ctx, idx)
		return err
	})
	return fields, err
}

// Ping tests the backend of every index, keyed by handle
func (c *Client) Ping(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, idx := range c.Indexes() {
		a, err := c.adapterFor(idx)
		if err != nil {
			logger.Warnf(ctx, "no adapter for index %s: %v", idx.Handle, err)
			out[idx.Handle] = false
			c.collector.HealthCheck(idx.Handle, false)
			continue
		}
		ok := a.TestConnection(ctx)
		out[idx.Handle] = ok
		c.collector.HealthCheck(idx.Handle, ok)
	}
	return out
}

// Swapper returns the swapper of handle, sharing the client locker
func (c *Client) Swapper(handle string) (*Swapper, *Index, error) {
	idx, err := c.Index(handle)
	if err != nil {
		return nil, nil, err
	}
	a, err := c.adapterFor(idx)
	if err != nil {
		return nil, nil, err
	}
	return NewSwapper(a, c.locker), idx, nil
}

// SwapOptions returns the configured rebuild options
func (c *Client) SwapOptions() SwapOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg == nil || c.cfg.Swap == nil {
		return SwapOptions{BatchSize: DefaultSwapBatchSize, Verify: true}
	}
	return SwapOptions{
		BatchSize:    c.cfg.Swap.BatchSize,
		AllowPartial: c.cfg.Swap.AllowPartial,
		Verify:       c.cfg.Swap.Verify,
	}
}

// Rebuild repopulates handle from src with the configured options
func (c *Client) Rebuild(ctx context.Context, handle string, src DocumentSource) (*SwapReport, error) {
	swapper, idx, err := c.Swapper(handle)
	if err != nil {
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, "search.rebuild", trace.WithAttributes(
		attribute.String("search.engine", string(idx.Engine)),
		attribute.String("search.index", idx.PhysicalName()),
	))
	defer span.End()

	report, err := swapper.Rebuild(ctx, idx, src, c.SwapOptions())
	c.collector.SearchIndex(string(idx.Engine), "rebuild")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}
