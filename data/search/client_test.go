package search_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/data/metrics"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/data/search/searchtest"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSearchConfig() *config.Search {
	prefix := ""
	return &config.Search{
		IndexPrefix:   "dev_",
		DefaultEngine: config.EngineMeilisearch,
		Meilisearch:   &config.Meilisearch{Host: "http://localhost:7700", APIKey: "master"},
		Typesense:     &config.Typesense{Nodes: []string{"http://localhost:8108"}, APIKey: "xyz"},
		Indexes: []*config.Index{
			{
				Handle: "articles",
				Fields: []*config.Field{
					{Name: "title", Type: "text", Role: "title", Weight: 3},
					{Name: "section", Type: "facet"},
					{Name: "price", Type: "float"},
				},
			},
			{
				Handle: "products",
				Engine: config.EngineTypesense,
				Prefix: &prefix,
				Fields: []*config.Field{
					{Name: "name", Type: "text"},
				},
			},
		},
		Swap: &config.Swap{BatchSize: 2, Verify: true},
	}
}

// adapters hands out one memory adapter per engine
func adapters(memories map[search.Engine]*searchtest.Memory) search.AdapterFactory {
	return func(cfg *search.EngineConfig) (search.Adapter, error) {
		m, ok := memories[cfg.Engine]
		if !ok {
			return nil, search.ErrNoAdapter
		}
		return m, nil
	}
}

func newTestClient(t *testing.T, cfg *config.Search, opts ...search.ClientOption) (*search.Client, map[search.Engine]*searchtest.Memory) {
	t.Helper()
	memories := map[search.Engine]*searchtest.Memory{
		search.Meilisearch: searchtest.NewMemory(search.Meilisearch, true),
		search.Typesense:   searchtest.NewMemory(search.Typesense, true),
	}
	opts = append(opts, search.WithAdapterFactory(adapters(memories)))
	c, err := search.NewClient(cfg, opts...)
	require.NoError(t, err)
	return c, memories
}

func TestIndexesFromConfig(t *testing.T) {
	indexes, err := search.IndexesFromConfig(testSearchConfig())
	require.NoError(t, err)
	require.Len(t, indexes, 2)

	articles := indexes[0]
	assert.Equal(t, search.Meilisearch, articles.Engine)
	assert.Equal(t, "dev_articles", articles.PhysicalName())
	assert.Equal(t, "http://localhost:7700", articles.Connection.Host())
	assert.Equal(t, "master", articles.Connection.APIKey)
	assert.True(t, articles.Fields[0].Enabled)

	products := indexes[1]
	assert.Equal(t, search.Typesense, products.Engine)
	assert.Equal(t, "products", products.PhysicalName())
	assert.Equal(t, "xyz", products.Connection.APIKey)

	bad := testSearchConfig()
	bad.Indexes[0].Fields[1].Role = "title"
	_, err = search.IndexesFromConfig(bad)
	assert.True(t, search.IsConfiguration(err))
}

func TestClientSearch(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewMemoryCollector()
	c, _ := newTestClient(t, testSearchConfig(), search.WithCollector(collector))

	_, err := c.IndexDocuments(ctx, "articles", []search.Document{
		{"objectID": "1", "title": "Go in production", "section": "news", "price": 10},
		{"objectID": "2", "title": "Search engines", "section": "blog", "price": 20},
	})
	require.NoError(t, err)

	res, err := c.Search(ctx, "articles", "go", search.Options{search.OptFacets: []any{"section"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.TotalHits)
	assert.Equal(t, "1", res.Hits[0].ObjectID)
	assert.Equal(t, []search.FacetCount{{Value: "news", Count: 1}}, res.Facets["section"])

	doc, err := c.GetDocument(ctx, "articles", "2")
	require.NoError(t, err)
	assert.Equal(t, "Search engines", doc["title"])

	n, err := c.GetDocumentCount(ctx, "articles")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ids, err := c.GetAllDocumentIDs(ctx, "articles")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	_, err = c.DeleteDocuments(ctx, "articles", []string{"1"})
	require.NoError(t, err)

	stats := collector.Stats()
	assert.EqualValues(t, 1, stats["search_queries"])
	assert.EqualValues(t, 0, stats["search_errors"])
	ops := stats["operations"].(map[string]int64)
	assert.EqualValues(t, 1, ops["meilisearch:index"])
	assert.EqualValues(t, 1, ops["meilisearch:delete"])
}

func TestClientUnknownHandle(t *testing.T) {
	c, _ := newTestClient(t, testSearchConfig())
	_, err := c.Search(context.Background(), "missing", "", nil)
	assert.ErrorIs(t, err, search.ErrIndexNotFound)
	_, err = c.MultiSearch(context.Background(), []search.MultiQuery{{Handle: "missing"}})
	assert.ErrorIs(t, err, search.ErrIndexNotFound)
}

func TestClientMultiSearchKeepsOrder(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, testSearchConfig())
	_, err := c.IndexDocuments(ctx, "articles", []search.Document{{"objectID": "a1", "title": "alpha"}})
	require.NoError(t, err)
	_, err = c.IndexDocuments(ctx, "products", []search.Document{{"objectID": "p1", "name": "beta"}, {"objectID": "p2", "name": "gamma"}})
	require.NoError(t, err)

	results, err := c.MultiSearch(ctx, []search.MultiQuery{
		{Handle: "products", Query: "gamma"},
		{Handle: "articles", Query: "alpha"},
		{Handle: "products"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "p2", results[0].Hits[0].ObjectID)
	assert.Equal(t, "a1", results[1].Hits[0].ObjectID)
	assert.EqualValues(t, 2, results[2].TotalHits)
}

func TestClientMultiSearchFailingAdapter(t *testing.T) {
	ctx := context.Background()
	c, memories := newTestClient(t, testSearchConfig(), search.WithParallelism(1))
	_, err := c.IndexDocuments(ctx, "articles", []search.Document{{"objectID": "a1", "title": "alpha"}})
	require.NoError(t, err)
	_, err = c.IndexDocuments(ctx, "products", []search.Document{{"objectID": "p1", "name": "beta"}})
	require.NoError(t, err)

	memories[search.Typesense].Fail["Search"] = &search.BackendError{Engine: search.Typesense, Op: "search", Status: 503}
	_, err = c.MultiSearch(ctx, []search.MultiQuery{
		{Handle: "articles", Query: "alpha"},
		{Handle: "products", Query: "beta"},
	})
	assert.ErrorIs(t, err, search.ErrBackend)
	assert.Equal(t, 503, search.StatusOf(err))
}

func TestClientFacetValuesAndSchema(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, testSearchConfig())
	_, err := c.IndexDocuments(ctx, "articles", []search.Document{
		{"objectID": "1", "title": "one", "section": "Politics"},
		{"objectID": "2", "title": "two", "section": "Sport"},
		{"objectID": "3", "title": "three", "section": "Politics"},
	})
	require.NoError(t, err)

	values, err := c.SearchFacetValues(ctx, "articles", search.FacetValuesRequest{Fields: []string{"section"}, Query: "pol"})
	require.NoError(t, err)
	assert.Equal(t, []search.FacetCount{{Value: "Politics", Count: 2}}, values["section"])

	schema, err := c.GetIndexSchema(ctx, "articles")
	require.NoError(t, err)
	assert.Equal(t, "dev_articles", schema["name"])

	fields, err := c.GetSchemaFields(ctx, "articles")
	require.NoError(t, err)
	assert.Contains(t, fields, search.SchemaField{Name: "section", Type: search.FieldKeyword})
}

func TestClientPing(t *testing.T) {
	collector := metrics.NewMemoryCollector()
	c, memories := newTestClient(t, testSearchConfig(), search.WithCollector(collector))
	memories[search.Typesense].Reachable = false

	assert.Equal(t, map[string]bool{"articles": true, "products": false}, c.Ping(context.Background()))
	health := collector.Stats()["health"].(map[string]bool)
	assert.False(t, health["products"])
}

func TestClientReload(t *testing.T) {
	c, _ := newTestClient(t, testSearchConfig())
	cfg := testSearchConfig()
	cfg.Indexes = cfg.Indexes[:1]
	require.NoError(t, c.Reload(cfg))

	_, err := c.Index("products")
	assert.ErrorIs(t, err, search.ErrIndexNotFound)
	assert.Len(t, c.Indexes(), 1)
	assert.Error(t, c.Reload(nil))
}

func TestClientBreaker(t *testing.T) {
	ctx := context.Background()
	cfg := testSearchConfig()
	cfg.Breaker = &config.Breaker{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 2,
	}
	c, memories := newTestClient(t, cfg)
	m := memories[search.Meilisearch]

	// missing stores are not backend failures
	for i := 0; i < 3; i++ {
		_, err := c.Search(ctx, "articles", "", nil)
		assert.True(t, search.IsNotFound(err))
	}

	_, err := c.IndexDocuments(ctx, "articles", []search.Document{{"objectID": "1", "title": "x"}})
	require.NoError(t, err)

	m.Fail["Search"] = errors.New("connection refused")
	for i := 0; i < 2; i++ {
		_, err := c.Search(ctx, "articles", "", nil)
		require.Error(t, err)
	}

	delete(m.Fail, "Search")
	_, err = c.Search(ctx, "articles", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, search.ErrBackend)

	// other engines keep their own breaker
	_, err = c.Search(ctx, "products", "", nil)
	assert.True(t, search.IsNotFound(err))
}

func TestClientRebuild(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewMemoryCollector()
	c, memories := newTestClient(t, testSearchConfig(), search.WithCollector(collector))
	_, err := c.IndexDocuments(ctx, "articles", []search.Document{{"objectID": "old", "title": "old"}})
	require.NoError(t, err)

	report, err := c.Rebuild(ctx, "articles", search.SliceSource{
		{"objectID": "1", "title": "one"},
		{"objectID": "2", "title": "two"},
		{"objectID": "3", "title": "three"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dev_articles_swap", report.Target)
	assert.EqualValues(t, 3, report.Count)
	assert.Equal(t, []string{"dev_articles_swap"}, memories[search.Meilisearch].Stores())

	ops := collector.Stats()["operations"].(map[string]int64)
	assert.EqualValues(t, 1, ops["meilisearch:rebuild"])

	_, err = c.Rebuild(ctx, "missing", search.SliceSource{})
	assert.ErrorIs(t, err, search.ErrIndexNotFound)
}
