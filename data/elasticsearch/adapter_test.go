package elasticsearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/ncobase/nsearch/data/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method string
	path   string
	query  string
	body   []byte
}

// fakeCluster answers requests through handle and records them
type fakeCluster struct {
	mu       sync.Mutex
	requests []request
	handle   func(r request) (int, string)
}

func (f *fakeCluster) Perform(req *http.Request) (*http.Response, error) {
	r := request{method: req.Method, path: req.URL.Path, query: req.URL.RawQuery}
	if req.Body != nil {
		r.body, _ = io.ReadAll(req.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	status, body := http.StatusNotFound, `{}`
	if f.handle != nil {
		status, body = f.handle(r)
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func (f *fakeCluster) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.method + " " + r.path
	}
	return out
}

func (f *fakeCluster) last(method, path string) request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if r := f.requests[i]; r.method == method && r.path == path {
			return r
		}
	}
	return request{}
}

func ndjson(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestSearchResult(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		return http.StatusOK, `{
			"took": 7,
			"hits": {
				"total": {"value": 42, "relation": "eq"},
				"hits": [
					{"_id": "1", "_score": 1.5, "_source": {"title": "Pizza Roma", "price": 9.5, "location": {"lat": 41.9, "lon": 12.5}},
					 "highlight": {"title.keyword": ["<mark>Pizza</mark> Roma"]}},
					{"_id": "2", "_score": null, "_source": {"objectID": "2", "title": "Pasta"}}
				]
			},
			"aggregations": {
				"facet:category": {"buckets": [{"key": "bar", "doc_count": 3}, {"key": "cafe", "doc_count": 5}]},
				"stats:openedAt": {"min": 1700000000000, "max": 1700086400000},
				"histogram:price": {"buckets": [{"key": 0, "doc_count": 4}, {"key": 10, "doc_count": 1}]}
			},
			"suggest": {"phrase": [{"text": "piza", "options": [{"text": "pizza"}, {"text": "Pizza"}, {"text": "piza"}]}]}
		}`
	}}
	a := New(cluster, Elastic)

	res, err := a.Search(context.Background(), placesIndex(), "piza", search.Options{
		search.OptPerPage:   10,
		search.OptFacets:    []any{"category"},
		search.OptStats:     []any{"openedAt"},
		search.OptHistogram: map[string]any{"field": "price", "interval": 10},
		search.OptHighlight: true,
		search.OptSuggest:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"POST /dev_places/_search"}, cluster.calls())

	assert.Equal(t, int64(42), res.TotalHits)
	assert.Equal(t, 5, res.TotalPages)
	assert.Equal(t, int64(7), res.ProcessingTimeMs)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "1", res.Hits[0].ObjectID)
	assert.Equal(t, 1.5, res.Hits[0].Score)
	assert.Equal(t, map[string][]string{"title": {"<mark>Pizza</mark> Roma"}}, res.Hits[0].Highlights)
	assert.Equal(t, map[string]any{"lat": 41.9, "lng": 12.5}, res.Hits[0].Fields["location"])
	assert.Equal(t, "2", res.Hits[1].ObjectID)
	assert.Equal(t, 0.0, res.Hits[1].Score)

	assert.Equal(t, []search.FacetCount{{Value: "cafe", Count: 5}, {Value: "bar", Count: 3}}, res.Facets["category"])
	assert.Equal(t, search.Stat{Min: 1700000000, Max: 1700086400}, res.Stats["openedAt"])
	assert.Equal(t, []search.Bucket{{Key: 0, Count: 4}, {Key: 10, Count: 1}}, res.Histograms["price"])
	assert.Equal(t, []string{"pizza"}, res.Suggestions)
	assert.NotNil(t, res.Raw)
}

func TestSearchMissingIndex(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusNotFound, `{"error": {"type": "index_not_found_exception"}, "status": 404}`
	}}
	_, err := New(cluster, Elastic).Search(context.Background(), placesIndex(), "x", nil)
	require.Error(t, err)
	assert.True(t, search.IsNotFound(err))
	assert.ErrorIs(t, err, search.ErrBackend)
}

func TestIndexDocumentsReportsItemFailures(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		return http.StatusOK, `{"errors": true, "items": [
			{"index": {"_id": "1", "status": 201, "result": "created"}},
			{"index": {"_id": "2", "status": 400, "error": {"type": "mapper_parsing_exception", "reason": "failed to parse [price]"}}}
		]}`
	}}
	a := New(cluster, Elastic)

	res, err := a.IndexDocuments(context.Background(), placesIndex(), []search.Document{
		{"objectID": "1", "title": "Pizza", "openedAt": int64(1700000000000), "location": "41.9,12.5"},
		{"objectID": "2", "price": "cheap"},
		{"title": "no id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "document has no objectID", res.Failures[0].Reason)
	assert.Equal(t, search.ItemFailure{ID: "2", Status: 400, Reason: "mapper_parsing_exception: failed to parse [price]"}, res.Failures[1])

	req := cluster.last(http.MethodPost, "/dev_places/_bulk")
	assert.Equal(t, "refresh=wait_for", req.query)
	lines := ndjson(t, req.body)
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "1"}}, lines[0])
	assert.Equal(t, "2023-11-14T22:13:20Z", lines[1]["openedAt"])
	assert.Equal(t, map[string]any{"lat": 41.9, "lon": 12.5}, lines[1]["location"])
}

func TestIndexDocumentsAllRejected(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusOK, `{"errors": true, "items": [{"index": {"_id": "1", "status": 429, "error": {"type": "es_rejected_execution_exception", "reason": "queue full"}}}]}`
	}}
	res, err := New(cluster, Elastic).IndexDocuments(context.Background(), placesIndex(), []search.Document{{"objectID": "1"}})
	var bulkErr *search.BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 1, bulkErr.Total)
}

func TestDeleteDocumentsIgnoresMissing(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusOK, `{"errors": false, "items": [
			{"delete": {"_id": "1", "status": 200, "result": "deleted"}},
			{"delete": {"_id": "2", "status": 404, "result": "not_found"}}
		]}`
	}}
	res, err := New(cluster, Elastic).DeleteDocuments(context.Background(), placesIndex(), []string{"1", "2", "1", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Empty(t, res.Failures)

	lines := ndjson(t, cluster.last(http.MethodPost, "/dev_places/_bulk").body)
	assert.Equal(t, []map[string]any{
		{"delete": map[string]any{"_id": "1"}},
		{"delete": map[string]any{"_id": "2"}},
	}, lines)
}

func TestDeleteDocumentMissing(t *testing.T) {
	cluster := &fakeCluster{}
	require.NoError(t, New(cluster, Elastic).DeleteDocument(context.Background(), placesIndex(), "9"))
	assert.Equal(t, []string{"DELETE /dev_places/_doc/9"}, cluster.calls())
}

func TestGetDocumentFallsBackToSearch(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		switch r.method + " " + r.path {
		case "GET /dev_places/_doc/7":
			return http.StatusNotFound, `{"_id": "7", "found": false}`
		case "POST /dev_places/_search":
			return http.StatusOK, `{"hits": {"total": 1, "hits": [{"_id": "auto", "_source": {"objectID": "7", "title": "Found"}}]}}`
		}
		return http.StatusInternalServerError, `{}`
	}}
	doc, err := New(cluster, Elastic).GetDocument(context.Background(), placesIndex(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", doc.ID())
	assert.Equal(t, "Found", doc["title"])

	body := decode(t, cluster.last(http.MethodPost, "/dev_places/_search").body)
	assert.Equal(t, map[string]any{"term": map[string]any{"objectID": "7"}}, body["query"])
}

func TestGetDocumentAbsent(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		if r.method == http.MethodGet {
			return http.StatusOK, `{"_id": "7", "found": false}`
		}
		return http.StatusOK, `{"hits": {"total": {"value": 0}, "hits": []}}`
	}}
	doc, err := New(cluster, Elastic).GetDocument(context.Background(), placesIndex(), "7")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestMultiSearch(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusOK, `{"responses": [
			{"took": 1, "hits": {"total": {"value": 1}, "hits": [{"_id": "a", "_source": {"title": "A"}}]}, "status": 200},
			{"took": 2, "hits": {"total": {"value": 0}, "hits": []}, "status": 200}
		]}`
	}}
	idx := placesIndex()
	results, err := New(cluster, Elastic).MultiSearch(context.Background(), []search.Query{
		{Index: idx, Query: "a"},
		{Index: idx, Query: "b", Options: search.Options{search.OptPage: 3}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Hits[0].ObjectID)
	assert.Equal(t, 3, results[1].Page)

	lines := ndjson(t, cluster.last(http.MethodPost, "/_msearch").body)
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]any{"index": "dev_places"}, lines[0])
	assert.Equal(t, float64(40), lines[3]["from"])
}

func TestMultiSearchEntryError(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusOK, `{"responses": [{"error": {"type": "index_not_found_exception"}, "status": 404}]}`
	}}
	_, err := New(cluster, Elastic).MultiSearch(context.Background(), []search.Query{{Index: placesIndex(), Query: "a"}})
	assert.True(t, search.IsNotFound(err))
}

func TestSearchFacetValues(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusOK, `{"hits": {"total": 0, "hits": []}, "aggregations": {
			"facet:title": {"buckets": [{"key": "Politics", "doc_count": 2}, {"key": "Police", "doc_count": 4}]}
		}}`
	}}
	out, err := New(cluster, Elastic).SearchFacetValues(context.Background(), placesIndex(), search.FacetValuesRequest{
		Fields:      []string{"title"},
		Query:       "pol",
		MaxPerField: 5,
		Filters:     search.Options{"category": "bar"},
	})
	require.NoError(t, err)
	assert.Equal(t, []search.FacetCount{{Value: "Police", Count: 4}, {Value: "Politics", Count: 2}}, out["title"])

	body := decode(t, cluster.last(http.MethodPost, "/dev_places/_search").body)
	assert.Equal(t, float64(0), body["size"])
	terms := body["aggs"].(map[string]any)["facet:title"].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, "title.keyword", terms["field"])
	assert.Equal(t, ".*[pP][oO][lL].*", terms["include"])
	assert.Equal(t, float64(5), terms["size"])
	filter := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Equal(t, map[string]any{"term": map[string]any{"category": "bar"}}, filter[0])
}

func TestGetAllDocumentIDsPages(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		var body struct {
			SearchAfter []any `json:"search_after"`
		}
		_ = json.Unmarshal(r.body, &body)
		start, n := 0, idBatchSize
		if len(body.SearchAfter) > 0 {
			start, n = idBatchSize, 2
		}
		hits := make([]string, 0, n)
		for i := start; i < start+n; i++ {
			hits = append(hits, fmt.Sprintf(`{"_id": "%d", "sort": ["%06d"]}`, i, i))
		}
		return http.StatusOK, `{"hits": {"hits": [` + strings.Join(hits, ",") + `]}}`
	}}
	ids, err := New(cluster, Elastic).GetAllDocumentIDs(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Len(t, ids, idBatchSize+2)
	assert.Equal(t, "000000", ids[0])
	assert.Equal(t, "001001", ids[len(ids)-1])
	assert.Len(t, cluster.calls(), 2)
}

func TestGetDocumentCount(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) {
		return http.StatusOK, `{"count": 12}`
	}}
	n, err := New(cluster, Elastic).GetDocumentCount(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestSchema(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		return http.StatusOK, `{"dev_places_swap_a": {"mappings": {"properties": {
			"objectID": {"type": "keyword"},
			"title": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
			"price": {"type": "double"}
		}}}}`
	}}
	a := New(cluster, Elastic)
	schema := a.GetIndexSchema(context.Background(), placesIndex())
	assert.Equal(t, "dev_places_swap_a", schema["name"])

	fields, err := a.GetSchemaFields(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, []search.SchemaField{
		{Name: "price", Type: search.FieldFloat},
		{Name: "title", Type: search.FieldText},
	}, fields)
}

func TestSchemaFieldsInferredWhenMappingForbidden(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		if strings.HasSuffix(r.path, "/_mapping") {
			return http.StatusForbidden, `{"error": "security_exception"}`
		}
		return http.StatusOK, `{"hits": {"hits": [
			{"_id": "1", "_source": {"objectID": "1", "title": "Pizza Roma", "price": 9.5, "open": true}},
			{"_id": "2", "_source": {"objectID": "2", "title": "Pasta Bar", "price": 12}}
		]}}`
	}}
	a := New(cluster, Elastic)
	fields, err := a.GetSchemaFields(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, []search.SchemaField{
		{Name: "open", Type: search.FieldBoolean},
		{Name: "price", Type: search.FieldFloat},
		{Name: "title", Type: search.FieldText},
	}, fields)

	schema := a.GetIndexSchema(context.Background(), placesIndex())
	assert.Contains(t, schema["error"], "403")
}

func TestCreateIndexUpdatesExisting(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		if r.method == http.MethodPut && r.path == "/dev_places" {
			return http.StatusBadRequest, `{"error": {"type": "resource_already_exists_exception"}}`
		}
		return http.StatusOK, `{"acknowledged": true}`
	}}
	require.NoError(t, New(cluster, Elastic).CreateIndex(context.Background(), placesIndex()))
	assert.Equal(t, []string{"PUT /dev_places", "PUT /dev_places/_mapping"}, cluster.calls())

	body := decode(t, cluster.last(http.MethodPut, "/dev_places").body)
	props := body["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "geo_point"}, props["location"])
}

func TestDeleteIndexResolvesAlias(t *testing.T) {
	cluster := &fakeCluster{handle: func(r request) (int, string) {
		if r.path == "/_alias/dev_places" {
			return http.StatusOK, `{"dev_places_swap_b": {"aliases": {"dev_places": {}}}}`
		}
		return http.StatusNotFound, `{}`
	}}
	require.NoError(t, New(cluster, Elastic).DeleteIndex(context.Background(), placesIndex()))
	assert.Equal(t, []string{"GET /_alias/dev_places", "DELETE /dev_places_swap_b"}, cluster.calls())
}

func TestIndexExists(t *testing.T) {
	status := http.StatusOK
	cluster := &fakeCluster{handle: func(request) (int, string) { return status, `` }}
	a := New(cluster, Elastic)

	ok, err := a.IndexExists(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.True(t, ok)

	status = http.StatusNotFound
	ok, err = a.IndexExists(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.False(t, ok)

	status = http.StatusInternalServerError
	_, err = a.IndexExists(context.Background(), placesIndex())
	assert.Equal(t, http.StatusInternalServerError, search.StatusOf(err))
}

func TestTestConnection(t *testing.T) {
	cluster := &fakeCluster{handle: func(request) (int, string) { return http.StatusOK, `` }}
	assert.True(t, New(cluster, Elastic).TestConnection(context.Background()))
	assert.False(t, New(&fakeCluster{}, Elastic).TestConnection(context.Background()))
}
