package typesense

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/data/typesense/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

type handler func(r request) (int, string)

// fakeServer answers "METHOD /path" routes; unknown routes are 404
type fakeServer struct {
	mu       sync.Mutex
	routes   map[string]handler
	requests []request
}

func newFakeServer(t *testing.T) (*fakeServer, *Adapter) {
	t.Helper()
	f := &fakeServer{routes: make(map[string]handler)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	ts, err := client.NewClient(&search.EngineConfig{Engine: search.Typesense, Hosts: []string{srv.URL}, APIKey: "key"})
	require.NoError(t, err)
	return f, New(ts)
}

func (f *fakeServer) on(route string, h handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = h
}

func (f *fakeServer) reply(route string, status int, body string) {
	f.on(route, func(request) (int, string) { return status, body })
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := request{method: r.Method, path: r.URL.Path, query: r.URL.Query(), body: body}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	h := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	status, resp := http.StatusNotFound, `{"message": "Not Found"}`
	if h != nil {
		status, resp = h(req)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (f *fakeServer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.method + " " + r.path
	}
	return out
}

func (f *fakeServer) last(route string) request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if r := f.requests[i]; r.method+" "+r.path == route {
			return r
		}
	}
	return request{}
}

func jsonl(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

const collectionBody = `{
	"name": "dev_places",
	"num_documents": 7,
	"created_at": 1,
	"default_sorting_field": "",
	"fields": [
		{"name": "objectID", "type": "string", "optional": true},
		{"name": "title", "type": "string", "optional": true},
		{"name": "price", "type": "float", "facet": true, "optional": true}
	]
}`

func TestTestConnection(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /health", http.StatusOK, `{"ok": true}`)
	assert.True(t, a.TestConnection(context.Background()))

	f.reply("GET /health", http.StatusOK, `{"ok": false}`)
	assert.False(t, a.TestConnection(context.Background()))
}

func TestNewAdapterNeedsCredentials(t *testing.T) {
	_, err := newAdapter(&search.EngineConfig{Engine: search.Typesense})
	assert.True(t, search.IsConfiguration(err))
	_, err = newAdapter(&search.EngineConfig{Engine: search.Typesense, Hosts: []string{"http://localhost:8108"}})
	assert.True(t, search.IsConfiguration(err))
}

func TestCreateIndex(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("POST /collections", http.StatusCreated, collectionBody)

	require.NoError(t, a.CreateIndex(context.Background(), placesIndex()))
	var schema map[string]any
	require.NoError(t, json.Unmarshal(f.last("POST /collections").body, &schema))
	assert.Equal(t, "dev_places", schema["name"])
	assert.Equal(t, true, schema["enable_nested_fields"])
	assert.NotEmpty(t, schema["fields"])
}

func TestCreateIndexUpdatesExisting(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("POST /collections", http.StatusConflict, `{"message": "A collection with name dev_places already exists."}`)
	f.reply("GET /collections/dev_places", http.StatusOK, collectionBody)
	f.reply("PATCH /collections/dev_places", http.StatusOK, `{"fields": []}`)

	require.NoError(t, a.CreateIndex(context.Background(), placesIndex()))

	var update struct {
		Fields []map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(f.last("PATCH /collections/dev_places").body, &update))
	var names []string
	for _, fld := range update.Fields {
		names = append(names, fld["name"].(string))
	}
	assert.NotContains(t, names, "title")
	assert.Contains(t, names, "body")
	assert.Contains(t, names, "vec")
	// price keeps its type, so it is left alone
	assert.NotContains(t, names, "price")
}

func TestDeleteIndexFollowsAlias(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /aliases/dev_places", http.StatusOK, `{"name": "dev_places", "collection_name": "dev_places_swap_a"}`)
	f.reply("DELETE /aliases/dev_places", http.StatusOK, `{"name": "dev_places", "collection_name": "dev_places_swap_a"}`)
	f.reply("DELETE /collections/dev_places_swap_a", http.StatusOK, collectionBody)

	require.NoError(t, a.DeleteIndex(context.Background(), placesIndex()))
	assert.Equal(t, []string{
		"GET /aliases/dev_places",
		"DELETE /aliases/dev_places",
		"DELETE /collections/dev_places_swap_a",
	}, f.calls())
}

func TestDeleteIndexMissing(t *testing.T) {
	_, a := newFakeServer(t)
	require.NoError(t, a.DeleteIndex(context.Background(), placesIndex()))
}

func TestIndexDocumentsReportsItemFailures(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("POST /collections/dev_places/documents/import", http.StatusOK,
		`{"success": true}`+"\n"+`{"success": false, "error": "Field price must be a float.", "document": "{}"}`)

	res, err := a.IndexDocuments(context.Background(), placesIndex(), []search.Document{
		{"objectID": "1", "title": "Pizza", "location": map[string]any{"lat": 41.9, "lng": 12.5}, "openedAt": 1700000000000},
		{"objectID": "2", "price": "cheap"},
		{"title": "no id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "2", res.Failures[1].ID)
	assert.Equal(t, "Field price must be a float.", res.Failures[1].Reason)

	r := f.last("POST /collections/dev_places/documents/import")
	assert.Equal(t, "upsert", r.query.Get("action"))
	docs := jsonl(t, r.body)
	require.Len(t, docs, 2)
	assert.Equal(t, "1", docs[0]["id"])
	assert.Equal(t, []any{41.9, 12.5}, docs[0]["location"])
	assert.Equal(t, float64(1700000000), docs[0]["openedAt"])
}

func TestIndexDocumentsAllRejected(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("POST /collections/dev_places/documents/import", http.StatusOK, `{"success": false, "error": "bad"}`)

	_, err := a.IndexDocuments(context.Background(), placesIndex(), []search.Document{{"objectID": "1"}})
	var bulk *search.BulkError
	require.True(t, errors.As(err, &bulk))
	assert.Len(t, bulk.Failures, 1)
}

func TestDeleteDocuments(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("DELETE /collections/dev_places/documents", http.StatusOK, `{"num_deleted": 2}`)

	res, err := a.DeleteDocuments(context.Background(), placesIndex(), []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "id:[`a`,`b`]", f.last("DELETE /collections/dev_places/documents").query.Get("filter_by"))
}

func TestDeleteDocumentsWithBacktickID(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("DELETE /collections/dev_places/documents", http.StatusOK, `{"num_deleted": 1}`)
	f.reply("DELETE /collections/dev_places/documents/x`y", http.StatusOK, `{"id": "x`+"`"+`y"}`)

	res, err := a.DeleteDocuments(context.Background(), placesIndex(), []string{"a", "x`y"})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, "id:[`a`]", f.last("DELETE /collections/dev_places/documents").query.Get("filter_by"))
	assert.Contains(t, f.calls(), "DELETE /collections/dev_places/documents/x`y")
}

func TestDeleteDocumentMissing(t *testing.T) {
	_, a := newFakeServer(t)
	require.NoError(t, a.DeleteDocument(context.Background(), placesIndex(), "nope"))
}

func TestGetDocument(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places/documents/1", http.StatusOK, `{"id": "1", "objectID": "1", "title": "Pizza"}`)

	doc, err := a.GetDocument(context.Background(), placesIndex(), "1")
	require.NoError(t, err)
	assert.Equal(t, search.Document{"objectID": "1", "title": "Pizza"}, doc)
}

func TestGetDocumentFallsBackToSearch(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places/documents/search", http.StatusOK, `{
		"found": 1, "out_of": 1, "page": 1, "search_time_ms": 1,
		"hits": [{"document": {"id": "x9", "objectID": "7", "title": "Pizza"}, "highlights": []}]
	}`)

	doc, err := a.GetDocument(context.Background(), placesIndex(), "7")
	require.NoError(t, err)
	assert.Equal(t, search.Document{"objectID": "7", "title": "Pizza"}, doc)
	assert.Equal(t, "objectID:=`7`", f.last("GET /collections/dev_places/documents/search").query.Get("filter_by"))
}

func TestGetDocumentAbsent(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places/documents/search", http.StatusOK, `{"found": 0, "out_of": 0, "page": 1, "search_time_ms": 0, "hits": []}`)
	doc, err := a.GetDocument(context.Background(), placesIndex(), "7")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSearchResult(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places/documents/search", http.StatusOK, `{
		"found": 21, "out_of": 30, "page": 1, "search_time_ms": 4,
		"hits": [{
			"document": {"id": "1", "objectID": "1", "title": "Pizza Roma", "location": [41.9, 12.5]},
			"highlights": [{"field": "title", "snippet": "<mark>Pizza</mark> Roma", "matched_tokens": ["Pizza"]}],
			"text_match": 578730123365187705
		}],
		"facet_counts": [
			{"field_name": "category", "counts": [{"value": "bar", "count": 3}, {"value": "cafe", "count": 5}], "stats": {"total_values": 2}},
			{"field_name": "price", "counts": [], "stats": {"min": 2, "max": 30, "avg": 10, "sum": 60, "total_values": 6}}
		]
	}`)

	res, err := a.Search(context.Background(), placesIndex(), "pizza", search.Options{
		search.OptPerPage:   10,
		search.OptFacets:    []any{"category"},
		search.OptStats:     []any{"price"},
		search.OptHighlight: true,
		search.OptFilters:   map[string]any{"category": "cafe"},
	})
	require.NoError(t, err)

	q := f.last("GET /collections/dev_places/documents/search").query
	assert.Equal(t, "pizza", q.Get("q"))
	assert.Equal(t, "category,price", q.Get("facet_by"))
	assert.Equal(t, "category:=`cafe`", q.Get("filter_by"))
	assert.Equal(t, "10", q.Get("per_page"))

	assert.Equal(t, int64(21), res.TotalHits)
	assert.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Hits, 1)
	hit := res.Hits[0]
	assert.Equal(t, "1", hit.ObjectID)
	assert.Positive(t, hit.Score)
	assert.NotContains(t, hit.Fields, "id")
	assert.Equal(t, map[string]any{"lat": 41.9, "lng": 12.5}, hit.Fields["location"])
	assert.Equal(t, []string{"<mark>Pizza</mark> Roma"}, hit.Highlights["title"])
	assert.Equal(t, []search.FacetCount{{Value: "cafe", Count: 5}, {Value: "bar", Count: 3}}, res.Facets["category"])
	assert.Equal(t, search.Stat{Min: 2, Max: 30}, res.Stats["price"])
}

func TestSearchHistogramUsesRangeFacets(t *testing.T) {
	f, a := newFakeServer(t)
	f.on("GET /collections/dev_places/documents/search", func(r request) (int, string) {
		if r.query.Get("per_page") == "0" {
			return http.StatusOK, `{"found": 6, "hits": [], "facet_counts": [
				{"field_name": "price", "counts": [], "stats": {"min": 3, "max": 25}}
			]}`
		}
		return http.StatusOK, `{"found": 6, "hits": [], "facet_counts": [
			{"field_name": "price", "counts": [{"value": "r2", "count": 2}, {"value": "r0", "count": 4}]}
		]}`
	})

	res, err := a.Search(context.Background(), placesIndex(), "", search.Options{
		search.OptHistogram: map[string]any{"field": "price", "interval": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, []search.Bucket{{Key: 0, Count: 4}, {Key: 10, Count: 0}, {Key: 20, Count: 2}}, res.Histograms["price"])
	assert.Equal(t, "price(r0:[0, 10], r1:[10, 20], r2:[20, 30])",
		f.last("GET /collections/dev_places/documents/search").query.Get("facet_by"))
}

func TestSearchMissingCollection(t *testing.T) {
	_, a := newFakeServer(t)
	_, err := a.Search(context.Background(), placesIndex(), "pizza", nil)
	assert.True(t, search.IsNotFound(err))
}

func TestMultiSearch(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("POST /multi_search", http.StatusOK, `{"results": [
		{"found": 1, "hits": [{"document": {"id": "a"}}]},
		{"found": 0, "hits": []}
	]}`)

	results, err := a.MultiSearch(context.Background(), []search.Query{
		{Index: placesIndex(), Query: "pizza"},
		{Index: placesIndex(), Query: "sushi"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Hits[0].ObjectID)
	assert.Empty(t, results[1].Hits)

	var body struct {
		Searches []map[string]any `json:"searches"`
	}
	require.NoError(t, json.Unmarshal(f.last("POST /multi_search").body, &body))
	require.Len(t, body.Searches, 2)
	assert.Equal(t, "dev_places", body.Searches[0]["collection"])
	assert.Equal(t, "sushi", body.Searches[1]["q"])
}

func TestSearchFacetValues(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("POST /multi_search", http.StatusOK, `{"results": [
		{"found": 9, "hits": [], "facet_counts": [{"field_name": "category", "counts": [{"value": "cafe", "count": 5}, {"value": "cabaret", "count": 7}]}]}
	]}`)

	got, err := a.SearchFacetValues(context.Background(), placesIndex(), search.FacetValuesRequest{
		Fields:  []string{"category"},
		Query:   "ca",
		Filters: map[string]any{"price": map[string]any{"max": 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, []search.FacetCount{{Value: "cabaret", Count: 7}, {Value: "cafe", Count: 5}}, got["category"])

	var body struct {
		Searches []map[string]any `json:"searches"`
	}
	require.NoError(t, json.Unmarshal(f.last("POST /multi_search").body, &body))
	assert.Equal(t, "category:ca", body.Searches[0]["facet_query"])
	assert.Equal(t, "price:<=10", body.Searches[0]["filter_by"])
}

func TestGetDocumentCount(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places", http.StatusOK, collectionBody)
	n, err := a.GetDocumentCount(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestGetAllDocumentIDs(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places/documents/export", http.StatusOK,
		strings.Join([]string{`{"id": "a", "title": "x"}`, `{"id": "b"}`, `{"id": "a"}`, ``}, "\n"))

	ids, err := a.GetAllDocumentIDs(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFlushIndex(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places/documents/export", http.StatusOK, `{"id": "a"}`+"\n"+`{"id": "b"}`)
	f.reply("DELETE /collections/dev_places/documents", http.StatusOK, `{"num_deleted": 2}`)

	require.NoError(t, a.FlushIndex(context.Background(), placesIndex()))
	assert.Equal(t, "id:[`a`,`b`]", f.last("DELETE /collections/dev_places/documents").query.Get("filter_by"))
}

func TestSchema(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places", http.StatusOK, collectionBody)

	fields, err := a.GetSchemaFields(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, []search.SchemaField{
		{Name: "price", Type: search.FieldFloat},
		{Name: "title", Type: search.FieldText},
	}, fields)

	schema := a.GetIndexSchema(context.Background(), placesIndex())
	assert.Equal(t, "dev_places", schema["name"])
}

func TestSchemaFieldsInferredWhenForbidden(t *testing.T) {
	f, a := newFakeServer(t)
	f.reply("GET /collections/dev_places", http.StatusForbidden, `{"message": "Forbidden"}`)
	f.reply("GET /collections/dev_places/documents/search", http.StatusOK, `{"found": 2, "hits": [
		{"document": {"id": "1", "title": "Pizza Roma", "price": 9.5}},
		{"document": {"id": "2", "title": "Pasta Bar", "price": 12.5}}
	]}`)

	fields, err := a.GetSchemaFields(context.Background(), placesIndex())
	require.NoError(t, err)
	assert.Equal(t, []search.SchemaField{
		{Name: "price", Type: search.FieldFloat},
		{Name: "title", Type: search.FieldText},
	}, fields)

	assert.Contains(t, a.GetIndexSchema(context.Background(), placesIndex()), "error")
}
