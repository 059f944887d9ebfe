// Package elasticsearch implements search.Adapter for Elasticsearch and
// every engine speaking its REST API. Engine differences are carried by a
// Flavor; the opensearch package registers the OpenSearch one.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/utils/convert"
)

const (
	// refresh mode of writes; returns once the change is searchable
	refreshWaitFor = "wait_for"
	// idBatchSize is the page size of id enumeration
	idBatchSize = 1000
)

// Adapter is the Elasticsearch-compatible search.Adapter
type Adapter struct {
	transport Transport
	flavor    Flavor
	mapper    Mapper

	// handle -> suggest field
	suggest sync.Map
}

var _ search.Adapter = (*Adapter)(nil)

// New creates an adapter sending requests through transport
func New(transport Transport, flavor Flavor) *Adapter {
	return &Adapter{transport: transport, flavor: flavor, mapper: NewMapper(flavor)}
}

// Engine implements search.Adapter
func (a *Adapter) Engine() search.Engine { return a.flavor.Engine }

// DisplayName implements search.Adapter
func (a *Adapter) DisplayName() string { return a.flavor.DisplayName }

// Mapper returns the schema mapper of the adapter
func (a *Adapter) Mapper() Mapper { return a.mapper }

// perform sends req and reads the whole response body
func (a *Adapter) perform(ctx context.Context, op string, req esapi.Request) ([]byte, int, error) {
	res, err := req.Do(ctx, a.transport)
	if err != nil {
		return nil, 0, search.NewBackendError(a.flavor.Engine, op, 0, "", err)
	}
	if res.Body == nil {
		return nil, res.StatusCode, nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, search.NewBackendError(a.flavor.Engine, op, res.StatusCode, "", err)
	}
	return body, res.StatusCode, nil
}

// call is perform with non-2xx responses turned into BackendErrors
func (a *Adapter) call(ctx context.Context, op string, req esapi.Request) ([]byte, error) {
	body, status, err := a.perform(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusMultipleChoices {
		return body, a.statusError(op, status, body)
	}
	return body, nil
}

func (a *Adapter) statusError(op string, status int, body []byte) error {
	if a.flavor.IsNotFound(status, body) {
		status = http.StatusNotFound
	}
	return &search.BackendError{Engine: a.flavor.Engine, Op: op, Status: status, Body: string(body)}
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// TestConnection implements search.Adapter
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if _, err := a.call(ctx, "ping", esapi.PingRequest{}); err != nil {
		logger.Warnf(ctx, "%s connection test failed: %v", a.flavor.DisplayName, err)
		return false
	}
	return true
}

// CreateIndex implements search.Adapter; an existing store gets its mapping updated
func (a *Adapter) CreateIndex(ctx context.Context, idx *search.Index) error {
	props, hasVector, err := a.mapper.Properties(idx)
	if err != nil {
		return err
	}
	body, err := jsonBody(map[string]any{
		"settings": a.flavor.IndexSettings(hasVector),
		"mappings": map[string]any{"properties": props},
	})
	if err != nil {
		return err
	}
	raw, status, err := a.perform(ctx, "create_index", esapi.IndicesCreateRequest{Index: idx.PhysicalName(), Body: body})
	if err != nil {
		return err
	}
	if status == http.StatusBadRequest && bytes.Contains(raw, []byte("resource_already_exists_exception")) {
		return a.UpdateIndexSettings(ctx, idx)
	}
	if status >= http.StatusMultipleChoices {
		return a.statusError("create_index", status, raw)
	}
	a.suggest.Delete(idx.Handle)
	return nil
}

// UpdateIndexSettings implements search.Adapter
func (a *Adapter) UpdateIndexSettings(ctx context.Context, idx *search.Index) error {
	props, _, err := a.mapper.Properties(idx)
	if err != nil {
		return err
	}
	body, err := jsonBody(map[string]any{"properties": props})
	if err != nil {
		return err
	}
	a.suggest.Delete(idx.Handle)
	_, err = a.call(ctx, "update_settings", esapi.IndicesPutMappingRequest{Index: []string{idx.PhysicalName()}, Body: body})
	return err
}

// DeleteIndex implements search.Adapter. An alias is deleted together
// with the stores behind it.
func (a *Adapter) DeleteIndex(ctx context.Context, idx *search.Index) error {
	targets, err := a.concreteIndexes(ctx, idx.PhysicalName())
	if err != nil {
		return err
	}
	_, err = a.call(ctx, "delete_index", esapi.IndicesDeleteRequest{Index: targets})
	if search.IsNotFound(err) {
		return nil
	}
	a.suggest.Delete(idx.Handle)
	return err
}

// IndexExists implements search.Adapter
func (a *Adapter) IndexExists(ctx context.Context, idx *search.Index) (bool, error) {
	return a.exists(ctx, idx.PhysicalName())
}

func (a *Adapter) exists(ctx context.Context, name string) (bool, error) {
	raw, status, err := a.perform(ctx, "index_exists", esapi.IndicesExistsRequest{Index: []string{name}})
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	}
	return false, a.statusError("index_exists", status, raw)
}

// prepare converts doc to the stored representation
func prepare(idx *search.Index, doc search.Document) search.Document {
	types := idx.FieldTypes()
	out := doc.NormalizeDates(types, search.DateISO8601)
	for name, t := range types {
		if t != search.FieldGeoPoint {
			continue
		}
		if v, ok := out[name]; ok && v != nil {
			if p, err := search.ParseGeoPoint(v); err == nil {
				out[name] = geoPoint(p)
			}
		}
	}
	return out
}

// IndexDocument implements search.Adapter
func (a *Adapter) IndexDocument(ctx context.Context, idx *search.Index, doc search.Document) error {
	id := doc.ID()
	if id == "" {
		return &search.TranslationError{Engine: a.flavor.Engine, Field: search.ObjectIDKey, Reason: "document has no objectID"}
	}
	body, err := jsonBody(prepare(idx, doc))
	if err != nil {
		return err
	}
	_, err = a.call(ctx, "index_document", esapi.IndexRequest{
		Index:      idx.PhysicalName(),
		DocumentID: id,
		Body:       body,
		Refresh:    refreshWaitFor,
	})
	return err
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// bulk sends an NDJSON body and collects rejected items. ignoreNotFound
// counts 404 items as done.
func (a *Adapter) bulk(ctx context.Context, op, index string, body *bytes.Buffer, total int, failures []search.ItemFailure, ignoreNotFound bool) (*search.BulkResult, error) {
	if body.Len() > 0 {
		raw, err := a.call(ctx, op, esapi.BulkRequest{Index: index, Body: body, Refresh: refreshWaitFor})
		if err != nil {
			return nil, err
		}
		var resp bulkResponse
		if err := convert.DecodeJSON(raw, &resp); err != nil {
			return nil, search.NewBackendError(a.flavor.Engine, op, 0, string(raw), err)
		}
		for _, item := range resp.Items {
			for _, outcome := range item {
				if outcome.Status < http.StatusMultipleChoices {
					continue
				}
				if ignoreNotFound && outcome.Status == http.StatusNotFound {
					continue
				}
				reason := outcome.Result
				if outcome.Error != nil {
					reason = outcome.Error.Type + ": " + outcome.Error.Reason
				}
				failures = append(failures, search.ItemFailure{ID: outcome.ID, Status: outcome.Status, Reason: reason})
			}
		}
	}
	res := search.NewBulkResult(op, total, failures)
	return res, res.Err(a.flavor.Engine)
}

// IndexDocuments implements search.Adapter with one _bulk request
func (a *Adapter) IndexDocuments(ctx context.Context, idx *search.Index, docs []search.Document) (*search.BulkResult, error) {
	var body bytes.Buffer
	var failures []search.ItemFailure
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			failures = append(failures, search.ItemFailure{Reason: "document has no objectID"})
			continue
		}
		source, err := json.Marshal(prepare(idx, doc))
		if err != nil {
			failures = append(failures, search.ItemFailure{ID: id, Reason: err.Error()})
			continue
		}
		if err := enc.Encode(map[string]any{"index": map[string]any{"_id": id}}); err != nil {
			return nil, err
		}
		body.Write(source)
		body.WriteByte('\n')
	}
	return a.bulk(ctx, "index", idx.PhysicalName(), &body, len(docs), failures, false)
}

// DeleteDocument implements search.Adapter
func (a *Adapter) DeleteDocument(ctx context.Context, idx *search.Index, id string) error {
	_, err := a.call(ctx, "delete_document", esapi.DeleteRequest{
		Index:      idx.PhysicalName(),
		DocumentID: id,
		Refresh:    refreshWaitFor,
	})
	if search.IsNotFound(err) {
		return nil
	}
	return err
}

// DeleteDocuments implements search.Adapter with one _bulk request
func (a *Adapter) DeleteDocuments(ctx context.Context, idx *search.Index, ids []string) (*search.BulkResult, error) {
	ids = search.UniqueIDs(ids)
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_id": id}}); err != nil {
			return nil, err
		}
	}
	return a.bulk(ctx, "delete", idx.PhysicalName(), &body, len(ids), nil, true)
}

// FlushIndex implements search.Adapter
func (a *Adapter) FlushIndex(ctx context.Context, idx *search.Index) error {
	body, err := jsonBody(map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		return err
	}
	refresh := true
	_, err = a.call(ctx, "flush", esapi.DeleteByQueryRequest{
		Index:     []string{idx.PhysicalName()},
		Body:      body,
		Conflicts: "proceed",
		Refresh:   &refresh,
	})
	return err
}

// GetDocument implements search.Adapter. A miss on _id falls back to a
// search on objectID.
func (a *Adapter) GetDocument(ctx context.Context, idx *search.Index, id string) (search.Document, error) {
	raw, err := a.call(ctx, "get_document", esapi.GetRequest{Index: idx.PhysicalName(), DocumentID: id})
	if err == nil {
		var resp struct {
			Found bool `json:"found"`
			searchHit
		}
		if err := convert.DecodeJSON(raw, &resp); err != nil {
			return nil, search.NewBackendError(a.flavor.Engine, "get_document", 0, string(raw), err)
		}
		if resp.Found {
			return search.Document(resp.document()), nil
		}
	} else if !search.IsNotFound(err) {
		return nil, err
	}

	body := map[string]any{
		"size":  1,
		"query": map[string]any{"term": map[string]any{search.ObjectIDKey: id}},
	}
	resp, _, err := a.rawSearch(ctx, "get_document", idx.PhysicalName(), body)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits.Hits) == 0 {
		return nil, nil
	}
	return search.Document(resp.Hits.Hits[0].document()), nil
}

func (a *Adapter) rawSearch(ctx context.Context, op, index string, body map[string]any) (*searchResponse, []byte, error) {
	reader, err := jsonBody(body)
	if err != nil {
		return nil, nil, err
	}
	raw, err := a.call(ctx, op, esapi.SearchRequest{Index: []string{index}, Body: reader})
	if err != nil {
		return nil, nil, err
	}
	var resp searchResponse
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return nil, nil, search.NewBackendError(a.flavor.Engine, op, 0, string(raw), err)
	}
	return &resp, raw, nil
}

// Search implements search.Adapter
func (a *Adapter) Search(ctx context.Context, idx *search.Index, query string, opts search.Options) (*search.Result, error) {
	req, err := a.buildSearch(idx, query, opts)
	if err != nil {
		return nil, err
	}
	resp, raw, err := a.rawSearch(ctx, "search", idx.PhysicalName(), req.body)
	if err != nil {
		return nil, err
	}
	return req.result(query, resp, raw), nil
}

// MultiSearch implements search.Adapter with one _msearch request
func (a *Adapter) MultiSearch(ctx context.Context, queries []search.Query) ([]*search.Result, error) {
	if len(queries) == 0 {
		return []*search.Result{}, nil
	}
	reqs := make([]*searchRequest, len(queries))
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, q := range queries {
		req, err := a.buildSearch(q.Index, q.Query, q.Options)
		if err != nil {
			return nil, err
		}
		reqs[i] = req
		if err := enc.Encode(map[string]any{"index": q.Index.PhysicalName()}); err != nil {
			return nil, err
		}
		if err := enc.Encode(req.body); err != nil {
			return nil, err
		}
	}

	raw, err := a.call(ctx, "multi_search", esapi.MsearchRequest{Body: &body})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Responses []json.RawMessage `json:"responses"`
	}
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return nil, search.NewBackendError(a.flavor.Engine, "multi_search", 0, string(raw), err)
	}
	if len(resp.Responses) != len(queries) {
		return nil, search.NewBackendError(a.flavor.Engine, "multi_search", 0, "",
			fmt.Errorf("expected %d responses, got %d", len(queries), len(resp.Responses)))
	}

	out := make([]*search.Result, len(queries))
	for i, item := range resp.Responses {
		var r searchResponse
		if err := convert.DecodeJSON(item, &r); err != nil {
			return nil, search.NewBackendError(a.flavor.Engine, "multi_search", 0, string(item), err)
		}
		if r.Error != nil {
			status := r.Status
			if status == 0 {
				status = http.StatusInternalServerError
			}
			return nil, a.statusError("multi_search", status, item)
		}
		out[i] = reqs[i].result(queries[i].Query, &r, item)
	}
	return out, nil
}

// SearchFacetValues implements search.Adapter with terms aggregations
// restricted by a case-insensitive include pattern
func (a *Adapter) SearchFacetValues(ctx context.Context, idx *search.Index, req search.FacetValuesRequest) (map[string][]search.FacetCount, error) {
	params, _, err := search.Extract(req.FilterOptions(), idx)
	if err != nil {
		return nil, err
	}
	filters, err := a.filterClauses(idx, params)
	if err != nil {
		return nil, err
	}

	aggs := make(map[string]any, len(req.Fields))
	for _, f := range req.Fields {
		if err := params.CheckExact(a.flavor.Engine, search.OptFacets, f); err != nil {
			return nil, err
		}
		terms := map[string]any{"field": params.ExactField(f, KeywordSuffix), "size": req.Limit()}
		if q := strings.TrimSpace(req.Query); q != "" {
			terms["include"] = FacetIncludePattern(q)
		}
		aggs[facetAggPrefix+f] = map[string]any{"terms": terms}
	}
	body := map[string]any{"size": 0, "aggs": aggs}
	if len(filters) > 0 {
		body["query"] = map[string]any{"bool": map[string]any{"filter": filters}}
	}

	resp, _, err := a.rawSearch(ctx, "facet_values", idx.PhysicalName(), body)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]search.FacetCount, len(req.Fields))
	for _, f := range req.Fields {
		counts := []search.FacetCount{}
		for _, b := range convert.ToSlice(resp.Aggregations[facetAggPrefix+f]["buckets"]) {
			counts = append(counts, facetBucket(b))
		}
		search.SortFacetCounts(counts)
		out[f] = counts
	}
	return out, nil
}

// GetDocumentCount implements search.Adapter
func (a *Adapter) GetDocumentCount(ctx context.Context, idx *search.Index) (int64, error) {
	raw, err := a.call(ctx, "count", esapi.CountRequest{Index: []string{idx.PhysicalName()}})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return 0, search.NewBackendError(a.flavor.Engine, "count", 0, string(raw), err)
	}
	return resp.Count, nil
}

// GetAllDocumentIDs implements search.Adapter, paging with search_after
// on objectID
func (a *Adapter) GetAllDocumentIDs(ctx context.Context, idx *search.Index) ([]string, error) {
	var ids []string
	var after []any
	for {
		body := map[string]any{
			"size":    idBatchSize,
			"_source": false,
			"query":   map[string]any{"match_all": map[string]any{}},
			"sort":    []any{map[string]any{search.ObjectIDKey: "asc"}},
		}
		if after != nil {
			body["search_after"] = after
		}
		resp, _, err := a.rawSearch(ctx, "document_ids", idx.PhysicalName(), body)
		if err != nil {
			return nil, err
		}
		for _, h := range resp.Hits.Hits {
			id := h.ID
			if len(h.Sort) > 0 && h.Sort[0] != nil {
				id = convert.ToString(h.Sort[0])
			}
			ids = append(ids, id)
		}
		if len(resp.Hits.Hits) < idBatchSize {
			break
		}
		after = resp.Hits.Hits[len(resp.Hits.Hits)-1].Sort
		if len(after) == 0 {
			break
		}
	}
	return search.UniqueIDs(ids), nil
}

// mapping returns the concrete index name and the mapping behind name
func (a *Adapter) mapping(ctx context.Context, name string) (string, map[string]any, error) {
	raw, err := a.call(ctx, "schema", esapi.IndicesGetMappingRequest{Index: []string{name}})
	if err != nil {
		return "", nil, err
	}
	var resp map[string]struct {
		Mappings map[string]any `json:"mappings"`
	}
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return "", nil, search.NewBackendError(a.flavor.Engine, "schema", 0, string(raw), err)
	}
	concrete := firstKey(resp)
	if concrete == "" {
		return "", nil, &search.NotFoundError{Engine: a.flavor.Engine, Index: name}
	}
	return concrete, resp[concrete].Mappings, nil
}

func firstKey[V any](m map[string]V) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// GetIndexSchema implements search.Adapter
func (a *Adapter) GetIndexSchema(ctx context.Context, idx *search.Index) map[string]any {
	concrete, mappings, err := a.mapping(ctx, idx.PhysicalName())
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"name": concrete, "mappings": mappings}
}

// GetSchemaFields implements search.Adapter. Clusters refusing mapping
// access get types inferred from sampled documents.
func (a *Adapter) GetSchemaFields(ctx context.Context, idx *search.Index) ([]search.SchemaField, error) {
	_, mappings, err := a.mapping(ctx, idx.PhysicalName())
	switch status := search.StatusOf(err); {
	case err == nil:
		props, _ := convert.ToObject(mappings["properties"])
		return a.mapper.Fields(props), nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		logger.Warnf(ctx, "%s mapping of %s is not readable, inferring field types", a.flavor.DisplayName, idx.PhysicalName())
	default:
		return nil, err
	}

	resp, _, err := a.rawSearch(ctx, "schema_fields", idx.PhysicalName(), map[string]any{
		"size":  search.InferenceSampleSize,
		"query": map[string]any{"match_all": map[string]any{}},
	})
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		docs = append(docs, search.Document(h.Source))
	}
	return search.InferFieldTypes(docs), nil
}

// suggestField memoizes the phrase suggester field of idx
func (a *Adapter) suggestField(idx *search.Index) string {
	if v, ok := a.suggest.Load(idx.Handle); ok {
		return v.(string)
	}
	field := idx.SuggestField()
	a.suggest.Store(idx.Handle, field)
	return field
}
