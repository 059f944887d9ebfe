// Package algolia implements search.Adapter over the Algolia REST API.
package algolia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ncobase/nsearch/data/algolia/client"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/utils/convert"
)

const (
	// DefaultTaskInterval is the polling interval of waitTask
	DefaultTaskInterval = 100 * time.Millisecond

	// batchSize is the number of operations per batch request
	batchSize = 1000
	// browseSize is the number of ids per browse page
	browseSize = 1000
	// maxFacetHits caps the values of one facet search
	maxFacetHits = 100
)

// Adapter is the Algolia search.Adapter. Every write waits for its task
// to be published.
type Adapter struct {
	client   *client.Client
	interval time.Duration
	mapper   Mapper
}

var _ search.Adapter = (*Adapter)(nil)

// New creates an adapter over c
func New(c *client.Client) *Adapter {
	return &Adapter{client: c, interval: DefaultTaskInterval}
}

// WithTaskInterval sets the task polling interval
func (a *Adapter) WithTaskInterval(d time.Duration) *Adapter {
	if d > 0 {
		a.interval = d
	}
	return a
}

// Engine implements search.Adapter
func (a *Adapter) Engine() search.Engine { return search.Algolia }

// DisplayName implements search.Adapter
func (a *Adapter) DisplayName() string { return "Algolia" }

func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *client.Error
	if errors.As(err, &e) {
		return &search.BackendError{Engine: search.Algolia, Op: op, Status: e.Status, Body: e.Message, Err: err}
	}
	return search.NewBackendError(search.Algolia, op, 0, "", err)
}

type listParams struct {
	Page        int `url:"page"`
	HitsPerPage int `url:"hitsPerPage"`
}

type settingsParams struct {
	ForwardToReplicas bool `url:"forwardToReplicas"`
}

type browseParams struct {
	Cursor               string   `url:"cursor,omitempty"`
	HitsPerPage          int      `url:"hitsPerPage,omitempty"`
	AttributesToRetrieve []string `url:"attributesToRetrieve,comma,omitempty"`
}

type taskResponse struct {
	TaskID int64 `json:"taskID"`
}

// wait blocks until task of index is published
func (a *Adapter) wait(ctx context.Context, op, index string, task taskResponse) error {
	path := client.Path("indexes", index, "task", fmt.Sprint(task.TaskID))
	for {
		var status struct {
			Status string `json:"status"`
		}
		if err := a.client.Write(ctx, http.MethodGet, path, nil, nil, &status); err != nil {
			return backendError(op, err)
		}
		if status.Status == "published" {
			return nil
		}
		select {
		case <-ctx.Done():
			return backendError(op, ctx.Err())
		case <-time.After(a.interval):
		}
	}
}

// write sends a write request and waits for the task it enqueued
func (a *Adapter) write(ctx context.Context, op, index, method, path string, params, body any) error {
	var task taskResponse
	if err := a.client.Write(ctx, method, path, params, body, &task); err != nil {
		return backendError(op, err)
	}
	return a.wait(ctx, op, index, task)
}

// TestConnection implements search.Adapter
func (a *Adapter) TestConnection(ctx context.Context) bool {
	err := a.client.Read(ctx, http.MethodGet, client.Path("indexes"), listParams{HitsPerPage: 1}, nil, nil)
	if err != nil {
		logger.Warnf(ctx, "Algolia connection test failed: %v", err)
		return false
	}
	return true
}

// CreateIndex implements search.Adapter. Indexes come into existence with
// their first settings write.
func (a *Adapter) CreateIndex(ctx context.Context, idx *search.Index) error {
	return a.UpdateIndexSettings(ctx, idx)
}

// UpdateIndexSettings implements search.Adapter; the primary is written
// first so that its replicas exist before their ranking is set
func (a *Adapter) UpdateIndexSettings(ctx context.Context, idx *search.Index) error {
	settings, replicas, err := a.mapper.Settings(idx)
	if err != nil {
		return err
	}
	name := idx.PhysicalName()
	if err := a.write(ctx, "update_settings", name, http.MethodPut,
		client.Path("indexes", name, "settings"), settingsParams{}, settings); err != nil {
		return err
	}

	names := make([]string, 0, len(replicas))
	for r := range replicas {
		names = append(names, r)
	}
	sort.Strings(names)
	for _, r := range names {
		if err := a.write(ctx, "update_settings", r, http.MethodPut,
			client.Path("indexes", r, "settings"), settingsParams{}, replicas[r]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) settings(ctx context.Context, op, index string) (map[string]any, error) {
	var raw json.RawMessage
	if err := a.client.Read(ctx, http.MethodGet, client.Path("indexes", index, "settings"), nil, nil, &raw); err != nil {
		return nil, backendError(op, err)
	}
	var out map[string]any
	if err := convert.DecodeJSON(raw, &out); err != nil {
		return nil, search.NewBackendError(search.Algolia, op, 0, string(raw), err)
	}
	return out, nil
}

// DeleteIndex implements search.Adapter. Sort replicas are deleted after
// their primary.
func (a *Adapter) DeleteIndex(ctx context.Context, idx *search.Index) error {
	name := idx.PhysicalName()
	settings, err := a.settings(ctx, "delete_index", name)
	if search.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.deleteIndex(ctx, name); err != nil {
		return err
	}
	replicas, _ := convert.ToStringSlice(settings["replicas"])
	for _, r := range replicas {
		if err := a.deleteIndex(ctx, r); err != nil {
			logger.Warnf(ctx, "algolia: failed to delete replica %s: %v", r, err)
		}
	}
	return nil
}

func (a *Adapter) deleteIndex(ctx context.Context, name string) error {
	err := a.write(ctx, "delete_index", name, http.MethodDelete, client.Path("indexes", name), nil, nil)
	if search.IsNotFound(err) {
		return nil
	}
	return err
}

// IndexExists implements search.Adapter
func (a *Adapter) IndexExists(ctx context.Context, idx *search.Index) (bool, error) {
	_, err := a.settings(ctx, "index_exists", idx.PhysicalName())
	switch {
	case err == nil:
		return true, nil
	case search.IsNotFound(err):
		return false, nil
	}
	return false, err
}

// prepare converts doc to the stored representation: dates as epoch
// seconds and the location of the geo field under _geoloc
func prepare(idx *search.Index, doc search.Document) search.Document {
	types := idx.FieldTypes()
	out := doc.NormalizeDates(types, search.DateEpochSeconds)
	geoField := idx.GeoField()
	for name, t := range types {
		if t != search.FieldGeoPoint {
			continue
		}
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		p, err := search.ParseGeoPoint(v)
		if err != nil {
			continue
		}
		point := map[string]any{"lat": p.Lat, "lng": p.Lng}
		out[name] = point
		if name == geoField {
			out[GeoKey] = point
		}
	}
	return out
}

type batchOperation struct {
	Action string         `json:"action"`
	Body   map[string]any `json:"body"`
}

// batch sends ops in chunks. A rejected chunk fails each of its items;
// ids lists the item ids in ops order.
func (a *Adapter) batch(ctx context.Context, op, index string, ops []batchOperation, ids []string) ([]search.ItemFailure, error) {
	var failures []search.ItemFailure
	for start := 0; start < len(ops); start += batchSize {
		end := min(start+batchSize, len(ops))
		var task taskResponse
		err := a.client.Write(ctx, http.MethodPost, client.Path("indexes", index, "batch"), nil,
			map[string]any{"requests": ops[start:end]}, &task)
		if err == nil {
			err = a.wait(ctx, op, index, task)
		} else {
			err = backendError(op, err)
		}
		if err == nil {
			continue
		}
		status := search.StatusOf(err)
		if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
			return nil, err
		}
		for _, id := range ids[start:end] {
			failures = append(failures, search.ItemFailure{ID: id, Status: status, Reason: err.Error()})
		}
	}
	return failures, nil
}

// IndexDocument implements search.Adapter
func (a *Adapter) IndexDocument(ctx context.Context, idx *search.Index, doc search.Document) error {
	if doc.ID() == "" {
		return &search.TranslationError{Engine: search.Algolia, Field: search.ObjectIDKey, Reason: "document has no objectID"}
	}
	_, err := a.IndexDocuments(ctx, idx, []search.Document{doc})
	return err
}

// IndexDocuments implements search.Adapter with replacing batch writes
func (a *Adapter) IndexDocuments(ctx context.Context, idx *search.Index, docs []search.Document) (*search.BulkResult, error) {
	var failures []search.ItemFailure
	ops := make([]batchOperation, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			failures = append(failures, search.ItemFailure{Reason: "document has no objectID"})
			continue
		}
		body := prepare(idx, doc)
		body[search.ObjectIDKey] = id
		ops = append(ops, batchOperation{Action: "updateObject", Body: body})
		ids = append(ids, id)
	}
	rejected, err := a.batch(ctx, "index", idx.PhysicalName(), ops, ids)
	if err != nil {
		return nil, err
	}
	res := search.NewBulkResult("index", len(docs), append(failures, rejected...))
	return res, res.Err(search.Algolia)
}

// DeleteDocument implements search.Adapter
func (a *Adapter) DeleteDocument(ctx context.Context, idx *search.Index, id string) error {
	name := idx.PhysicalName()
	err := a.write(ctx, "delete_document", name, http.MethodDelete, client.Path("indexes", name, id), nil, nil)
	if search.IsNotFound(err) {
		return nil
	}
	return err
}

// DeleteDocuments implements search.Adapter
func (a *Adapter) DeleteDocuments(ctx context.Context, idx *search.Index, ids []string) (*search.BulkResult, error) {
	ids = search.UniqueIDs(ids)
	ops := make([]batchOperation, len(ids))
	for i, id := range ids {
		ops[i] = batchOperation{Action: "deleteObject", Body: map[string]any{search.ObjectIDKey: id}}
	}
	failures, err := a.batch(ctx, "delete", idx.PhysicalName(), ops, ids)
	if err != nil {
		return nil, err
	}
	res := search.NewBulkResult("delete", len(ids), failures)
	return res, res.Err(search.Algolia)
}

// FlushIndex implements search.Adapter; settings and replicas are kept
func (a *Adapter) FlushIndex(ctx context.Context, idx *search.Index) error {
	name := idx.PhysicalName()
	return a.write(ctx, "flush", name, http.MethodPost, client.Path("indexes", name, "clear"), nil, nil)
}

// GetDocument implements search.Adapter. A miss on the object id falls
// back to a filter on objectID.
func (a *Adapter) GetDocument(ctx context.Context, idx *search.Index, id string) (search.Document, error) {
	name := idx.PhysicalName()
	var raw json.RawMessage
	err := a.client.Read(ctx, http.MethodGet, client.Path("indexes", name, id), nil, nil, &raw)
	if err == nil {
		var doc map[string]any
		if err := convert.DecodeJSON(raw, &doc); err != nil {
			return nil, search.NewBackendError(search.Algolia, "get_document", 0, string(raw), err)
		}
		return document(doc), nil
	}
	if err = backendError("get_document", err); !search.IsNotFound(err) {
		return nil, err
	}

	resp, _, err := a.search(ctx, "get_document", name, map[string]any{
		"query":                 "",
		"filters":               search.ObjectIDKey + ":" + quote(id),
		"hitsPerPage":           1,
		"attributesToHighlight": []string{},
	})
	if err != nil {
		if search.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.Hits) == 0 {
		return nil, nil
	}
	return document(resp.Hits[0]), nil
}

func (a *Adapter) search(ctx context.Context, op, index string, params map[string]any) (*searchResponse, json.RawMessage, error) {
	var raw json.RawMessage
	if err := a.client.Read(ctx, http.MethodPost, client.Path("indexes", index, "query"), nil, params, &raw); err != nil {
		return nil, nil, backendError(op, err)
	}
	var resp searchResponse
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return nil, nil, search.NewBackendError(search.Algolia, op, 0, string(raw), err)
	}
	return &resp, raw, nil
}

// multiQuery runs requests in one call, keeping their order. Each request
// carries its indexName next to its search parameters.
func (a *Adapter) multiQuery(ctx context.Context, op string, requests []map[string]any) ([]searchResponse, []json.RawMessage, error) {
	var raw json.RawMessage
	body := map[string]any{"requests": requests, "strategy": "none"}
	if err := a.client.Read(ctx, http.MethodPost, client.Path("indexes", "*", "queries"), nil, body, &raw); err != nil {
		return nil, nil, backendError(op, err)
	}
	var decoded struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := convert.DecodeJSON(raw, &decoded); err != nil {
		return nil, nil, search.NewBackendError(search.Algolia, op, 0, string(raw), err)
	}
	if len(decoded.Results) != len(requests) {
		return nil, nil, search.NewBackendError(search.Algolia, op, 0, "",
			fmt.Errorf("expected %d results, got %d", len(requests), len(decoded.Results)))
	}
	out := make([]searchResponse, len(decoded.Results))
	for i, r := range decoded.Results {
		if err := convert.DecodeJSON(r, &out[i]); err != nil {
			return nil, nil, search.NewBackendError(search.Algolia, op, 0, string(r), err)
		}
	}
	return out, decoded.Results, nil
}

func request(index string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["indexName"] = index
	return out
}

// Search implements search.Adapter
func (a *Adapter) Search(ctx context.Context, idx *search.Index, query string, opts search.Options) (*search.Result, error) {
	req, err := buildSearch(idx, query, opts)
	if err != nil {
		return nil, err
	}
	resp, raw, err := a.search(ctx, "search", req.index, req.params)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, req, resp, raw)
}

// finish normalizes resp and synthesizes the requested histograms
func (a *Adapter) finish(ctx context.Context, req *searchRequest, resp *searchResponse, raw json.RawMessage) (*search.Result, error) {
	res := req.result(resp, raw)
	if len(req.opts.Histograms) == 0 {
		return res, nil
	}
	histograms, err := a.histograms(ctx, req, resp)
	if err != nil {
		return nil, err
	}
	res.Histograms = histograms
	return res, nil
}

// histograms counts every bucket with a range-filtered query. Missing
// bounds come from the facet stats of the main response.
func (a *Adapter) histograms(ctx context.Context, req *searchRequest, resp *searchResponse) (map[string][]search.Bucket, error) {
	type plan struct {
		field  string
		ranges []search.HistogramRange
	}
	out := make(map[string][]search.Bucket, len(req.opts.Histograms))
	var plans []plan
	var requests []map[string]any

	for _, h := range req.opts.Histograms {
		var stat *search.Stat
		if s, ok := resp.FacetsStats[h.Field]; ok {
			stat = &s
		}
		lo, hi, ok := search.HistogramBounds(h, stat)
		if !ok {
			out[h.Field] = []search.Bucket{}
			continue
		}
		ranges, err := search.HistogramRanges(h.Interval, lo, hi)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan{field: h.Field, ranges: ranges})
		for _, r := range ranges {
			requests = append(requests, request(req.index, req.countQuery(histogramClause(h.Field, r))))
		}
	}
	if len(requests) == 0 {
		return out, nil
	}

	results, _, err := a.multiQuery(ctx, "histogram", requests)
	if err != nil {
		return nil, err
	}
	i := 0
	for _, p := range plans {
		counts := make([]int64, len(p.ranges))
		for j := range p.ranges {
			counts[j] = results[i].NbHits
			i++
		}
		out[p.field] = search.BucketsFromCounts(p.ranges, counts)
	}
	return out, nil
}

// MultiSearch implements search.Adapter with one multi-query request
func (a *Adapter) MultiSearch(ctx context.Context, queries []search.Query) ([]*search.Result, error) {
	if len(queries) == 0 {
		return []*search.Result{}, nil
	}
	reqs := make([]*searchRequest, len(queries))
	requests := make([]map[string]any, len(queries))
	for i, q := range queries {
		req, err := buildSearch(q.Index, q.Query, q.Options)
		if err != nil {
			return nil, err
		}
		reqs[i] = req
		requests[i] = request(req.index, req.params)
	}

	results, raws, err := a.multiQuery(ctx, "multi_search", requests)
	if err != nil {
		return nil, err
	}
	out := make([]*search.Result, len(queries))
	for i := range results {
		res, err := a.finish(ctx, reqs[i], &results[i], raws[i])
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

type facetHit struct {
	Value       string `json:"value"`
	Highlighted string `json:"highlighted"`
	Count       int64  `json:"count"`
}

// SearchFacetValues implements search.Adapter with the native facet value
// search, which matches value prefixes word by word
func (a *Adapter) SearchFacetValues(ctx context.Context, idx *search.Index, req search.FacetValuesRequest) (map[string][]search.FacetCount, error) {
	params, _, err := search.Extract(req.FilterOptions(), idx)
	if err != nil {
		return nil, err
	}
	filters, err := filterString(params)
	if err != nil {
		return nil, err
	}
	limit := req.Limit()
	name := idx.PhysicalName()
	out := make(map[string][]search.FacetCount, len(req.Fields))
	for _, f := range req.Fields {
		if err := params.CheckExact(search.Algolia, search.OptFacets, f); err != nil {
			return nil, err
		}
		body := map[string]any{
			"facetQuery":   req.Query,
			"maxFacetHits": min(limit, maxFacetHits),
		}
		if filters != "" {
			body["filters"] = filters
		}
		var resp struct {
			FacetHits []facetHit `json:"facetHits"`
		}
		if err := a.client.Read(ctx, http.MethodPost, client.Path("indexes", name, "facets", f, "query"), nil, body, &resp); err != nil {
			return nil, backendError("facet_values", err)
		}
		counts := make([]search.FacetCount, 0, len(resp.FacetHits))
		for _, h := range resp.FacetHits {
			counts = append(counts, search.FacetCount{Value: h.Value, Count: h.Count})
		}
		search.SortFacetCounts(counts)
		if len(counts) > limit {
			counts = counts[:limit]
		}
		out[f] = counts
	}
	return out, nil
}

// GetDocumentCount implements search.Adapter
func (a *Adapter) GetDocumentCount(ctx context.Context, idx *search.Index) (int64, error) {
	resp, _, err := a.search(ctx, "count", idx.PhysicalName(), map[string]any{
		"query":       "",
		"hitsPerPage": 0,
		"analytics":   false,
	})
	if err != nil {
		return 0, err
	}
	return resp.NbHits, nil
}

type browseResponse struct {
	Hits   []map[string]any `json:"hits"`
	Cursor string           `json:"cursor"`
}

func (a *Adapter) browse(ctx context.Context, op, index string, params browseParams) (*browseResponse, error) {
	var raw json.RawMessage
	if err := a.client.Read(ctx, http.MethodGet, client.Path("indexes", index, "browse"), params, nil, &raw); err != nil {
		return nil, backendError(op, err)
	}
	var resp browseResponse
	if err := convert.DecodeJSON(raw, &resp); err != nil {
		return nil, search.NewBackendError(search.Algolia, op, 0, string(raw), err)
	}
	return &resp, nil
}

// GetAllDocumentIDs implements search.Adapter with a browse cursor
func (a *Adapter) GetAllDocumentIDs(ctx context.Context, idx *search.Index) ([]string, error) {
	var ids []string
	params := browseParams{HitsPerPage: browseSize, AttributesToRetrieve: []string{search.ObjectIDKey}}
	for {
		resp, err := a.browse(ctx, "document_ids", idx.PhysicalName(), params)
		if err != nil {
			return nil, err
		}
		for _, h := range resp.Hits {
			ids = append(ids, convert.ToString(h[search.ObjectIDKey]))
		}
		if resp.Cursor == "" {
			break
		}
		params.Cursor = resp.Cursor
	}
	return search.UniqueIDs(ids), nil
}

// GetIndexSchema implements search.Adapter
func (a *Adapter) GetIndexSchema(ctx context.Context, idx *search.Index) map[string]any {
	settings, err := a.settings(ctx, "schema", idx.PhysicalName())
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"name": idx.PhysicalName(), "settings": settings}
}

// GetSchemaFields implements search.Adapter. Types are inferred from a
// document sample; faceting attributes absent from the sample come from
// the settings.
func (a *Adapter) GetSchemaFields(ctx context.Context, idx *search.Index) ([]search.SchemaField, error) {
	name := idx.PhysicalName()
	sample, err := a.browse(ctx, "schema_fields", name, browseParams{HitsPerPage: search.InferenceSampleSize})
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(sample.Hits))
	for _, h := range sample.Hits {
		docs = append(docs, document(h))
	}
	fields := search.InferFieldTypes(docs)

	settings, err := a.settings(ctx, "schema_fields", name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.Name] = true
	}
	faceting, _ := convert.ToStringSlice(settings["attributesForFaceting"])
	for _, entry := range faceting {
		if n := facetName(entry); !seen[n] {
			seen[n] = true
			fields = append(fields, search.SchemaField{Name: n, Type: a.mapper.FromNative(entry, nil)})
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}
