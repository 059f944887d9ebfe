// Package meilisearch implements search.Adapter over the meilisearch-go SDK.
package meilisearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/utils/convert"
)

const (
	// DefaultTaskInterval is the polling interval of WaitForTask
	DefaultTaskInterval = 50 * time.Millisecond

	idBatchSize = 1000
)

// Adapter is the Meilisearch search.Adapter. Every write waits for its
// task to finish.
type Adapter struct {
	client   meilisearch.ServiceManager
	interval time.Duration
	mapper   Mapper
}

var _ search.Adapter = (*Adapter)(nil)

// New creates an adapter over client
func New(client meilisearch.ServiceManager) *Adapter {
	return &Adapter{client: client, interval: DefaultTaskInterval}
}

// WithTaskInterval sets the task polling interval
func (a *Adapter) WithTaskInterval(d time.Duration) *Adapter {
	if d > 0 {
		a.interval = d
	}
	return a
}

// Engine implements search.Adapter
func (a *Adapter) Engine() search.Engine { return search.Meilisearch }

// DisplayName implements search.Adapter
func (a *Adapter) DisplayName() string { return "Meilisearch" }

func isNotFoundCode(code string) bool {
	return code == "index_not_found" || code == "document_not_found"
}

func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *meilisearch.Error
	if errors.As(err, &me) {
		status := me.StatusCode
		if isNotFoundCode(me.MeilisearchApiError.Code) {
			status = http.StatusNotFound
		}
		return &search.BackendError{Engine: search.Meilisearch, Op: op, Status: status, Err: err}
	}
	return search.NewBackendError(search.Meilisearch, op, 0, "", err)
}

// wait blocks until the task of info settles
func (a *Adapter) wait(ctx context.Context, op string, info *meilisearch.TaskInfo, err error) (*meilisearch.Task, error) {
	if err != nil {
		return nil, backendError(op, err)
	}
	task, err := a.client.WaitForTaskWithContext(ctx, info.TaskUID, a.interval)
	if err != nil {
		return nil, backendError(op, err)
	}
	return task, nil
}

// taskError returns the failure of a settled task, nil when it succeeded
func taskError(op string, task *meilisearch.Task) error {
	if task == nil || task.Status != meilisearch.TaskStatusFailed {
		return nil
	}
	status := http.StatusBadRequest
	if isNotFoundCode(task.Error.Code) {
		status = http.StatusNotFound
	}
	return &search.BackendError{
		Engine: search.Meilisearch,
		Op:     op,
		Status: status,
		Body:   task.Error.Code + ": " + task.Error.Message,
	}
}

// run waits for the task and reports its failure
func (a *Adapter) run(ctx context.Context, op string, info *meilisearch.TaskInfo, err error) error {
	task, err := a.wait(ctx, op, info, err)
	if err != nil {
		return err
	}
	return taskError(op, task)
}

// TestConnection implements search.Adapter
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if _, err := a.client.HealthWithContext(ctx); err != nil {
		logger.Warnf(ctx, "Meilisearch connection test failed: %v", err)
		return false
	}
	return true
}

// CreateIndex implements search.Adapter; settings are pushed to existing
// indexes too
func (a *Adapter) CreateIndex(ctx context.Context, idx *search.Index) error {
	info, err := a.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
		Uid:        idx.PhysicalName(),
		PrimaryKey: search.ObjectIDKey,
	})
	task, err := a.wait(ctx, "create_index", info, err)
	if err != nil {
		return err
	}
	if task.Status == meilisearch.TaskStatusFailed && task.Error.Code != "index_already_exists" {
		return taskError("create_index", task)
	}
	return a.UpdateIndexSettings(ctx, idx)
}

// UpdateIndexSettings implements search.Adapter
func (a *Adapter) UpdateIndexSettings(ctx context.Context, idx *search.Index) error {
	settings, err := a.mapper.Settings(idx)
	if err != nil {
		return err
	}
	info, err := a.client.Index(idx.PhysicalName()).UpdateSettingsWithContext(ctx, settings)
	return a.run(ctx, "update_settings", info, err)
}

// DeleteIndex implements search.Adapter
func (a *Adapter) DeleteIndex(ctx context.Context, idx *search.Index) error {
	info, err := a.client.DeleteIndexWithContext(ctx, idx.PhysicalName())
	if err := a.run(ctx, "delete_index", info, err); err != nil && !search.IsNotFound(err) {
		return err
	}
	return nil
}

// IndexExists implements search.Adapter
func (a *Adapter) IndexExists(ctx context.Context, idx *search.Index) (bool, error) {
	_, err := a.client.GetIndexWithContext(ctx, idx.PhysicalName())
	if err == nil {
		return true, nil
	}
	if err = backendError("index_exists", err); search.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// prepare converts doc to the stored representation: dates as epoch
// seconds, the location under _geo and embeddings under _vectors
func prepare(idx *search.Index, doc search.Document) search.Document {
	types := idx.FieldTypes()
	out := doc.NormalizeDates(types, search.DateEpochSeconds)
	geoField := idx.GeoField()
	var vectors map[string]any
	for name, t := range types {
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		switch t {
		case search.FieldGeoPoint:
			p, err := search.ParseGeoPoint(v)
			if err != nil {
				continue
			}
			point := map[string]any{"lat": p.Lat, "lng": p.Lng}
			out[name] = point
			if name == geoField {
				out[GeoKey] = point
			}
		case search.FieldEmbedding:
			if vectors == nil {
				vectors = make(map[string]any)
			}
			vectors[name] = v
			delete(out, name)
		}
	}
	if vectors != nil {
		out[VectorsKey] = vectors
	}
	return out
}

// IndexDocument implements search.Adapter
func (a *Adapter) IndexDocument(ctx context.Context, idx *search.Index, doc search.Document) error {
	if doc.ID() == "" {
		return &search.TranslationError{Engine: search.Meilisearch, Field: search.ObjectIDKey, Reason: "document has no objectID"}
	}
	_, err := a.IndexDocuments(ctx, idx, []search.Document{doc})
	return err
}

// IndexDocuments implements search.Adapter. A failed task rejects the
// whole batch.
func (a *Adapter) IndexDocuments(ctx context.Context, idx *search.Index, docs []search.Document) (*search.BulkResult, error) {
	var failures []search.ItemFailure
	batch := make([]search.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID() == "" {
			failures = append(failures, search.ItemFailure{Reason: "document has no objectID"})
			continue
		}
		batch = append(batch, prepare(idx, doc))
	}

	if len(batch) > 0 {
		pk := search.ObjectIDKey
		info, err := a.client.Index(idx.PhysicalName()).AddDocumentsWithContext(ctx, batch, &meilisearch.DocumentOptions{PrimaryKey: &pk})
		task, err := a.wait(ctx, "index", info, err)
		if err != nil {
			return nil, err
		}
		if terr := taskError("index", task); terr != nil {
			for _, doc := range batch {
				failures = append(failures, search.ItemFailure{ID: doc.ID(), Reason: terr.Error()})
			}
		}
	}
	res := search.NewBulkResult("index", len(docs), failures)
	return res, res.Err(search.Meilisearch)
}

// DeleteDocument implements search.Adapter
func (a *Adapter) DeleteDocument(ctx context.Context, idx *search.Index, id string) error {
	info, err := a.client.Index(idx.PhysicalName()).DeleteDocumentWithContext(ctx, id, nil)
	if err := a.run(ctx, "delete_document", info, err); err != nil && !search.IsNotFound(err) {
		return err
	}
	return nil
}

// DeleteDocuments implements search.Adapter
func (a *Adapter) DeleteDocuments(ctx context.Context, idx *search.Index, ids []string) (*search.BulkResult, error) {
	ids = search.UniqueIDs(ids)
	if len(ids) == 0 {
		return search.NewBulkResult("delete", 0, nil), nil
	}
	info, err := a.client.Index(idx.PhysicalName()).DeleteDocumentsWithContext(ctx, ids, nil)
	task, err := a.wait(ctx, "delete", info, err)
	if err != nil {
		return nil, err
	}
	var failures []search.ItemFailure
	if terr := taskError("delete", task); terr != nil && !search.IsNotFound(terr) {
		for _, id := range ids {
			failures = append(failures, search.ItemFailure{ID: id, Reason: terr.Error()})
		}
	}
	res := search.NewBulkResult("delete", len(ids), failures)
	return res, res.Err(search.Meilisearch)
}

// FlushIndex implements search.Adapter
func (a *Adapter) FlushIndex(ctx context.Context, idx *search.Index) error {
	info, err := a.client.Index(idx.PhysicalName()).DeleteAllDocumentsWithContext(ctx, nil)
	return a.run(ctx, "flush", info, err)
}

// document drops the reserved attributes of a stored document
func document(raw map[string]any) search.Document {
	doc := search.Document(raw)
	delete(doc, GeoKey)
	delete(doc, VectorsKey)
	return doc
}

// GetDocument implements search.Adapter
func (a *Adapter) GetDocument(ctx context.Context, idx *search.Index, id string) (search.Document, error) {
	var raw map[string]any
	err := a.client.Index(idx.PhysicalName()).GetDocumentWithContext(ctx, id, nil, &raw)
	if err == nil {
		return document(raw), nil
	}
	if err = backendError("get_document", err); !search.IsNotFound(err) {
		return nil, err
	}

	resp, _, err := a.rawSearch(ctx, "get_document", idx.PhysicalName(), "", &meilisearch.SearchRequest{
		Filter:      []string{search.ObjectIDKey + " = " + quote(id)},
		Page:        1,
		HitsPerPage: 1,
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

type searchResponse struct {
	Hits               []map[string]any       `json:"hits"`
	EstimatedTotalHits *int64                 `json:"estimatedTotalHits"`
	TotalHits          *int64                 `json:"totalHits"`
	ProcessingTimeMs   int64                  `json:"processingTimeMs"`
	FacetDistribution  map[string]any         `json:"facetDistribution"`
	FacetStats         map[string]search.Stat `json:"facetStats"`
}

// total prefers the exhaustive count of page-based requests
func (r *searchResponse) total() int64 {
	switch {
	case r.TotalHits != nil:
		return *r.TotalHits
	case r.EstimatedTotalHits != nil:
		return *r.EstimatedTotalHits
	}
	return 0
}

func (a *Adapter) rawSearch(ctx context.Context, op, index, query string, req *meilisearch.SearchRequest) (*searchResponse, json.RawMessage, error) {
	raw, err := a.client.Index(index).SearchRawWithContext(ctx, query, req)
	if err != nil {
		return nil, nil, backendError(op, err)
	}
	var resp searchResponse
	if err := convert.DecodeJSON(*raw, &resp); err != nil {
		return nil, nil, search.NewBackendError(search.Meilisearch, op, 0, string(*raw), err)
	}
	return &resp, *raw, nil
}

// multiSearch runs queries in one request, keeping their order. The raw
// form of each result is returned next to its decoded form.
func (a *Adapter) multiSearch(ctx context.Context, op string, queries []*meilisearch.SearchRequest) ([]searchResponse, []json.RawMessage, error) {
	resp, err := a.client.MultiSearchWithContext(ctx, &meilisearch.MultiSearchRequest{Queries: queries})
	if err != nil {
		return nil, nil, backendError(op, err)
	}
	var decoded struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := convert.Remarshal(resp, &decoded); err != nil {
		return nil, nil, search.NewBackendError(search.Meilisearch, op, 0, "", err)
	}
	if len(decoded.Results) != len(queries) {
		return nil, nil, search.NewBackendError(search.Meilisearch, op, 0, "",
			fmt.Errorf("expected %d results, got %d", len(queries), len(decoded.Results)))
	}
	out := make([]searchResponse, len(decoded.Results))
	for i, r := range decoded.Results {
		if err := convert.DecodeJSON(r, &out[i]); err != nil {
			return nil, nil, search.NewBackendError(search.Meilisearch, op, 0, string(r), err)
		}
	}
	return out, decoded.Results, nil
}

// Search implements search.Adapter
func (a *Adapter) Search(ctx context.Context, idx *search.Index, query string, opts search.Options) (*search.Result, error) {
	req, err := buildSearch(idx, query, opts)
	if err != nil {
		return nil, err
	}
	sr, err := req.sdkRequest()
	if err != nil {
		return nil, err
	}
	resp, raw, err := a.rawSearch(ctx, "search", idx.PhysicalName(), query, sr)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, req, resp, raw)
}

// finish normalizes resp and synthesizes the requested histograms
func (a *Adapter) finish(ctx context.Context, req *searchRequest, resp *searchResponse, raw json.RawMessage) (*search.Result, error) {
	res := req.result(resp, raw)
	if len(req.params.Histograms) == 0 {
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
	out := make(map[string][]search.Bucket, len(req.params.Histograms))
	var plans []plan
	var queries []*meilisearch.SearchRequest

	for _, h := range req.params.Histograms {
		var stat *search.Stat
		if s, ok := resp.FacetStats[h.Field]; ok {
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
			filter := append(append([]string{}, req.filters...), rangeExpression(h.Field, r))
			queries = append(queries, &meilisearch.SearchRequest{
				IndexUID:             req.index,
				Query:                req.query,
				Filter:               filter,
				Page:                 1,
				HitsPerPage:          1,
				AttributesToRetrieve: []string{search.ObjectIDKey},
			})
		}
	}
	if len(queries) == 0 {
		return out, nil
	}

	results, _, err := a.multiSearch(ctx, "histogram", queries)
	if err != nil {
		return nil, err
	}
	i := 0
	for _, p := range plans {
		counts := make([]int64, len(p.ranges))
		for j := range p.ranges {
			counts[j] = results[i].total()
			i++
		}
		out[p.field] = search.BucketsFromCounts(p.ranges, counts)
	}
	return out, nil
}

// MultiSearch implements search.Adapter with one multi-search request
func (a *Adapter) MultiSearch(ctx context.Context, queries []search.Query) ([]*search.Result, error) {
	if len(queries) == 0 {
		return []*search.Result{}, nil
	}
	reqs := make([]*searchRequest, len(queries))
	batch := make([]*meilisearch.SearchRequest, len(queries))
	for i, q := range queries {
		req, err := buildSearch(q.Index, q.Query, q.Options)
		if err != nil {
			return nil, err
		}
		sr, err := req.sdkRequest()
		if err != nil {
			return nil, err
		}
		sr.IndexUID = q.Index.PhysicalName()
		sr.Query = q.Query
		reqs[i], batch[i] = req, sr
	}

	results, raws, err := a.multiSearch(ctx, "multi_search", batch)
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

// SearchFacetValues implements search.Adapter by filtering the capped
// facet distribution of the matching documents
func (a *Adapter) SearchFacetValues(ctx context.Context, idx *search.Index, req search.FacetValuesRequest) (map[string][]search.FacetCount, error) {
	params, _, err := search.Extract(req.FilterOptions(), idx)
	if err != nil {
		return nil, err
	}
	filters, err := filterExpressions(params)
	if err != nil {
		return nil, err
	}
	for _, f := range req.Fields {
		if err := params.CheckExact(search.Meilisearch, search.OptFacets, f); err != nil {
			return nil, err
		}
	}
	sr := &meilisearch.SearchRequest{
		Facets:               req.Fields,
		Page:                 1,
		HitsPerPage:          1,
		AttributesToRetrieve: []string{search.ObjectIDKey},
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}
	resp, _, err := a.rawSearch(ctx, "facet_values", idx.PhysicalName(), "", sr)
	if err != nil {
		return nil, err
	}
	dist := search.NormalizeFacetDistribution(resp.FacetDistribution)
	out := make(map[string][]search.FacetCount, len(req.Fields))
	for _, f := range req.Fields {
		out[f] = search.FilterFacetCounts(dist[f], req.Query, req.Limit())
	}
	return out, nil
}

// GetDocumentCount implements search.Adapter
func (a *Adapter) GetDocumentCount(ctx context.Context, idx *search.Index) (int64, error) {
	stats, err := a.client.Index(idx.PhysicalName()).GetStatsWithContext(ctx)
	if err != nil {
		return 0, backendError("count", err)
	}
	return stats.NumberOfDocuments, nil
}

// documents returns one page of stored documents
func (a *Adapter) documents(ctx context.Context, op, index string, q *meilisearch.DocumentsQuery) ([]map[string]any, error) {
	var res meilisearch.DocumentsResult
	if err := a.client.Index(index).GetDocumentsWithContext(ctx, q, &res); err != nil {
		return nil, backendError(op, err)
	}
	var page struct {
		Results []map[string]any `json:"results"`
	}
	if err := convert.Remarshal(res, &page); err != nil {
		return nil, search.NewBackendError(search.Meilisearch, op, 0, "", err)
	}
	return page.Results, nil
}

// GetAllDocumentIDs implements search.Adapter with offset/limit pages
func (a *Adapter) GetAllDocumentIDs(ctx context.Context, idx *search.Index) ([]string, error) {
	var ids []string
	for offset := int64(0); ; offset += idBatchSize {
		docs, err := a.documents(ctx, "document_ids", idx.PhysicalName(), &meilisearch.DocumentsQuery{
			Offset: offset,
			Limit:  idBatchSize,
			Fields: []string{search.ObjectIDKey},
		})
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			ids = append(ids, convert.ToString(d[search.ObjectIDKey]))
		}
		if len(docs) < idBatchSize {
			break
		}
	}
	return search.UniqueIDs(ids), nil
}

func (a *Adapter) settings(ctx context.Context, index string) (map[string]any, error) {
	settings, err := a.client.Index(index).GetSettingsWithContext(ctx)
	if err != nil {
		return nil, backendError("schema", err)
	}
	var out map[string]any
	if err := convert.Remarshal(settings, &out); err != nil {
		return nil, search.NewBackendError(search.Meilisearch, "schema", 0, "", err)
	}
	return out, nil
}

// GetIndexSchema implements search.Adapter
func (a *Adapter) GetIndexSchema(ctx context.Context, idx *search.Index) map[string]any {
	info, err := a.client.GetIndexWithContext(ctx, idx.PhysicalName())
	if err != nil {
		return map[string]any{"error": backendError("schema", err).Error()}
	}
	settings, err := a.settings(ctx, idx.PhysicalName())
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"name": idx.PhysicalName(), "primaryKey": info.PrimaryKey, "settings": settings}
}

// GetSchemaFields implements search.Adapter. Types are inferred from a
// document sample; embedders come from the settings.
func (a *Adapter) GetSchemaFields(ctx context.Context, idx *search.Index) ([]search.SchemaField, error) {
	sample, err := a.documents(ctx, "schema_fields", idx.PhysicalName(), &meilisearch.DocumentsQuery{Limit: search.InferenceSampleSize})
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(sample))
	for _, d := range sample {
		docs = append(docs, document(d))
	}
	fields := search.InferFieldTypes(docs)

	settings, err := a.settings(ctx, idx.PhysicalName())
	if err != nil {
		return nil, err
	}
	embedders, _ := convert.ToObject(settings["embedders"])
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}
	for name := range embedders {
		f := search.SchemaField{Name: name, Type: a.mapper.FromNative(RoleEmbedder, nil)}
		if i, ok := byName[name]; ok {
			fields[i] = f
			continue
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}
