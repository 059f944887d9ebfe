// Package typesense implements search.Adapter over the typesense-go client.
package typesense

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/utils/convert"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
)

const (
	// HealthTimeout bounds TestConnection
	HealthTimeout = 5 * time.Second

	deleteBatchSize = 100
)

// Adapter is the Typesense search.Adapter
type Adapter struct {
	client *typesense.Client
	mapper Mapper
}

var _ search.Adapter = (*Adapter)(nil)

// New creates an adapter over client
func New(client *typesense.Client) *Adapter {
	return &Adapter{client: client}
}

// Engine implements search.Adapter
func (a *Adapter) Engine() search.Engine { return search.Typesense }

// DisplayName implements search.Adapter
func (a *Adapter) DisplayName() string { return "Typesense" }

func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var he *typesense.HTTPError
	if errors.As(err, &he) {
		return search.NewBackendError(search.Typesense, op, he.Status, string(he.Body), err)
	}
	return search.NewBackendError(search.Typesense, op, 0, "", err)
}

// TestConnection implements search.Adapter
func (a *Adapter) TestConnection(ctx context.Context) bool {
	ok, err := a.client.Health(ctx, HealthTimeout)
	if err != nil || !ok {
		logger.Warnf(ctx, "Typesense connection test failed: healthy=%v err=%v", ok, err)
		return false
	}
	return true
}

// CreateIndex implements search.Adapter; an existing collection gets its
// missing fields added
func (a *Adapter) CreateIndex(ctx context.Context, idx *search.Index) error {
	raw, err := a.mapper.Schema(idx)
	if err != nil {
		return err
	}
	var schema api.CollectionSchema
	if err := convert.Remarshal(raw, &schema); err != nil {
		return &search.ConfigurationError{Engine: search.Typesense, Reason: err.Error()}
	}
	_, err = a.client.Collections().Create(ctx, &schema)
	if err == nil {
		return nil
	}
	if err = backendError("create_index", err); search.StatusOf(err) == http.StatusConflict {
		return a.UpdateIndexSettings(ctx, idx)
	}
	return err
}

// collection retrieves the collection behind name
func (a *Adapter) collection(ctx context.Context, op, name string) (*collectionInfo, error) {
	resp, err := a.client.Collection(name).Retrieve(ctx)
	if err != nil {
		return nil, backendError(op, err)
	}
	var info collectionInfo
	if err := convert.Remarshal(resp, &info); err != nil {
		return nil, search.NewBackendError(search.Typesense, op, 0, "", err)
	}
	return &info, nil
}

type collectionInfo struct {
	Name         string           `json:"name"`
	NumDocuments int64            `json:"num_documents"`
	Fields       []map[string]any `json:"fields"`
}

// UpdateIndexSettings implements search.Adapter. Collections only take
// additions: new fields are added, fields whose type changed are dropped
// and re-added.
func (a *Adapter) UpdateIndexSettings(ctx context.Context, idx *search.Index) error {
	info, err := a.collection(ctx, "update_settings", idx.PhysicalName())
	if err != nil {
		return err
	}
	current := make(map[string]string, len(info.Fields))
	for _, f := range info.Fields {
		current[convert.ToString(f["name"])] = convert.ToString(f["type"])
	}

	wanted, err := a.mapper.Fields(idx)
	if err != nil {
		return err
	}
	var changes []map[string]any
	for _, f := range wanted {
		name := convert.ToString(f["name"])
		existing, ok := current[name]
		switch {
		case !ok:
			changes = append(changes, f)
		case existing != f["type"]:
			changes = append(changes, map[string]any{"name": name, "drop": true}, f)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var update api.CollectionUpdateSchema
	if err := convert.Remarshal(map[string]any{"fields": changes}, &update); err != nil {
		return &search.ConfigurationError{Engine: search.Typesense, Reason: err.Error()}
	}
	if _, err := a.client.Collection(idx.PhysicalName()).Update(ctx, &update); err != nil {
		return backendError("update_settings", err)
	}
	return nil
}

// DeleteIndex implements search.Adapter. An alias is removed together
// with the collection it points to.
func (a *Adapter) DeleteIndex(ctx context.Context, idx *search.Index) error {
	name := idx.PhysicalName()
	target, err := a.resolveAlias(ctx, name)
	if err != nil {
		return err
	}
	if target != "" {
		if _, err := a.client.Alias(name).Delete(ctx); err != nil && !search.IsNotFound(backendError("delete_index", err)) {
			return backendError("delete_index", err)
		}
		name = target
	}
	if _, err := a.client.Collection(name).Delete(ctx); err != nil {
		if err = backendError("delete_index", err); !search.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// IndexExists implements search.Adapter
func (a *Adapter) IndexExists(ctx context.Context, idx *search.Index) (bool, error) {
	_, err := a.collection(ctx, "index_exists", idx.PhysicalName())
	switch {
	case err == nil:
		return true, nil
	case search.IsNotFound(err):
		return false, nil
	}
	return false, err
}

// prepare converts doc to the stored representation: id mirrors
// objectID, dates are epoch seconds and locations [lat, lng] pairs
func prepare(idx *search.Index, doc search.Document) map[string]any {
	types := idx.FieldTypes()
	out := doc.NormalizeDates(types, search.DateEpochSeconds)
	out[IDKey] = doc.ID()
	for name, t := range types {
		if t != search.FieldGeoPoint || out[name] == nil {
			continue
		}
		if p, err := search.ParseGeoPoint(out[name]); err == nil {
			out[name] = []float64{p.Lat, p.Lng}
		}
	}
	return out
}

// IndexDocument implements search.Adapter
func (a *Adapter) IndexDocument(ctx context.Context, idx *search.Index, doc search.Document) error {
	if doc.ID() == "" {
		return &search.TranslationError{Engine: search.Typesense, Field: search.ObjectIDKey, Reason: "document has no objectID"}
	}
	_, err := a.IndexDocuments(ctx, idx, []search.Document{doc})
	return err
}

type importResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Document string `json:"document"`
}

// IndexDocuments implements search.Adapter with an upsert import; every
// line of the import response reports one document
func (a *Adapter) IndexDocuments(ctx context.Context, idx *search.Index, docs []search.Document) (*search.BulkResult, error) {
	var failures []search.ItemFailure
	var ids []string
	batch := make([]any, 0, len(docs))
	for _, doc := range docs {
		if doc.ID() == "" {
			failures = append(failures, search.ItemFailure{Reason: "document has no objectID"})
			continue
		}
		ids = append(ids, doc.ID())
		batch = append(batch, prepare(idx, doc))
	}

	if len(batch) > 0 {
		var params api.ImportDocumentsParams
		if err := convert.Remarshal(map[string]any{"action": "upsert"}, &params); err != nil {
			return nil, search.NewBackendError(search.Typesense, "index", 0, "", err)
		}
		resp, err := a.client.Collection(idx.PhysicalName()).Documents().Import(ctx, batch, &params)
		if err != nil {
			return nil, backendError("index", err)
		}
		var results []importResult
		if err := convert.Remarshal(resp, &results); err != nil {
			return nil, search.NewBackendError(search.Typesense, "index", 0, "", err)
		}
		for i, r := range results {
			if r.Success || i >= len(ids) {
				continue
			}
			failures = append(failures, search.ItemFailure{ID: ids[i], Status: http.StatusBadRequest, Reason: r.Error})
		}
	}
	res := search.NewBulkResult("index", len(docs), failures)
	return res, res.Err(search.Typesense)
}

// DeleteDocument implements search.Adapter
func (a *Adapter) DeleteDocument(ctx context.Context, idx *search.Index, id string) error {
	if _, err := a.client.Collection(idx.PhysicalName()).Document(id).Delete(ctx); err != nil {
		if err = backendError("delete_document", err); !search.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// DeleteDocuments implements search.Adapter with id filters; missing ids
// are not failures
func (a *Adapter) DeleteDocuments(ctx context.Context, idx *search.Index, ids []string) (*search.BulkResult, error) {
	ids = search.UniqueIDs(ids)
	var (
		failures []search.ItemFailure
		batched  []string
	)
	for _, id := range ids {
		if filterable(id) {
			batched = append(batched, id)
			continue
		}
		// ids a filter cannot quote go through the document endpoint
		if err := a.DeleteDocument(ctx, idx, id); err != nil {
			failures = append(failures, search.ItemFailure{ID: id, Status: search.StatusOf(err), Reason: err.Error()})
		}
	}
	for start := 0; start < len(batched); start += deleteBatchSize {
		chunk := batched[start:min(start+deleteBatchSize, len(batched))]
		filter, err := idFilter(chunk)
		if err == nil {
			err = a.deleteWhere(ctx, idx.PhysicalName(), filter)
		}
		if err != nil {
			for _, id := range chunk {
				failures = append(failures, search.ItemFailure{ID: id, Status: search.StatusOf(err), Reason: err.Error()})
			}
		}
	}
	res := search.NewBulkResult("delete", len(ids), failures)
	return res, res.Err(search.Typesense)
}

func (a *Adapter) deleteWhere(ctx context.Context, collection, filter string) error {
	var params api.DeleteDocumentsParams
	if err := convert.Remarshal(map[string]any{"filter_by": filter}, &params); err != nil {
		return search.NewBackendError(search.Typesense, "delete", 0, "", err)
	}
	if _, err := a.client.Collection(collection).Documents().Delete(ctx, &params); err != nil {
		return backendError("delete", err)
	}
	return nil
}

// FlushIndex implements search.Adapter by deleting every exported id
func (a *Adapter) FlushIndex(ctx context.Context, idx *search.Index) error {
	ids, err := a.GetAllDocumentIDs(ctx, idx)
	if err != nil {
		return err
	}
	res, err := a.DeleteDocuments(ctx, idx, ids)
	if err != nil {
		return err
	}
	if res.Partial() {
		return &search.BulkError{Engine: search.Typesense, Op: "flush", Total: res.Total, Failures: res.Failures}
	}
	return nil
}

// GetDocument implements search.Adapter
func (a *Adapter) GetDocument(ctx context.Context, idx *search.Index, id string) (search.Document, error) {
	doc, err := a.client.Collection(idx.PhysicalName()).Document(id).Retrieve(ctx)
	if err == nil {
		return searchHit{Document: doc}.document(), nil
	}
	if err = backendError("get_document", err); !search.IsNotFound(err) {
		return nil, err
	}

	lit, err := literal(search.ObjectIDKey, id)
	if err != nil {
		return nil, err
	}
	resp, err := a.search(ctx, "get_document", idx.PhysicalName(), map[string]any{
		"q":         wildcard,
		"filter_by": search.ObjectIDKey + ":=" + lit,
		"per_page":  1,
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
	return resp.Hits[0].document(), nil
}

// search runs one search with params named as the REST API names them
func (a *Adapter) search(ctx context.Context, op, collection string, params map[string]any) (*searchResponse, error) {
	var sp api.SearchCollectionParams
	if err := convert.Remarshal(params, &sp); err != nil {
		return nil, &search.TranslationError{Engine: search.Typesense, Reason: err.Error()}
	}
	result, err := a.client.Collection(collection).Documents().Search(ctx, &sp)
	if err != nil {
		return nil, backendError(op, err)
	}
	var resp searchResponse
	if err := convert.Remarshal(result, &resp); err != nil {
		return nil, search.NewBackendError(search.Typesense, op, 0, "", err)
	}
	return &resp, nil
}

// multiSearch runs searches in one request, keeping their order. Each
// entry names its collection.
func (a *Adapter) multiSearch(ctx context.Context, op string, searches []map[string]any) ([]searchResponse, error) {
	var body api.MultiSearchSearchesParameter
	if err := convert.Remarshal(map[string]any{"searches": searches}, &body); err != nil {
		return nil, &search.TranslationError{Engine: search.Typesense, Reason: err.Error()}
	}
	result, err := a.client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, body)
	if err != nil {
		return nil, backendError(op, err)
	}
	var decoded struct {
		Results []searchResponse `json:"results"`
	}
	if err := convert.Remarshal(result, &decoded); err != nil {
		return nil, search.NewBackendError(search.Typesense, op, 0, "", err)
	}
	if len(decoded.Results) != len(searches) {
		return nil, search.NewBackendError(search.Typesense, op, 0, "",
			fmt.Errorf("expected %d results, got %d", len(searches), len(decoded.Results)))
	}
	for i, r := range decoded.Results {
		if r.Error != "" {
			return nil, search.NewBackendError(search.Typesense, op, r.Code, r.Error,
				fmt.Errorf("search %d of %s failed", i, convert.ToString(searches[i]["collection"])))
		}
	}
	return decoded.Results, nil
}

// resolveRanges computes histogram ranges, running a stats pre-flight for
// histograms without bounds and for stats fields that are also histograms
func (a *Adapter) resolveRanges(ctx context.Context, req *searchRequest) (map[string][]search.HistogramRange, map[string]search.Stat, error) {
	hists := req.opts.Histograms
	if len(hists) == 0 {
		return nil, nil, nil
	}
	var need []string
	for _, h := range hists {
		if !h.HasBounds() || contains(req.opts.Stats, h.Field) {
			need = append(need, h.Field)
		}
	}
	stats := make(map[string]search.Stat)
	if len(need) > 0 {
		resp, err := a.search(ctx, "histogram", req.collection, req.preflight(need))
		if err != nil {
			return nil, nil, err
		}
		for _, f := range need {
			if s, ok := resp.stat(f); ok {
				stats[f] = s
			}
		}
	}

	ranges := make(map[string][]search.HistogramRange, len(hists))
	for _, h := range hists {
		var stat *search.Stat
		if s, ok := stats[h.Field]; ok {
			stat = &s
		}
		lo, hi, ok := search.HistogramBounds(h, stat)
		if !ok {
			ranges[h.Field] = nil
			continue
		}
		r, err := search.HistogramRanges(h.Interval, lo, hi)
		if err != nil {
			return nil, nil, err
		}
		ranges[h.Field] = r
	}
	return ranges, stats, nil
}

// Search implements search.Adapter
func (a *Adapter) Search(ctx context.Context, idx *search.Index, query string, opts search.Options) (*search.Result, error) {
	req, err := buildSearch(idx, query, opts)
	if err != nil {
		return nil, err
	}
	ranges, stats, err := a.resolveRanges(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := a.search(ctx, "search", req.collection, req.withFacets(ranges))
	if err != nil {
		return nil, err
	}
	res := req.result(resp, ranges, stats)
	res.Raw = resp
	return res, nil
}

// MultiSearch implements search.Adapter with one multi_search request
func (a *Adapter) MultiSearch(ctx context.Context, queries []search.Query) ([]*search.Result, error) {
	if len(queries) == 0 {
		return []*search.Result{}, nil
	}
	reqs := make([]*searchRequest, len(queries))
	ranges := make([]map[string][]search.HistogramRange, len(queries))
	stats := make([]map[string]search.Stat, len(queries))
	searches := make([]map[string]any, len(queries))
	for i, q := range queries {
		req, err := buildSearch(q.Index, q.Query, q.Options)
		if err != nil {
			return nil, err
		}
		if ranges[i], stats[i], err = a.resolveRanges(ctx, req); err != nil {
			return nil, err
		}
		params := req.withFacets(ranges[i])
		params["collection"] = req.collection
		reqs[i], searches[i] = req, params
	}

	results, err := a.multiSearch(ctx, "multi_search", searches)
	if err != nil {
		return nil, err
	}
	out := make([]*search.Result, len(queries))
	for i := range results {
		out[i] = reqs[i].result(&results[i], ranges[i], stats[i])
	}
	return out, nil
}

// SearchFacetValues implements search.Adapter with one facet_query
// search per field
func (a *Adapter) SearchFacetValues(ctx context.Context, idx *search.Index, req search.FacetValuesRequest) (map[string][]search.FacetCount, error) {
	params, _, err := search.Extract(req.FilterOptions(), idx)
	if err != nil {
		return nil, err
	}
	filter, err := filterBy(idx, params)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]search.FacetCount, len(req.Fields))
	if len(req.Fields) == 0 {
		return out, nil
	}
	searches := make([]map[string]any, 0, len(req.Fields))
	for _, f := range req.Fields {
		if err := checkFacetable(params, search.OptFacets, f); err != nil {
			return nil, err
		}
		s := map[string]any{
			"collection":       idx.PhysicalName(),
			"q":                wildcard,
			"per_page":         0,
			"facet_by":         f,
			"max_facet_values": req.Limit(),
		}
		if q := req.Query; q != "" {
			s["facet_query"] = f + ":" + q
		}
		if filter != "" {
			s["filter_by"] = filter
		}
		searches = append(searches, s)
	}
	results, err := a.multiSearch(ctx, "facet_values", searches)
	if err != nil {
		return nil, err
	}
	for i, f := range req.Fields {
		counts := []search.FacetCount{}
		if fc := results[i].facet(f); fc != nil {
			for _, c := range fc.Counts {
				counts = append(counts, search.FacetCount{Value: c.Value, Count: c.Count})
			}
		}
		search.SortFacetCounts(counts)
		out[f] = search.FilterFacetCounts(counts, "", req.Limit())
	}
	return out, nil
}

// GetDocumentCount implements search.Adapter
func (a *Adapter) GetDocumentCount(ctx context.Context, idx *search.Index) (int64, error) {
	info, err := a.collection(ctx, "count", idx.PhysicalName())
	if err != nil {
		return 0, err
	}
	return info.NumDocuments, nil
}

// GetAllDocumentIDs implements search.Adapter from the JSONL export
func (a *Adapter) GetAllDocumentIDs(ctx context.Context, idx *search.Index) ([]string, error) {
	body, err := a.client.Collection(idx.PhysicalName()).Documents().Export(ctx)
	if err != nil {
		return nil, backendError("document_ids", err)
	}
	defer body.Close()

	var ids []string
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc map[string]any
		if err := convert.DecodeJSON(line, &doc); err != nil {
			return nil, search.NewBackendError(search.Typesense, "document_ids", 0, string(line), err)
		}
		ids = append(ids, convert.ToString(doc[IDKey]))
	}
	if err := sc.Err(); err != nil {
		return nil, search.NewBackendError(search.Typesense, "document_ids", 0, "", err)
	}
	return search.UniqueIDs(ids), nil
}

// GetIndexSchema implements search.Adapter
func (a *Adapter) GetIndexSchema(ctx context.Context, idx *search.Index) map[string]any {
	resp, err := a.client.Collection(idx.PhysicalName()).Retrieve(ctx)
	if err != nil {
		return map[string]any{"error": backendError("schema", err).Error()}
	}
	var out map[string]any
	if err := convert.Remarshal(resp, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

// GetSchemaFields implements search.Adapter; types are inferred from a
// document sample when the collection is not readable
func (a *Adapter) GetSchemaFields(ctx context.Context, idx *search.Index) ([]search.SchemaField, error) {
	info, err := a.collection(ctx, "schema_fields", idx.PhysicalName())
	switch status := search.StatusOf(err); {
	case err == nil:
		return a.mapper.Canonical(info.Fields), nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		logger.Warnf(ctx, "Typesense collection %s is not readable, inferring field types", idx.PhysicalName())
	default:
		return nil, err
	}

	resp, err := a.search(ctx, "schema_fields", idx.PhysicalName(), map[string]any{
		"q":        wildcard,
		"per_page": search.InferenceSampleSize,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		docs = append(docs, h.document())
	}
	return search.InferFieldTypes(docs), nil
}
