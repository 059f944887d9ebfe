// Package searchtest provides an in-memory search.Adapter for tests.
package searchtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

// Memory is an in-memory adapter. Production names may be aliases to a
// physical store when atomic swaps are enabled.
type Memory struct {
	mu         sync.RWMutex
	engine     search.Engine
	atomicSwap bool
	stores     map[string]map[string]search.Document
	aliases    map[string]string
	calls      []string

	// Errors returned by operation name, e.g. "SwapIndex"
	Fail map[string]error
	// Reject makes bulk writes refuse these ids with the given reason
	Reject map[string]string
	// Reachable is the TestConnection answer
	Reachable bool
}

// NewMemory creates an empty adapter serving engine
func NewMemory(engine search.Engine, atomicSwap bool) *Memory {
	return &Memory{
		engine:     engine,
		atomicSwap: atomicSwap,
		stores:     make(map[string]map[string]search.Document),
		aliases:    make(map[string]string),
		Fail:       make(map[string]error),
		Reject:     make(map[string]string),
		Reachable:  true,
	}
}

// Factory returns a factory always yielding m
func Factory(m *Memory) search.AdapterFactory {
	return func(*search.EngineConfig) (search.Adapter, error) { return m, nil }
}

// Calls returns the operation log
func (m *Memory) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Stores returns the names of existing physical stores
func (m *Memory) Stores() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.stores))
	for name := range m.stores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the physical store behind name
func (m *Memory) Resolve(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolve(name)
}

func (m *Memory) resolve(name string) string {
	if target, ok := m.aliases[name]; ok {
		return target
	}
	return name
}

func (m *Memory) record(op string) error {
	m.calls = append(m.calls, op)
	return m.Fail[op]
}

func (m *Memory) store(idx *search.Index) (map[string]search.Document, string) {
	name := m.resolve(idx.PhysicalName())
	return m.stores[name], name
}

func (m *Memory) Engine() search.Engine { return m.engine }

func (m *Memory) DisplayName() string { return "Memory (" + string(m.engine) + ")" }

func (m *Memory) TestConnection(context.Context) bool { return m.Reachable }

func (m *Memory) CreateIndex(_ context.Context, idx *search.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateIndex"); err != nil {
		return err
	}
	name := m.resolve(idx.PhysicalName())
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = make(map[string]search.Document)
	}
	return nil
}

func (m *Memory) UpdateIndexSettings(_ context.Context, _ *search.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("UpdateIndexSettings")
}

func (m *Memory) DeleteIndex(_ context.Context, idx *search.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteIndex"); err != nil {
		return err
	}
	delete(m.stores, m.resolve(idx.PhysicalName()))
	return nil
}

func (m *Memory) IndexExists(_ context.Context, idx *search.Index) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, _ := m.store(idx)
	return s != nil, nil
}

func (m *Memory) IndexDocument(ctx context.Context, idx *search.Index, doc search.Document) error {
	res, err := m.IndexDocuments(ctx, idx, []search.Document{doc})
	if err != nil {
		return err
	}
	return res.Err(m.engine)
}

func (m *Memory) IndexDocuments(_ context.Context, idx *search.Index, docs []search.Document) (*search.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("IndexDocuments"); err != nil {
		return nil, err
	}
	s, name := m.store(idx)
	if s == nil {
		s = make(map[string]search.Document)
		m.stores[name] = s
	}
	var failures []search.ItemFailure
	types := idx.FieldTypes()
	for _, doc := range docs {
		id := doc.ID()
		if reason, ok := m.Reject[id]; ok {
			failures = append(failures, search.ItemFailure{ID: id, Status: 400, Reason: reason})
			continue
		}
		s[id] = doc.NormalizeDates(types, search.DateEpochSeconds)
	}
	res := search.NewBulkResult("index", len(docs), failures)
	return res, res.Err(m.engine)
}

func (m *Memory) DeleteDocument(ctx context.Context, idx *search.Index, id string) error {
	_, err := m.DeleteDocuments(ctx, idx, []string{id})
	return err
}

func (m *Memory) DeleteDocuments(_ context.Context, idx *search.Index, ids []string) (*search.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteDocuments"); err != nil {
		return nil, err
	}
	s, _ := m.store(idx)
	for _, id := range ids {
		delete(s, id)
	}
	return search.NewBulkResult("delete", len(ids), nil), nil
}

func (m *Memory) FlushIndex(_ context.Context, idx *search.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FlushIndex"); err != nil {
		return err
	}
	if _, name := m.store(idx); m.stores[name] != nil {
		m.stores[name] = make(map[string]search.Document)
	}
	return nil
}

func (m *Memory) GetDocument(_ context.Context, idx *search.Index, id string) (search.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, _ := m.store(idx)
	doc, ok := s[id]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (m *Memory) Search(_ context.Context, idx *search.Index, query string, opts search.Options) (*search.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Fail["Search"]; err != nil {
		return nil, err
	}
	s, name := m.store(idx)
	if s == nil {
		return nil, &search.NotFoundError{Engine: m.engine, Index: name}
	}
	params, rest, err := search.Extract(opts, idx)
	if err != nil {
		return nil, err
	}
	page := search.OffsetPagination(rest, "offset", "limit", params.Pagination)

	var matched []search.Document
	for _, doc := range s {
		if !matchesQuery(doc, query) {
			continue
		}
		ok, err := matchesFilters(doc, params)
		if err != nil {
			return nil, err
		}
		if ok && matchesGeo(doc, idx.GeoField(), params.Geo.Filter) {
			matched = append(matched, doc)
		}
	}
	sortDocuments(matched, params.Sort)

	res := search.NewResult(nil, int64(len(matched)), page, 0)
	for i := page.Offset(); i < len(matched) && i < page.Offset()+page.PerPage; i++ {
		doc := matched[i]
		hit := search.NormalizeHit(selectFields(doc, params.Attributes), 1, nil, params.FieldTypes)
		hit.Highlights = params.Highlight.Select(highlight(doc, query))
		res.Hits = append(res.Hits, hit)
	}
	for _, f := range params.Facets {
		counts := make(map[string]int64)
		for _, doc := range matched {
			for _, v := range convert.ToSlice(doc[f]) {
				counts[convert.ToString(v)]++
			}
		}
		res.Facets[f] = search.NormalizeFacetCounts(counts)
	}
	for _, f := range params.Stats {
		if st, ok := stat(matched, f); ok {
			res.Stats[f] = st
		}
	}
	for _, h := range params.Histograms {
		values := numbers(matched, h.Field)
		st, ok := stat(matched, h.Field)
		lo, hi, ok := search.HistogramBounds(h, statPtr(st, ok))
		if !ok {
			continue
		}
		buckets, err := search.BuildHistogram(values, h.Interval, lo, hi)
		if err != nil {
			return nil, err
		}
		res.Histograms[h.Field] = buckets
	}
	if params.Geo.Grid != nil {
		all := make([]search.Hit, 0, len(matched))
		for _, doc := range matched {
			all = append(all, search.NormalizeHit(doc, 1, nil, params.FieldTypes))
		}
		res.GeoClusters = search.ClusterHits(all, idx.GeoField(), params.Geo.Grid.Precision)
	}
	return res, nil
}

func (m *Memory) MultiSearch(ctx context.Context, queries []search.Query) ([]*search.Result, error) {
	return search.SequentialMultiSearch(ctx, queries, m.Search)
}

func (m *Memory) SearchFacetValues(ctx context.Context, idx *search.Index, req search.FacetValuesRequest) (map[string][]search.FacetCount, error) {
	opts := req.FilterOptions()
	opts[search.OptFacets] = req.Fields
	opts[search.OptPerPage] = 1
	res, err := m.Search(ctx, idx, "", opts)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]search.FacetCount, len(req.Fields))
	for _, f := range req.Fields {
		out[f] = search.FilterFacetCounts(res.Facets[f], req.Query, req.Limit())
	}
	return out, nil
}

func (m *Memory) GetDocumentCount(_ context.Context, idx *search.Index) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, name := m.store(idx)
	if s == nil {
		return 0, &search.NotFoundError{Engine: m.engine, Index: name}
	}
	return int64(len(s)), nil
}

func (m *Memory) GetAllDocumentIDs(_ context.Context, idx *search.Index) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, _ := m.store(idx)
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) GetIndexSchema(_ context.Context, idx *search.Index) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, name := m.store(idx)
	if s == nil {
		return map[string]any{"error": fmt.Sprintf("index %s not found", name)}
	}
	fields := make(map[string]any)
	for _, f := range idx.EnabledFields() {
		fields[f.Name] = string(f.Type)
	}
	return map[string]any{"name": name, "fields": fields}
}

func (m *Memory) GetSchemaFields(_ context.Context, idx *search.Index) ([]search.SchemaField, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, _ := m.store(idx)
	docs := make([]search.Document, 0, len(s))
	for _, doc := range s {
		docs = append(docs, doc)
		if len(docs) == search.InferenceSampleSize {
			break
		}
	}
	return search.InferFieldTypes(docs), nil
}

func (m *Memory) SupportsAtomicSwap() bool { return m.atomicSwap }

func (m *Memory) BuildSwapHandle(_ context.Context, idx *search.Index) (*search.Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prod := idx.PhysicalName()
	return idx.WithPhysicalName(search.NextSwapName(prod, m.resolve(prod))), nil
}

func (m *Memory) SwapIndex(_ context.Context, idx, swapIdx *search.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SwapIndex"); err != nil {
		return err
	}
	prod := idx.PhysicalName()
	old := m.resolve(prod)
	m.aliases[prod] = swapIdx.PhysicalName()
	delete(m.stores, old)
	return nil
}

func matchesQuery(doc search.Document, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, v := range doc {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func matchesFilters(doc search.Document, params *search.Params) (bool, error) {
	for _, f := range params.Filters {
		if err := params.CheckExact("", search.OptFilters, f.Field); err != nil {
			return false, err
		}
		v, ok := doc[f.Field]
		if !ok {
			return false, nil
		}
		if f.IsRange() {
			n, err := convert.ToFloat(v)
			if err != nil {
				return false, nil
			}
			if (f.Range.Min != nil && n < *f.Range.Min) || (f.Range.Max != nil && n > *f.Range.Max) {
				return false, nil
			}
			continue
		}
		found := false
		for _, have := range convert.ToSlice(v) {
			for _, want := range f.Values {
				if convert.ToString(have) == convert.ToString(want) {
					found = true
				}
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func matchesGeo(doc search.Document, field string, f *search.GeoFilter) bool {
	if f == nil {
		return true
	}
	p, err := search.ParseGeoPoint(doc[field])
	if err != nil {
		return false
	}
	return search.DistanceMeters(f.GeoPoint, p) <= f.Radius
}

func sortDocuments(docs []search.Document, s search.Sort) {
	if len(s.Fields) == 0 {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range s.Fields {
			c := compare(docs[i][f.Field], docs[j][f.Field])
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID() < docs[j].ID()
	})
}

func compare(a, b any) int {
	fa, errA := convert.ToFloat(a)
	fb, errB := convert.ToFloat(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(convert.ToString(a), convert.ToString(b))
}

func selectFields(doc search.Document, attrs []string) map[string]any {
	if attrs == nil {
		return doc
	}
	out := map[string]any{search.ObjectIDKey: doc[search.ObjectIDKey]}
	for _, a := range attrs {
		if v, ok := doc[a]; ok {
			out[a] = v
		}
	}
	return out
}

func highlight(doc search.Document, query string) map[string][]string {
	out := make(map[string][]string)
	q := strings.TrimSpace(query)
	if q == "" {
		return out
	}
	for k, v := range doc {
		s, ok := v.(string)
		if !ok {
			continue
		}
		i := strings.Index(strings.ToLower(s), strings.ToLower(q))
		if i < 0 {
			continue
		}
		out[k] = []string{s[:i] + search.HighlightPreTag + s[i:i+len(q)] + search.HighlightPostTag + s[i+len(q):]}
	}
	return out
}

func numbers(docs []search.Document, field string) []float64 {
	var out []float64
	for _, doc := range docs {
		if f, err := convert.ToFloat(doc[field]); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func stat(docs []search.Document, field string) (search.Stat, bool) {
	values := numbers(docs, field)
	if len(values) == 0 {
		return search.Stat{}, false
	}
	st := search.Stat{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range values {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	return st, true
}

func statPtr(st search.Stat, ok bool) *search.Stat {
	if !ok {
		return nil
	}
	return &st
}
