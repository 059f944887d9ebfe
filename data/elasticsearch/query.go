package elasticsearch

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/ncobase/nsearch/data/search"
)

const (
	// DefaultFacetSize is the number of terms returned per facet
	DefaultFacetSize = 100
	// SuggestSize is the number of phrase suggestions requested
	SuggestSize = 5

	facetAggPrefix     = "facet:"
	statsAggPrefix     = "stats:"
	histogramAggPrefix = "histogram:"
	geoGridAgg         = "geo_grid"
	suggestName        = "phrase"
)

// searchRequest is a translated search body plus what is needed to read
// the response back
type searchRequest struct {
	body   map[string]any
	params *search.Params
	page   search.Pagination
	dates  map[string]bool
}

// buildSearch translates query and opts into a search body. Unknown option
// keys are copied over the body last, so native keys win.
func (a *Adapter) buildSearch(idx *search.Index, query string, opts search.Options) (*searchRequest, error) {
	params, rest, err := search.Extract(opts, idx)
	if err != nil {
		return nil, err
	}
	engine := a.flavor.Engine
	req := &searchRequest{
		params: params,
		page:   search.OffsetPagination(rest, "from", "size", params.Pagination),
		dates:  make(map[string]bool),
	}

	filters, err := a.filterClauses(idx, params)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"from":             params.Offset(),
		"size":             params.PerPage,
		"track_total_hits": true,
	}

	var must []any
	if q := strings.TrimSpace(query); q != "" {
		must = append(must, textQuery(idx, q))
	}

	var should []any
	if e := params.Embedding; e != nil {
		k := params.Offset() + params.PerPage
		knn := a.flavor.KNNQuery(e.Field, e.Vector, k)
		switch {
		case a.flavor.KNNTopLevel:
			if len(filters) > 0 {
				knn["filter"] = filters
			}
			if len(must) > 0 {
				knn["boost"] = e.SemanticRatio
			}
			body["knn"] = knn
		case len(must) > 0:
			should = append(should, must[0], knn)
			must = nil
		default:
			must = append(must, knn)
		}
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(should) > 0 {
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	switch {
	case len(boolQuery) > 0:
		body["query"] = map[string]any{"bool": boolQuery}
	case body["knn"] == nil:
		body["query"] = map[string]any{"match_all": map[string]any{}}
	}

	sortClauses, err := a.sortClauses(idx, params)
	if err != nil {
		return nil, err
	}
	if sortClauses != nil {
		body["sort"] = sortClauses
	}

	if params.Attributes != nil {
		body["_source"] = append([]string{search.ObjectIDKey}, params.Attributes...)
	}

	if params.Highlight.Enabled {
		body["highlight"] = highlightClause(idx, params.Highlight)
	}

	if params.Suggest && strings.TrimSpace(query) != "" {
		if field := a.suggestField(idx); field != "" {
			body["suggest"] = map[string]any{
				"text": query,
				suggestName: map[string]any{
					"phrase": map[string]any{
						"field":     field,
						"size":      SuggestSize,
						"gram_size": 1,
						"direct_generator": []any{
							map[string]any{"field": field, "suggest_mode": "always"},
						},
					},
				},
			}
		}
	}

	aggs := map[string]any{}
	for _, f := range params.Facets {
		if err := params.CheckExact(engine, search.OptFacets, f); err != nil {
			return nil, err
		}
		aggs[facetAggPrefix+f] = map[string]any{
			"terms": map[string]any{"field": params.ExactField(f, KeywordSuffix), "size": DefaultFacetSize},
		}
	}
	for _, f := range params.Stats {
		if err := params.CheckExact(engine, search.OptStats, f); err != nil {
			return nil, err
		}
		aggs[statsAggPrefix+f] = map[string]any{"stats": map[string]any{"field": f}}
		req.dates[f] = params.TypeOf(f) == search.FieldDate
	}
	for _, h := range params.Histograms {
		if err := params.CheckExact(engine, search.OptHistogram, h.Field); err != nil {
			return nil, err
		}
		// date fields aggregate on epoch milliseconds
		scale := 1.0
		if params.TypeOf(h.Field) == search.FieldDate {
			scale = 1000
			req.dates[h.Field] = true
		}
		hist := map[string]any{"field": h.Field, "interval": h.Interval * scale, "min_doc_count": 0}
		if h.HasBounds() {
			if _, err := search.HistogramRanges(h.Interval, *h.Min, *h.Max); err != nil {
				return nil, err
			}
			bounds := map[string]any{"min": *h.Min * scale, "max": *h.Max * scale}
			hist["extended_bounds"] = bounds
			hist["hard_bounds"] = bounds
		}
		aggs[histogramAggPrefix+h.Field] = map[string]any{"histogram": hist}
	}
	if grid := params.Geo.Grid; grid != nil {
		field := idx.GeoField()
		if field == "" {
			return nil, &search.TranslationError{Engine: engine, Option: search.OptGeoGrid, Reason: "index has no geo_point field"}
		}
		aggs[geoGridAgg] = map[string]any{
			"geohash_grid": map[string]any{"field": field, "precision": grid.Precision},
			"aggs": map[string]any{
				"centroid": map[string]any{"geo_centroid": map[string]any{"field": field}},
				"sample":   map[string]any{"top_hits": map[string]any{"size": 1}},
			},
		}
	}
	if len(aggs) > 0 {
		body["aggs"] = aggs
	}

	req.body = rest.MergeInto(body)
	return req, nil
}

// textQuery matches q over the searchable fields, boosted by weight
func textQuery(idx *search.Index, q string) map[string]any {
	var fields []string
	for _, f := range idx.SearchableFields() {
		name := f.Name
		if f.Weight > 1 {
			name += "^" + strconv.Itoa(f.Weight)
		}
		fields = append(fields, name)
	}
	if len(fields) == 0 {
		return map[string]any{"simple_query_string": map[string]any{"query": q, "lenient": true}}
	}
	return map[string]any{
		"multi_match": map[string]any{
			"query":     q,
			"fields":    fields,
			"type":      "best_fields",
			"fuzziness": "AUTO",
			"lenient":   true,
		},
	}
}

// filterClauses translates filters and the geo filter into filter context
func (a *Adapter) filterClauses(idx *search.Index, params *search.Params) ([]any, error) {
	engine := a.flavor.Engine
	var out []any
	for _, f := range params.Filters {
		if err := params.CheckExact(engine, search.OptFilters, f.Field); err != nil {
			return nil, err
		}
		field := params.ExactField(f.Field, KeywordSuffix)
		isDate := params.TypeOf(f.Field) == search.FieldDate

		if f.IsRange() {
			bounds := map[string]any{}
			if f.Range.Min != nil {
				bounds["gte"] = *f.Range.Min
			}
			if f.Range.Max != nil {
				bounds["lte"] = *f.Range.Max
			}
			if isDate {
				bounds["format"] = "epoch_second"
			}
			out = append(out, map[string]any{"range": map[string]any{field: bounds}})
			continue
		}

		values := make([]any, len(f.Values))
		for i, v := range f.Values {
			if isDate {
				v = search.NormalizeDate(v, search.DateISO8601)
			}
			values[i] = v
		}
		if len(values) == 1 {
			out = append(out, map[string]any{"term": map[string]any{field: values[0]}})
		} else {
			out = append(out, map[string]any{"terms": map[string]any{field: values}})
		}
	}

	if gf := params.Geo.Filter; gf != nil {
		field := idx.GeoField()
		if field == "" {
			return nil, &search.TranslationError{Engine: engine, Option: search.OptGeoFilter, Reason: "index has no geo_point field"}
		}
		out = append(out, map[string]any{
			"geo_distance": map[string]any{
				"distance": strconv.FormatFloat(gf.Radius, 'f', -1, 64) + "m",
				field:      geoPoint(gf.GeoPoint),
			},
		})
	}
	return out, nil
}

// sortClauses returns nil when the engine default (relevance) applies
func (a *Adapter) sortClauses(idx *search.Index, params *search.Params) (any, error) {
	if params.Sort.Native != nil {
		return params.Sort.Native, nil
	}
	var out []any
	for _, f := range params.Sort.Fields {
		if err := params.CheckExact(a.flavor.Engine, search.OptSort, f.Field); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			params.ExactField(f.Field, KeywordSuffix): map[string]any{"order": f.Direction()},
		})
	}
	if p := params.Geo.Sort; p != nil {
		field := idx.GeoField()
		if field == "" {
			return nil, &search.TranslationError{Engine: a.flavor.Engine, Option: search.OptGeoSort, Reason: "index has no geo_point field"}
		}
		out = append(out, map[string]any{
			"_geo_distance": map[string]any{field: geoPoint(*p), "order": "asc", "unit": "m"},
		})
	}
	if out == nil {
		return nil, nil
	}
	return out, nil
}

func highlightClause(idx *search.Index, h search.Highlight) map[string]any {
	names := h.Fields
	if len(names) == 0 {
		for _, f := range idx.SearchableFields() {
			if f.Type == search.FieldText {
				names = append(names, f.Name)
			}
		}
	}
	if len(names) == 0 {
		names = []string{"*"}
	}
	fields := make(map[string]any, len(names))
	for _, n := range names {
		fields[n] = map[string]any{}
	}
	return map[string]any{
		"pre_tags":            []string{search.HighlightPreTag},
		"post_tags":           []string{search.HighlightPostTag},
		"require_field_match": false,
		"fields":              fields,
	}
}

func geoPoint(p search.GeoPoint) map[string]any {
	return map[string]any{"lat": p.Lat, "lon": p.Lng}
}

// lucene regular expression operators
const regexpReserved = `.?+*|{}[]()"\#@&<>~`

// FacetIncludePattern returns the terms include regex matching values that
// contain q, case-insensitively
func FacetIncludePattern(q string) string {
	var b strings.Builder
	b.WriteString(".*")
	for _, r := range q {
		lower, upper := unicode.ToLower(r), unicode.ToUpper(r)
		switch {
		case lower != upper:
			b.WriteByte('[')
			b.WriteRune(lower)
			b.WriteRune(upper)
			b.WriteByte(']')
		case strings.ContainsRune(regexpReserved, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(".*")
	return b.String()
}
