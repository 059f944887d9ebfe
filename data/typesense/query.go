package typesense

import (
	"strconv"
	"strings"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

const (
	// DefaultFacetSize is the number of values returned per facet
	DefaultFacetSize = 100

	wildcard = "*"
)

// searchRequest is a translated search plus what is needed to read the
// response back. facet_by is rendered late because histogram ranges may
// depend on a stats pre-flight.
type searchRequest struct {
	collection string
	params     map[string]any
	opts       *search.Params
	page       search.Pagination
	geoField   string
	facets     []string
}

// buildSearch translates query and opts into search parameters. Unknown
// option keys are copied over the parameters last, so native keys win.
func buildSearch(idx *search.Index, query string, opts search.Options) (*searchRequest, error) {
	params, rest, err := search.Extract(opts, idx)
	if err != nil {
		return nil, err
	}
	filter, err := filterBy(idx, params)
	if err != nil {
		return nil, err
	}
	sorting, err := sortBy(idx, params)
	if err != nil {
		return nil, err
	}

	req := &searchRequest{
		collection: idx.PhysicalName(),
		opts:       params,
		page:       search.PagePagination(rest, "page", "per_page", false, params.Pagination),
		geoField:   idx.GeoField(),
	}

	q := strings.TrimSpace(query)
	if q == "" {
		q = wildcard
	}
	body := map[string]any{
		"q":        q,
		"page":     params.Page,
		"per_page": params.PerPage,
	}
	if by, weights := queryBy(idx); by != "" {
		body["query_by"] = by
		if weights != "" {
			body["query_by_weights"] = weights
		}
	}
	if filter != "" {
		body["filter_by"] = filter
	}
	if sorting != "" {
		body["sort_by"] = sorting
	}
	if params.Attributes != nil {
		body["include_fields"] = strings.Join(append([]string{search.ObjectIDKey, IDKey}, params.Attributes...), ",")
	}
	if params.Highlight.Enabled {
		if len(params.Highlight.Fields) > 0 {
			body["highlight_fields"] = strings.Join(params.Highlight.Fields, ",")
		}
		body["highlight_start_tag"] = search.HighlightPreTag
		body["highlight_end_tag"] = search.HighlightPostTag
	}

	seen := make(map[string]bool)
	for _, group := range []struct {
		option string
		fields []string
	}{{search.OptFacets, params.Facets}, {search.OptStats, params.Stats}} {
		for _, f := range group.fields {
			if err := checkFacetable(params, group.option, f); err != nil {
				return nil, err
			}
			if !seen[f] {
				seen[f] = true
				req.facets = append(req.facets, f)
			}
		}
	}
	for _, h := range params.Histograms {
		if err := checkFacetable(params, search.OptHistogram, h.Field); err != nil {
			return nil, err
		}
		if contains(params.Facets, h.Field) {
			return nil, &search.TranslationError{
				Engine: search.Typesense,
				Option: search.OptHistogram,
				Field:  h.Field,
				Reason: "a field cannot be both a facet and a histogram",
			}
		}
	}
	if len(req.facets) > 0 || len(params.Histograms) > 0 {
		body["max_facet_values"] = DefaultFacetSize
	}

	if e := params.Embedding; e != nil {
		k := params.Offset() + params.PerPage
		vq := e.Field + ":([" + joinFloats(e.Vector) + "], k:" + strconv.Itoa(k)
		if e.Hybrid(query) {
			vq += ", alpha:" + formatFloat(e.SemanticRatio)
		}
		body["vector_query"] = vq + ")"
	}

	if params.Geo.Grid != nil && req.geoField == "" {
		return nil, &search.TranslationError{Engine: search.Typesense, Option: search.OptGeoGrid, Reason: "index has no geo_point field"}
	}

	req.params = rest.MergeInto(body)
	return req, nil
}

// queryBy lists the searchable string fields with their weights; weights
// are omitted when all are equal
func queryBy(idx *search.Index) (string, string) {
	var names, weights []string
	uniform := true
	for _, f := range idx.SearchableFields() {
		w := f.Weight
		if w < 1 {
			w = 1
		}
		uniform = uniform && w == 1
		names = append(names, f.Name)
		weights = append(weights, strconv.Itoa(w))
	}
	if uniform {
		return strings.Join(names, ","), ""
	}
	return strings.Join(names, ","), strings.Join(weights, ",")
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, ",")
}

// checkFacetable rejects fields the collection schema does not facet.
// Text fields are created without facet so they keep full-text tokens.
func checkFacetable(params *search.Params, option, field string) error {
	if err := params.CheckExact(search.Typesense, option, field); err != nil {
		return err
	}
	if params.TypeOf(field) == search.FieldText {
		return &search.TranslationError{
			Engine: search.Typesense,
			Option: option,
			Field:  field,
			Reason: "text fields cannot be faceted, declare a keyword or facet field",
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// withFacets returns the parameters with facet_by rendered; histogram
// fields with resolved ranges become range facets
func (req *searchRequest) withFacets(ranges map[string][]search.HistogramRange) map[string]any {
	var parts []string
	for _, f := range req.facets {
		if _, ok := ranges[f]; !ok {
			parts = append(parts, f)
		}
	}
	for _, h := range req.opts.Histograms {
		if r, ok := ranges[h.Field]; ok && len(r) > 0 {
			parts = append(parts, rangeFacet(h.Field, r))
		}
	}
	out := make(map[string]any, len(req.params)+1)
	for k, v := range req.params {
		out[k] = v
	}
	if len(parts) > 0 {
		if _, native := out["facet_by"]; !native {
			out["facet_by"] = strings.Join(parts, ",")
		}
	}
	return out
}

// preflight returns the parameters of a stats-only search over fields
func (req *searchRequest) preflight(fields []string) map[string]any {
	out := map[string]any{
		"q":                req.params["q"],
		"per_page":         0,
		"facet_by":         strings.Join(fields, ","),
		"max_facet_values": 1,
	}
	for _, k := range []string{"query_by", "filter_by"} {
		if v, ok := req.params[k]; ok {
			out[k] = v
		}
	}
	return out
}

type searchHit struct {
	Document       map[string]any `json:"document"`
	Highlights     []any          `json:"highlights"`
	TextMatch      *float64       `json:"text_match"`
	VectorDistance *float64       `json:"vector_distance"`
}

type facetCounts struct {
	FieldName string `json:"field_name"`
	Counts    []struct {
		Value string `json:"value"`
		Count int64  `json:"count"`
	} `json:"counts"`
	Stats map[string]any `json:"stats"`
}

type searchResponse struct {
	Found        int64         `json:"found"`
	SearchTimeMs int64         `json:"search_time_ms"`
	Hits         []searchHit   `json:"hits"`
	FacetCounts  []facetCounts `json:"facet_counts"`
	Code         int           `json:"code"`
	Error        string        `json:"error"`
}

func (r *searchResponse) facet(field string) *facetCounts {
	for i := range r.FacetCounts {
		if r.FacetCounts[i].FieldName == field {
			return &r.FacetCounts[i]
		}
	}
	return nil
}

// stat reads the numeric range of a facet field
func (r *searchResponse) stat(field string) (search.Stat, bool) {
	fc := r.facet(field)
	if fc == nil || fc.Stats["min"] == nil {
		return search.Stat{}, false
	}
	lo, errLo := convert.ToFloat(fc.Stats["min"])
	hi, errHi := convert.ToFloat(fc.Stats["max"])
	if errLo != nil || errHi != nil {
		return search.Stat{}, false
	}
	return search.Stat{Min: lo, Max: hi}, true
}

// score prefers text relevance; pure vector hits score 1 - distance
func (h searchHit) score() float64 {
	switch {
	case h.TextMatch != nil && *h.TextMatch > 0:
		return *h.TextMatch
	case h.VectorDistance != nil:
		return 1 - *h.VectorDistance
	}
	return 0
}

// document returns the stored document with objectID filled from id
func (h searchHit) document() map[string]any {
	doc := make(map[string]any, len(h.Document))
	for k, v := range h.Document {
		doc[k] = v
	}
	if _, ok := doc[search.ObjectIDKey]; !ok {
		if id, ok := doc[IDKey]; ok {
			doc[search.ObjectIDKey] = id
		}
	}
	delete(doc, IDKey)
	return doc
}

// result converts a decoded response into the canonical shape
func (req *searchRequest) result(resp *searchResponse, ranges map[string][]search.HistogramRange, stats map[string]search.Stat) *search.Result {
	params := req.opts
	hits := make([]search.Hit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		var highlights map[string][]string
		if params.Highlight.Enabled && len(h.Highlights) > 0 {
			highlights = params.Highlight.Select(search.HighlightsFromSnippets(h.Highlights))
		}
		hits = append(hits, search.NormalizeHit(h.document(), h.score(), highlights, params.FieldTypes))
	}
	res := search.NewResult(hits, resp.Found, req.page, resp.SearchTimeMs)

	for _, f := range params.Facets {
		counts := []search.FacetCount{}
		if fc := resp.facet(f); fc != nil {
			for _, c := range fc.Counts {
				counts = append(counts, search.FacetCount{Value: c.Value, Count: c.Count})
			}
			search.SortFacetCounts(counts)
		}
		res.Facets[f] = counts
	}
	for _, f := range params.Stats {
		if s, ok := stats[f]; ok {
			res.Stats[f] = s
		} else if s, ok := resp.stat(f); ok {
			res.Stats[f] = s
		}
	}
	for _, h := range params.Histograms {
		r := ranges[h.Field]
		counts := make([]int64, len(r))
		if fc := resp.facet(h.Field); fc != nil {
			for _, c := range fc.Counts {
				i, err := strconv.Atoi(strings.TrimPrefix(c.Value, "r"))
				if err == nil && i >= 0 && i < len(counts) {
					counts[i] = c.Count
				}
			}
		}
		res.Histograms[h.Field] = search.BucketsFromCounts(r, counts)
	}
	if grid := params.Geo.Grid; grid != nil {
		res.GeoClusters = search.ClusterHits(hits, req.geoField, grid.Precision)
	}
	return res
}
