package algolia

import (
	"encoding/json"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

// DefaultFacetSize is the number of values returned per facet
const DefaultFacetSize = 100

// searchRequest is a translated search plus what is needed to read the
// response back and to synthesize histograms
type searchRequest struct {
	index    string
	query    string
	params   map[string]any
	opts     *search.Params
	page     search.Pagination
	filters  string
	geo      map[string]any
	geoField string
}

// buildSearch translates query and opts into search parameters. Unknown
// option keys are copied over the parameters last, so native keys win.
func buildSearch(idx *search.Index, query string, opts search.Options) (*searchRequest, error) {
	params, rest, err := search.Extract(opts, idx)
	if err != nil {
		return nil, err
	}
	if params.Embedding != nil {
		return nil, &search.TranslationError{Engine: search.Algolia, Option: search.OptEmbedding, Reason: "vector queries are not supported"}
	}
	filters, err := filterString(params)
	if err != nil {
		return nil, err
	}
	index, err := sortIndex(idx.PhysicalName(), params)
	if err != nil {
		return nil, err
	}

	geo, err := geoParams(params)
	if err != nil {
		return nil, err
	}
	req := &searchRequest{
		index:    index,
		query:    query,
		opts:     params,
		filters:  filters,
		geo:      geo,
		geoField: idx.GeoField(),
	}
	if params.Geo.Grid != nil && req.geoField == "" {
		return nil, &search.TranslationError{Engine: search.Algolia, Option: search.OptGeoGrid, Reason: "index has no geo_point field"}
	}

	body := map[string]any{"query": query}
	if rest.Has("offset") || rest.Has("length") {
		req.page = search.OffsetPagination(rest, "offset", "length", params.Pagination)
		body["offset"] = params.Offset()
		body["length"] = params.PerPage
	} else {
		req.page = search.PagePagination(rest, "page", "hitsPerPage", true, params.Pagination)
		body["page"] = params.Page - 1
		body["hitsPerPage"] = params.PerPage
	}
	if filters != "" {
		body["filters"] = filters
	}
	for k, v := range req.geo {
		body[k] = v
	}
	if params.Attributes != nil {
		body["attributesToRetrieve"] = append([]string{search.ObjectIDKey}, params.Attributes...)
	}
	if params.Highlight.Enabled {
		fields := params.Highlight.Fields
		if len(fields) == 0 {
			fields = []string{"*"}
		}
		body["attributesToHighlight"] = fields
		body["highlightPreTag"] = search.HighlightPreTag
		body["highlightPostTag"] = search.HighlightPostTag
	} else {
		body["attributesToHighlight"] = []string{}
	}

	facets, err := facetAttributes(params)
	if err != nil {
		return nil, err
	}
	if len(facets) > 0 {
		body["facets"] = facets
		body["maxValuesPerFacet"] = DefaultFacetSize
	}

	req.params = rest.MergeInto(body)
	return req, nil
}

// facetAttributes lists the facets, stats and histogram fields once each;
// stats and histogram bounds are read from facets_stats
func facetAttributes(params *search.Params) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(option, field string) error {
		if err := params.CheckExact(search.Algolia, option, field); err != nil {
			return err
		}
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
		return nil
	}
	for _, f := range params.Facets {
		if err := add(search.OptFacets, f); err != nil {
			return nil, err
		}
	}
	for _, f := range params.Stats {
		if err := add(search.OptStats, f); err != nil {
			return nil, err
		}
	}
	for _, h := range params.Histograms {
		if err := add(search.OptHistogram, h.Field); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// countQuery returns the parameters of a hit-count-only query narrowed by
// extra, keeping the text query, filters and geo constraint of req
func (req *searchRequest) countQuery(extra string) map[string]any {
	out := map[string]any{
		"query":                 req.query,
		"hitsPerPage":           0,
		"attributesToRetrieve":  []string{search.ObjectIDKey},
		"attributesToHighlight": []string{},
		"analytics":             false,
	}
	if filters := and(req.filters, extra); filters != "" {
		out["filters"] = filters
	}
	for k, v := range req.geo {
		out[k] = v
	}
	return out
}

type searchResponse struct {
	Hits             []map[string]any            `json:"hits"`
	NbHits           int64                       `json:"nbHits"`
	Page             int                         `json:"page"`
	HitsPerPage      int                         `json:"hitsPerPage"`
	ProcessingTimeMS int64                       `json:"processingTimeMS"`
	Facets           map[string]map[string]int64 `json:"facets"`
	FacetsStats      map[string]search.Stat      `json:"facets_stats"`
	Index            string                      `json:"index"`
	Message          string                      `json:"message"`
}

// document drops the reserved attributes of a stored object
func document(raw map[string]any) search.Document {
	doc := search.Document(raw)
	delete(doc, GeoKey)
	return doc
}

// rankScore scores the hit at zero-based position i of the whole result
// list; Algolia ranks by tie-breaking criteria and exposes no score
func rankScore(offset, i int) float64 {
	return 1 / float64(offset+i+1)
}

// result converts a decoded response into the canonical shape
func (req *searchRequest) result(resp *searchResponse, raw json.RawMessage) *search.Result {
	params := req.opts
	offset := (req.page.Page - 1) * req.page.PerPage
	hits := make([]search.Hit, 0, len(resp.Hits))
	for i, h := range resp.Hits {
		var highlights map[string][]string
		if params.Highlight.Enabled {
			if hr, err := convert.ToObject(h["_highlightResult"]); err == nil {
				highlights = params.Highlight.Select(search.HighlightsFromMatchLevels(hr))
			}
		}
		hits = append(hits, search.NormalizeHit(document(h), rankScore(offset, i), highlights, params.FieldTypes))
	}
	res := search.NewResult(hits, resp.NbHits, req.page, resp.ProcessingTimeMS)
	if raw != nil {
		res.Raw = raw
	}

	for _, f := range params.Facets {
		res.Facets[f] = search.NormalizeFacetCounts(resp.Facets[f])
	}
	for _, f := range params.Stats {
		if s, ok := resp.FacetsStats[f]; ok {
			res.Stats[f] = s
		}
	}
	if grid := params.Geo.Grid; grid != nil {
		res.GeoClusters = search.ClusterHits(hits, req.geoField, grid.Precision)
	}
	return res
}
