package meilisearch

import (
	"encoding/json"

	"github.com/meilisearch/meilisearch-go"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

// searchRequest is a translated search body plus what is needed to read
// the response back and to synthesize histograms
type searchRequest struct {
	index    string
	query    string
	body     map[string]any
	params   *search.Params
	page     search.Pagination
	filters  []string
	geoField string
}

// buildSearch translates query and opts into a search body. Unknown
// option keys are copied over the body last, so native keys win.
func buildSearch(idx *search.Index, query string, opts search.Options) (*searchRequest, error) {
	params, rest, err := search.Extract(opts, idx)
	if err != nil {
		return nil, err
	}
	filters, err := filterExpressions(params)
	if err != nil {
		return nil, err
	}
	sortBy, err := sortExpressions(params)
	if err != nil {
		return nil, err
	}
	req := &searchRequest{
		index:    idx.PhysicalName(),
		query:    query,
		params:   params,
		filters:  filters,
		geoField: idx.GeoField(),
	}

	body := map[string]any{"showRankingScore": true}
	if rest.Has("offset") || rest.Has("limit") {
		req.page = search.OffsetPagination(rest, "offset", "limit", params.Pagination)
		body["offset"] = params.Offset()
		body["limit"] = params.PerPage
	} else {
		req.page = search.PagePagination(rest, "page", "hitsPerPage", false, params.Pagination)
		body["page"] = params.Page
		body["hitsPerPage"] = params.PerPage
	}

	if len(filters) > 0 {
		body["filter"] = filters
	}
	if len(sortBy) > 0 {
		body["sort"] = sortBy
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
	}

	facets, err := facetAttributes(params)
	if err != nil {
		return nil, err
	}
	if len(facets) > 0 {
		body["facets"] = facets
	}

	if e := params.Embedding; e != nil {
		ratio := 1.0
		if e.Hybrid(query) {
			ratio = e.SemanticRatio
		}
		body["vector"] = e.Vector
		body["hybrid"] = map[string]any{"embedder": e.Field, "semanticRatio": ratio}
	}

	if params.Geo.Grid != nil && req.geoField == "" {
		return nil, &search.TranslationError{Engine: search.Meilisearch, Option: search.OptGeoGrid, Reason: "index has no geo_point field"}
	}

	req.body = rest.MergeInto(body)
	return req, nil
}

// facetAttributes lists the facets, stats and histogram fields once each;
// stats and histogram bounds are read from facetStats
func facetAttributes(params *search.Params) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(option, field string) error {
		if err := params.CheckExact(search.Meilisearch, option, field); err != nil {
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

// sdkRequest converts the body into the SDK request type
func (req *searchRequest) sdkRequest() (*meilisearch.SearchRequest, error) {
	var sr meilisearch.SearchRequest
	if err := convert.Remarshal(req.body, &sr); err != nil {
		return nil, &search.TranslationError{Engine: search.Meilisearch, Reason: err.Error()}
	}
	return &sr, nil
}

// result converts a decoded response into the canonical shape
func (req *searchRequest) result(resp *searchResponse, raw json.RawMessage) *search.Result {
	params := req.params
	hits := make([]search.Hit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		score, _ := convert.ToFloat(h["_rankingScore"])
		var highlights map[string][]string
		if params.Highlight.Enabled {
			if formatted, err := convert.ToObject(h["_formatted"]); err == nil {
				highlights = params.Highlight.Select(search.HighlightsFromInline(formatted, search.HighlightPreTag))
			}
		}
		hits = append(hits, search.NormalizeHit(document(h), score, highlights, params.FieldTypes))
	}
	res := search.NewResult(hits, resp.total(), req.page, resp.ProcessingTimeMs)
	if raw != nil {
		res.Raw = raw
	}

	dist := search.NormalizeFacetDistribution(resp.FacetDistribution)
	for _, f := range params.Facets {
		counts := dist[f]
		if counts == nil {
			counts = []search.FacetCount{}
		}
		res.Facets[f] = counts
	}
	for _, f := range params.Stats {
		if s, ok := resp.FacetStats[f]; ok {
			res.Stats[f] = s
		}
	}
	if grid := params.Geo.Grid; grid != nil {
		res.GeoClusters = search.ClusterHits(hits, req.geoField, grid.Precision)
	}
	return res
}
