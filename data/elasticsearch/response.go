package elasticsearch

import (
	"encoding/json"
	"strings"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

type searchHit struct {
	ID        string         `json:"_id"`
	Score     *float64       `json:"_score"`
	Source    map[string]any `json:"_source"`
	Highlight map[string]any `json:"highlight"`
	Sort      []any          `json:"sort"`
}

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total any         `json:"total"`
		Hits  []searchHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]map[string]any `json:"aggregations"`
	Suggest      map[string][]struct {
		Options []struct {
			Text string `json:"text"`
		} `json:"options"`
	} `json:"suggest"`
	Error  any `json:"error"`
	Status int `json:"status"`
}

// total reads hits.total as an object or a bare number
func (r *searchResponse) total() int64 {
	switch t := r.Hits.Total.(type) {
	case map[string]any:
		n, _ := convert.ToInt(t["value"])
		return n
	default:
		n, _ := convert.ToInt(t)
		return n
	}
}

// document returns the source of h with objectID filled from _id
func (h searchHit) document() map[string]any {
	doc := make(map[string]any, len(h.Source)+1)
	for k, v := range h.Source {
		doc[k] = v
	}
	if _, ok := doc[search.ObjectIDKey]; !ok && h.ID != "" {
		doc[search.ObjectIDKey] = h.ID
	}
	return doc
}

func (h searchHit) hit(types map[string]search.FieldType, highlight search.Highlight) search.Hit {
	score := 0.0
	if h.Score != nil {
		score = *h.Score
	}
	var highlights map[string][]string
	if len(h.Highlight) > 0 {
		highlights = highlight.Select(search.HighlightsFromFragments(trimKeywordKeys(h.Highlight)))
	}
	return search.NormalizeHit(h.document(), score, highlights, types)
}

// trimKeywordKeys folds highlights of keyword siblings into their text field
func trimKeywordKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		name := strings.TrimSuffix(k, KeywordSuffix)
		if _, ok := out[name]; ok && name != k {
			continue
		}
		out[name] = v
	}
	return out
}

// result converts a decoded response into the canonical shape
func (req *searchRequest) result(query string, resp *searchResponse, raw []byte) *search.Result {
	params := req.params
	hits := make([]search.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, h.hit(params.FieldTypes, params.Highlight))
	}
	res := search.NewResult(hits, resp.total(), req.page, resp.Took)
	res.Raw = json.RawMessage(raw)

	for _, f := range params.Facets {
		agg := resp.Aggregations[facetAggPrefix+f]
		var counts []search.FacetCount
		for _, b := range convert.ToSlice(agg["buckets"]) {
			counts = append(counts, facetBucket(b))
		}
		search.SortFacetCounts(counts)
		if counts == nil {
			counts = []search.FacetCount{}
		}
		res.Facets[f] = counts
	}

	for _, f := range params.Stats {
		agg := resp.Aggregations[statsAggPrefix+f]
		lo, errLo := convert.ToFloat(agg["min"])
		hi, errHi := convert.ToFloat(agg["max"])
		if agg == nil || agg["min"] == nil || errLo != nil || errHi != nil {
			continue
		}
		if req.dates[f] {
			lo, hi = lo/1000, hi/1000
		}
		res.Stats[f] = search.Stat{Min: lo, Max: hi}
	}

	for _, h := range params.Histograms {
		agg := resp.Aggregations[histogramAggPrefix+h.Field]
		buckets := []search.Bucket{}
		for _, raw := range convert.ToSlice(agg["buckets"]) {
			b, err := convert.ToObject(raw)
			if err != nil {
				continue
			}
			key, _ := convert.ToFloat(b["key"])
			if req.dates[h.Field] {
				key /= 1000
			}
			count, _ := convert.ToInt(b["doc_count"])
			buckets = append(buckets, search.Bucket{Key: key, Count: count})
		}
		res.Histograms[h.Field] = buckets
	}

	if params.Geo.Grid != nil {
		res.GeoClusters = geoClusters(resp.Aggregations[geoGridAgg], params.FieldTypes)
	}

	var candidates []string
	for _, entry := range resp.Suggest[suggestName] {
		for _, o := range entry.Options {
			candidates = append(candidates, o.Text)
		}
	}
	if len(candidates) > 0 {
		res.Suggestions = search.DistinctSuggestions(query, candidates)
	}
	return res
}

func facetBucket(raw any) search.FacetCount {
	b, _ := convert.ToObject(raw)
	value := convert.ToString(b["key"])
	if s, ok := b["key_as_string"].(string); ok {
		value = s
	}
	count, _ := convert.ToInt(b["doc_count"])
	return search.FacetCount{Value: value, Count: count}
}

func geoClusters(agg map[string]any, types map[string]search.FieldType) []search.GeoCluster {
	out := []search.GeoCluster{}
	for _, raw := range convert.ToSlice(agg["buckets"]) {
		b, err := convert.ToObject(raw)
		if err != nil {
			continue
		}
		c := search.GeoCluster{Geohash: convert.ToString(b["key"])}
		c.Count, _ = convert.ToInt(b["doc_count"])

		if centroid, err := convert.ToObject(b["centroid"]); err == nil {
			if loc, err := convert.ToObject(centroid["location"]); err == nil {
				c.Lat, _ = convert.ToFloat(loc["lat"])
				c.Lng, _ = convert.ToFloat(loc["lon"])
			}
		} else if p, ok := search.DecodeGeohash(c.Geohash); ok {
			c.Lat, c.Lng = p.Lat, p.Lng
		}

		if sample, err := convert.ToObject(b["sample"]); err == nil {
			var top struct {
				Hits struct {
					Hits []searchHit `json:"hits"`
				} `json:"hits"`
			}
			if convert.Remarshal(sample, &top) == nil && len(top.Hits.Hits) > 0 {
				h := top.Hits.Hits[0].hit(types, search.Highlight{})
				c.Hit = &h
			}
		}
		out = append(out, c)
	}
	return out
}
