package search

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFacetCounts(t *testing.T) {
	got := NormalizeFacetCounts(map[string]int64{"News": 12, "Blog": 5})
	assert.Equal(t, []FacetCount{{Value: "News", Count: 12}, {Value: "Blog", Count: 5}}, got)

	got = NormalizeFacetCounts(map[string]int64{"b": 1, "a": 1, "c": 3})
	assert.Equal(t, []FacetCount{{"c", 3}, {"a", 1}, {"b", 1}}, got)

	dist := NormalizeFacetDistribution(map[string]any{
		"section": map[string]any{"News": json.Number("12"), "Blog": 5.0},
		"broken":  "x",
	})
	assert.Equal(t, []FacetCount{{"News", 12}, {"Blog", 5}}, dist["section"])
	assert.NotContains(t, dist, "broken")
}

func TestFilterFacetCounts(t *testing.T) {
	counts := []FacetCount{{"Politics", 9}, {"Sports", 7}, {"Polls", 3}}
	assert.Equal(t, []FacetCount{{"Politics", 9}, {"Polls", 3}}, FilterFacetCounts(counts, "pol", 10))
	assert.Equal(t, []FacetCount{{"Politics", 9}}, FilterFacetCounts(counts, "POL", 1))
	assert.Len(t, FilterFacetCounts(counts, "", 0), 3)
	assert.Empty(t, FilterFacetCounts(counts, "zzz", 5))
}

func TestHighlightNormalizers(t *testing.T) {
	frag := HighlightsFromFragments(map[string]any{"title": []any{"<mark>a</mark>", "b"}, "empty": []any{}})
	assert.Equal(t, map[string][]string{"title": {"<mark>a</mark>", "b"}}, frag)

	levels := HighlightsFromMatchLevels(map[string]any{
		"title": map[string]any{"value": "<em>x</em>", "matchLevel": "full"},
		"body":  map[string]any{"value": "plain", "matchLevel": "none"},
		"tags": []any{
			map[string]any{"value": "<em>t1</em>", "matchLevel": "partial"},
			map[string]any{"value": "t2", "matchLevel": "none"},
		},
	})
	assert.Equal(t, map[string][]string{"title": {"<em>x</em>"}, "tags": {"<em>t1</em>"}}, levels)

	inline := HighlightsFromInline(map[string]any{
		"title": "a <mark>b</mark>",
		"body":  "nothing",
		"id":    7,
	}, "")
	assert.Equal(t, map[string][]string{"title": {"a <mark>b</mark>"}}, inline)

	snippets := HighlightsFromSnippets([]any{
		map[string]any{"field": "title", "snippet": "<mark>t</mark>"},
		map[string]any{"field": "tags", "snippets": []any{"<mark>a</mark>", "<mark>b</mark>"}},
		map[string]any{"snippet": "orphan"},
	})
	assert.Equal(t, map[string][]string{
		"title": {"<mark>t</mark>"},
		"tags":  {"<mark>a</mark>", "<mark>b</mark>"},
	}, snippets)
}

func TestHighlightSelect(t *testing.T) {
	all := map[string][]string{"title": {"x"}, "body": {"y"}}
	assert.Empty(t, Highlight{}.Select(all))
	assert.Equal(t, all, Highlight{Enabled: true}.Select(all))
	assert.Equal(t, map[string][]string{"body": {"y"}}, Highlight{Enabled: true, Fields: []string{"body", "missing"}}.Select(all))
}

func TestNormalizeHit(t *testing.T) {
	raw := map[string]any{
		"id":               42,
		"title":            "Hello",
		"location":         []any{48.1, 11.5},
		"_highlightResult": map[string]any{},
	}
	types := map[string]FieldType{"location": FieldGeoPoint}
	h := NormalizeHit(raw, 1.5, nil, types)
	assert.Equal(t, "42", h.ObjectID)
	assert.Equal(t, 1.5, h.Score)
	assert.Equal(t, map[string]any{"lat": 48.1, "lng": 11.5}, h.Fields["location"])
	assert.NotContains(t, h.Fields, "_highlightResult")
	assert.NotNil(t, h.Highlights)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "42", flat["objectID"])
	assert.Equal(t, 1.5, flat["_score"])
	assert.Equal(t, "Hello", flat["title"])
	assert.Equal(t, map[string]any{}, flat["_highlights"])

	h = NormalizeHit(map[string]any{"objectID": "a", "id": "b"}, 0, nil, nil)
	assert.Equal(t, "a", h.ObjectID)
	assert.Equal(t, Document{"objectID": "a", "id": "b"}, h.Document())
}

func TestDistinctSuggestions(t *testing.T) {
	got := DistinctSuggestions("Helo", []string{"hello", "Hello", "helo", " ", "help"})
	assert.Equal(t, []string{"hello", "help"}, got)
	assert.Empty(t, DistinctSuggestions("x", nil))
}

func TestTotalPages(t *testing.T) {
	for _, tt := range []struct {
		total   int64
		perPage int
		want    int
	}{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{100, 7, 15},
		{100, 0, 0},
		{100, -3, 0},
	} {
		assert.Equal(t, tt.want, TotalPagesFor(tt.total, tt.perPage), "%d/%d", tt.total, tt.perPage)
	}

	r := NewResult(nil, 45, Pagination{Page: 2, PerPage: 10}, 3)
	assert.Equal(t, 5, r.TotalPages)
	assert.NotNil(t, r.Hits)
	assert.NotNil(t, r.Facets)
	assert.NotNil(t, r.Suggestions)
}

func TestHistograms(t *testing.T) {
	ranges, err := HistogramRanges(10, 3, 27)
	require.NoError(t, err)
	assert.Equal(t, []HistogramRange{{0, 10}, {10, 20}, {20, 30}}, ranges)

	buckets, err := BuildHistogram([]float64{3, 9, 10, 27, 99}, 10, 3, 27)
	require.NoError(t, err)
	assert.Equal(t, []Bucket{{0, 2}, {10, 1}, {20, 1}}, buckets)

	_, err = HistogramRanges(0.001, 0, 1000)
	assert.True(t, IsTranslation(err))

	ranges, err = HistogramRanges(5, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, ranges)

	// bucket counts past the int range are rejected before allocating
	for _, tc := range [][3]float64{
		{1, 0, 1e19},
		{1e-300, -1e300, 1e300},
		{math.NaN(), 0, 10},
		{1, math.Inf(-1), 10},
		{1, 0, math.Inf(1)},
		{math.Inf(1), 0, 10},
	} {
		assert.NotPanics(t, func() {
			_, err = HistogramRanges(tc[0], tc[1], tc[2])
		})
		assert.True(t, IsTranslation(err), "%v", tc)
	}

	lo, hi := 1.0, 9.0
	min, max, ok := HistogramBounds(Histogram{Min: &lo}, &Stat{Min: 0, Max: 50})
	assert.True(t, ok)
	assert.Equal(t, 1.0, min)
	assert.Equal(t, 50.0, max)
	min, max, ok = HistogramBounds(Histogram{Min: &lo, Max: &hi}, nil)
	assert.True(t, ok)
	assert.Equal(t, [2]float64{1, 9}, [2]float64{min, max})
	_, _, ok = HistogramBounds(Histogram{}, nil)
	assert.False(t, ok)
}
