package algolia

import (
	"testing"

	"github.com/ncobase/nsearch/data/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placesIndex() *search.Index {
	return &search.Index{
		Handle: "places",
		Prefix: "dev_",
		Engine: search.Algolia,
		Fields: []search.FieldMapping{
			{Name: "title", Type: search.FieldText, Enabled: true, Weight: 3, Role: search.RoleTitle},
			{Name: "body", Type: search.FieldText, Enabled: true},
			{Name: "category", Type: search.FieldFacet, Enabled: true},
			{Name: "open", Type: search.FieldBoolean, Enabled: true},
			{Name: "price", Type: search.FieldFloat, Enabled: true},
			{Name: "openedAt", Type: search.FieldDate, Enabled: true},
			{Name: "location", Type: search.FieldGeoPoint, Enabled: true},
			{Name: "vec", Type: search.FieldEmbedding, Enabled: true, Options: map[string]any{"dimensions": 3}},
			{Name: "meta", Type: search.FieldObject, Enabled: true},
		},
	}
}

func extract(t *testing.T, opts search.Options) *search.Params {
	t.Helper()
	params, _, err := search.Extract(opts, placesIndex())
	require.NoError(t, err)
	return params
}

func TestFilterString(t *testing.T) {
	got, err := filterString(extract(t, search.Options{
		search.OptFilters: map[string]any{
			"category": []any{"bar", `say "hi"`},
			"open":     true,
			"openedAt": "2023-11-14T22:13:20Z",
			"price":    map[string]any{"min": 5, "max": 20},
			"title":    "Roma",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t,
		`(category:"bar" OR category:"say \"hi\"") AND open:true AND openedAt = 1700000000 AND price:5 TO 20 AND title:"Roma"`,
		got)
}

func TestFilterStringOpenRanges(t *testing.T) {
	got, err := filterString(extract(t, search.Options{
		search.OptFilters: map[string]any{"price": map[string]any{"min": 5}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "price >= 5", got)

	got, err = filterString(extract(t, search.Options{
		search.OptFilters: map[string]any{"price": map[string]any{"max": 7.5}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "price <= 7.5", got)

	_, err = filterString(extract(t, search.Options{search.OptFilters: map[string]any{"meta": "x"}}))
	assert.True(t, search.IsTranslation(err))
}

func TestFilterHelpers(t *testing.T) {
	assert.Equal(t, "price >= 10 AND price < 20", histogramClause("price", search.HistogramRange{From: 10, To: 20}))
	assert.Equal(t, `"my field":"x"`, valueClause("my field", "x"))
	assert.Equal(t, "a AND b", and("a", "", "b"))
	assert.Equal(t, "", and("", ""))
}

func TestSortIndex(t *testing.T) {
	index, err := sortIndex("dev_places", extract(t, search.Options{search.OptSort: map[string]any{"price": "desc"}}))
	require.NoError(t, err)
	assert.Equal(t, "dev_places_price_desc", index)

	index, err = sortIndex("dev_places", extract(t, search.Options{}))
	require.NoError(t, err)
	assert.Equal(t, "dev_places", index)

	index, err = sortIndex("dev_places", extract(t, search.Options{search.OptSort: "dev_places_custom"}))
	require.NoError(t, err)
	assert.Equal(t, "dev_places_custom", index)

	_, err = sortIndex("dev_places", extract(t, search.Options{search.OptSort: map[string]any{"price": "asc", "openedAt": "desc"}}))
	assert.True(t, search.IsTranslation(err))

	_, err = sortIndex("dev_places", extract(t, search.Options{search.OptSort: map[string]any{"category": "asc"}}))
	assert.True(t, search.IsTranslation(err))
}

func TestBuildSearch(t *testing.T) {
	req, err := buildSearch(placesIndex(), "pizza", search.Options{
		search.OptPage:      3,
		search.OptPerPage:   10,
		search.OptFacets:    []any{"category"},
		search.OptStats:     []any{"price"},
		search.OptHistogram: map[string]any{"field": "price", "interval": 10},
		search.OptGeoFilter: map[string]any{"lat": 41.9, "lng": 12.5, "radius": "1.5km"},
		search.OptHighlight: []any{"title"},
		"typoTolerance":     false,
	})
	require.NoError(t, err)
	assert.Equal(t, "dev_places", req.index)
	assert.Equal(t, "pizza", req.params["query"])
	assert.Equal(t, 2, req.params["page"])
	assert.Equal(t, 10, req.params["hitsPerPage"])
	assert.Equal(t, 3, req.page.Page)
	assert.Equal(t, []string{"category", "price"}, req.params["facets"])
	assert.Equal(t, "41.9,12.5", req.params["aroundLatLng"])
	assert.Equal(t, 1500, req.params["aroundRadius"])
	assert.Equal(t, []string{"title"}, req.params["attributesToHighlight"])
	assert.Equal(t, search.HighlightPreTag, req.params["highlightPreTag"])
	assert.Equal(t, false, req.params["typoTolerance"])
}

func TestBuildSearchNativePaging(t *testing.T) {
	req, err := buildSearch(placesIndex(), "", search.Options{search.OptPerPage: 10, "hitsPerPage": 25})
	require.NoError(t, err)
	assert.Equal(t, 25, req.params["hitsPerPage"])
	assert.Equal(t, 25, req.page.PerPage)

	req, err = buildSearch(placesIndex(), "", search.Options{search.OptPerPage: 10, "offset": 30})
	require.NoError(t, err)
	assert.Equal(t, 30, req.params["offset"])
	assert.NotContains(t, req.params, "page")
	assert.Equal(t, 4, req.page.Page)
}

func TestBuildSearchRejections(t *testing.T) {
	_, err := buildSearch(placesIndex(), "", search.Options{search.OptEmbedding: []any{0.1, 0.2, 0.3}})
	assert.True(t, search.IsTranslation(err))

	_, err = buildSearch(placesIndex(), "", search.Options{search.OptFacets: []any{"vec"}})
	assert.True(t, search.IsTranslation(err))

	// one center serves both geo constraints
	_, err = buildSearch(placesIndex(), "", search.Options{
		search.OptGeoFilter: map[string]any{"lat": 41.9, "lng": 12.5, "radius": 1000},
		search.OptGeoSort:   "45.4,9.2",
	})
	assert.True(t, search.IsTranslation(err))

	req, err := buildSearch(placesIndex(), "", search.Options{
		search.OptGeoFilter: map[string]any{"lat": 41.9, "lng": 12.5, "radius": 1000},
		search.OptGeoSort:   "41.9,12.5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, req.params["aroundRadius"])

	req, err = buildSearch(placesIndex(), "", search.Options{search.OptGeoSort: "45.4,9.2"})
	require.NoError(t, err)
	assert.Equal(t, "all", req.params["aroundRadius"])

	idx := placesIndex()
	idx.Fields = idx.Fields[:2]
	_, err = buildSearch(idx, "", search.Options{search.OptGeoGrid: map[string]any{"precision": 4}})
	assert.True(t, search.IsTranslation(err))
}

func TestCountQuery(t *testing.T) {
	req, err := buildSearch(placesIndex(), "pizza", search.Options{
		search.OptFilters: map[string]any{"category": "bar"},
	})
	require.NoError(t, err)
	q := req.countQuery("price >= 0 AND price < 10")
	assert.Equal(t, `category:"bar" AND price >= 0 AND price < 10`, q["filters"])
	assert.Equal(t, 0, q["hitsPerPage"])
	assert.Equal(t, "pizza", q["query"])
}

func TestMapperSettings(t *testing.T) {
	settings, replicas, err := Mapper{}.Settings(placesIndex())
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "body,category"}, settings.SearchableAttributes)
	assert.Equal(t, []string{"searchable(category)", "filterOnly(open)", "price", "openedAt"}, settings.AttributesForFaceting)
	assert.Equal(t, []string{
		"dev_places_price_asc", "dev_places_price_desc",
		"dev_places_openedAt_asc", "dev_places_openedAt_desc",
	}, settings.Replicas)
	require.Contains(t, replicas, "dev_places_price_desc")
	assert.Equal(t, "desc(price)", replicas["dev_places_price_desc"].Ranking[0])

	swap := placesIndex().WithPhysicalName("dev_places" + search.SwapSuffix)
	settings, replicas, err = Mapper{}.Settings(swap)
	require.NoError(t, err)
	assert.Empty(t, settings.Replicas)
	assert.Empty(t, replicas)
}

func TestMapperFromNative(t *testing.T) {
	m := Mapper{}
	assert.Equal(t, search.FieldText, m.FromNative(RoleSearchable, nil))
	assert.Equal(t, search.FieldFacet, m.FromNative("searchable(category)", nil))
	assert.Equal(t, search.FieldKeyword, m.FromNative("filterOnly(open)", nil))
	assert.Equal(t, search.FieldGeoPoint, m.FromNative(GeoKey, nil))
	assert.Equal(t, "category", facetName("searchable(category)"))
	assert.Equal(t, "price", facetName("price"))
}
