package typesense

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
		Engine: search.Typesense,
		Fields: []search.FieldMapping{
			{Name: "title", Type: search.FieldText, Enabled: true, Weight: 3, Role: search.RoleTitle},
			{Name: "body", Type: search.FieldText, Enabled: true},
			{Name: "category", Type: search.FieldFacet, Enabled: true},
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

func TestFilterBy(t *testing.T) {
	got, err := filterBy(placesIndex(), extract(t, search.Options{
		search.OptFilters: map[string]any{
			"category": []any{"bar", "cafe"},
			"openedAt": "2023-11-14T22:13:20Z",
			"price":    map[string]any{"min": 5, "max": 20},
			"title":    "Roma",
		},
		search.OptGeoFilter: map[string]any{"lat": 41.9, "lng": 12.5, "radius": 1500},
	}))
	require.NoError(t, err)
	assert.Equal(t,
		"category:=[`bar`,`cafe`] && openedAt:=1700000000 && price:[5..20] && title:=`Roma` && location:(41.9, 12.5, 1.5 km)",
		got)

	got, err = filterBy(placesIndex(), extract(t, search.Options{search.OptFilters: map[string]any{"price": map[string]any{"min": 5}}}))
	require.NoError(t, err)
	assert.Equal(t, "price:>=5", got)

	_, err = filterBy(placesIndex(), extract(t, search.Options{search.OptFilters: map[string]any{"vec": 1}}))
	assert.True(t, search.IsTranslation(err))

	// filter_by cannot quote a backtick, so the value is not rewritten
	_, err = filterBy(placesIndex(), extract(t, search.Options{search.OptFilters: map[string]any{"category": "a`b"}}))
	var te *search.TranslationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "category", te.Field)
	assert.Equal(t, "value contains backtick", te.Reason)
}

func TestSortBy(t *testing.T) {
	got, err := sortBy(placesIndex(), extract(t, search.Options{
		search.OptSort:    map[string]any{"price": "desc"},
		search.OptGeoSort: "41.9,12.5",
	}))
	require.NoError(t, err)
	assert.Equal(t, "price:desc,location(41.9, 12.5):asc", got)

	got, err = sortBy(placesIndex(), extract(t, search.Options{search.OptSort: "_text_match:desc,price:asc"}))
	require.NoError(t, err)
	assert.Equal(t, "_text_match:desc,price:asc", got)
}

func TestTextFields(t *testing.T) {
	req, err := buildSearch(placesIndex(), "", search.Options{search.OptSort: map[string]any{"title": "asc"}})
	require.NoError(t, err)
	assert.Equal(t, "title:asc", req.params["sort_by"])

	field, err := Mapper{}.ToNative(search.FieldMapping{Name: "title", Type: search.FieldText})
	require.NoError(t, err)
	assert.Equal(t, true, field["sort"])
	assert.NotContains(t, field, "facet")

	for _, opts := range []search.Options{
		{search.OptFacets: []any{"title"}},
		{search.OptStats: []any{"body"}},
		{search.OptHistogram: map[string]any{"field": "title", "interval": 1}},
	} {
		_, err := buildSearch(placesIndex(), "", opts)
		assert.True(t, search.IsTranslation(err), "%v", opts)
	}
}

func TestRangeFacetAndIDFilter(t *testing.T) {
	assert.Equal(t, "price(r0:[0, 10], r1:[10, 20])",
		rangeFacet("price", []search.HistogramRange{{From: 0, To: 10}, {From: 10, To: 20}}))
	filter, err := idFilter([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "id:[`a`,`b`]", filter)
	_, err = idFilter([]string{"a`"})
	assert.True(t, search.IsTranslation(err))
}

func TestBuildSearch(t *testing.T) {
	req, err := buildSearch(placesIndex(), "pizza", search.Options{
		search.OptPage:       2,
		search.OptPerPage:    10,
		search.OptFacets:     []any{"category"},
		search.OptHighlight:  true,
		search.OptAttributes: []any{"title"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pizza", req.params["q"])
	assert.Equal(t, "title,body,category", req.params["query_by"])
	assert.Equal(t, "3,1,1", req.params["query_by_weights"])
	assert.Equal(t, 2, req.params["page"])
	assert.Equal(t, 10, req.params["per_page"])
	assert.Equal(t, "objectID,id,title", req.params["include_fields"])
	assert.Equal(t, search.HighlightPreTag, req.params["highlight_start_tag"])
	assert.Equal(t, "category", req.withFacets(nil)["facet_by"])
	assert.NotContains(t, req.params, "facet_by")
}

func TestBuildSearchWildcardAndNativePaging(t *testing.T) {
	req, err := buildSearch(placesIndex(), " ", search.Options{"per_page": 5, "page": 3})
	require.NoError(t, err)
	assert.Equal(t, wildcard, req.params["q"])
	assert.Equal(t, 5, req.params["per_page"])
	assert.Equal(t, 5, req.page.PerPage)
}

func TestBuildSearchVectorQuery(t *testing.T) {
	req, err := buildSearch(placesIndex(), "", search.Options{search.OptEmbedding: []any{0.1, 0.2, 0.3}, search.OptPerPage: 5})
	require.NoError(t, err)
	assert.Equal(t, "vec:([0.1,0.2,0.3], k:5)", req.params["vector_query"])

	req, err = buildSearch(placesIndex(), "pizza", search.Options{search.OptEmbedding: []any{1, 0, 0}, search.OptPerPage: 5})
	require.NoError(t, err)
	assert.Equal(t, "vec:([1,0,0], k:5, alpha:0.5)", req.params["vector_query"])
}

func TestBuildSearchRejectsFacetHistogramOverlap(t *testing.T) {
	_, err := buildSearch(placesIndex(), "", search.Options{
		search.OptFacets:    []any{"price"},
		search.OptHistogram: map[string]any{"field": "price", "interval": 10},
	})
	assert.True(t, search.IsTranslation(err))
}

func TestMapper(t *testing.T) {
	schema, err := Mapper{}.Schema(placesIndex())
	require.NoError(t, err)
	assert.Equal(t, "dev_places", schema["name"])
	assert.Equal(t, true, schema["enable_nested_fields"])

	fields := schema["fields"].([]map[string]any)
	byName := map[string]map[string]any{}
	for _, f := range fields {
		byName[f["name"].(string)] = f
	}
	assert.Equal(t, "string", byName[search.ObjectIDKey]["type"])
	assert.Equal(t, "float[]", byName["vec"]["type"])
	assert.Equal(t, 3, byName["vec"]["num_dim"])
	assert.Equal(t, "geopoint", byName["location"]["type"])
	assert.Equal(t, "int64", byName["openedAt"]["type"])
	assert.Equal(t, true, byName["category"]["facet"])

	assert.Equal(t, []search.SchemaField{
		{Name: "category", Type: search.FieldKeyword},
		{Name: "title", Type: search.FieldText},
		{Name: "vec", Type: search.FieldEmbedding},
	}, Mapper{}.Canonical([]map[string]any{
		{"name": "id", "type": "string"},
		{"name": "title", "type": "string"},
		{"name": "category", "type": "string", "facet": true},
		{"name": "vec", "type": "float[]", "num_dim": 3},
	}))

	_, err = Mapper{}.ToNative(search.FieldMapping{Name: "v", Type: search.FieldEmbedding})
	assert.True(t, search.IsConfiguration(err))
}
