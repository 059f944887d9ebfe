package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSwapName(t *testing.T) {
	tests := []struct {
		production, current, want string
	}{
		{"articles", "articles", "articles_swap"},
		{"articles", "", "articles_swap"},
		{"articles", "articles_swap", "articles_swap_a"},
		{"articles", "articles_swap_a", "articles_swap_b"},
		{"articles", "articles_swap_b", "articles_swap_a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextSwapName(tt.production, tt.current), tt.current)
	}
	assert.Equal(t, SwapDirect, StateOf("articles", "articles"))
	assert.Equal(t, SwapAliased, StateOf("articles", "articles_swap_b"))
}

func TestBulkResult(t *testing.T) {
	ok := NewBulkResult("index", 3, nil)
	assert.Equal(t, 3, ok.Succeeded)
	assert.False(t, ok.Partial())
	assert.NoError(t, ok.Err(Typesense))

	partial := NewBulkResult("index", 3, []ItemFailure{{ID: "2", Reason: "bad"}})
	assert.True(t, partial.Partial())
	assert.NoError(t, partial.Err(Typesense))

	total := NewBulkResult("index", 1, []ItemFailure{{ID: "1", Status: 400, Reason: "mapper_parsing_exception"}})
	err := total.Err(Elasticsearch)
	require.Error(t, err)
	var bulk *BulkError
	require.True(t, errors.As(err, &bulk))
	assert.Equal(t, "1", bulk.Failures[0].ID)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestSequentialMultiSearchKeepsOrder(t *testing.T) {
	queries := []Query{{Query: "a"}, {Query: "b"}, {Query: "c"}}
	results, err := SequentialMultiSearch(context.Background(), queries,
		func(_ context.Context, _ *Index, q string, _ Options) (*Result, error) {
			r := NewResult(nil, 0, Pagination{Page: 1, PerPage: 1}, 0)
			r.Suggestions = []string{q}
			return r, nil
		})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, q := range []string{"a", "b", "c"} {
		assert.Equal(t, q, results[i].Suggestions[0])
	}

	_, err = SequentialMultiSearch(context.Background(), queries,
		func(context.Context, *Index, string, Options) (*Result, error) { return nil, ErrBackend })
	assert.ErrorIs(t, err, ErrBackend)
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, UniqueIDs([]string{"1", "2", "", "1", "3", "2"}))
}

func TestFacetValuesRequest(t *testing.T) {
	assert.Equal(t, DefaultFacetValues, FacetValuesRequest{}.Limit())
	assert.Equal(t, 3, FacetValuesRequest{MaxPerField: 3}.Limit())
	assert.Empty(t, FacetValuesRequest{}.FilterOptions())
	opts := FacetValuesRequest{Filters: Options{"section": "news"}}.FilterOptions()
	assert.Equal(t, map[string]any{"section": "news"}, opts[OptFilters])
}

func TestFactoryRegistry(t *testing.T) {
	_, err := NewAdapter(&EngineConfig{Engine: "unknown"})
	assert.ErrorIs(t, err, ErrNoAdapter)

	_, err = NewAdapter(nil)
	assert.True(t, IsConfiguration(err))

	assert.True(t, IsConfiguration(RequireHosts(&EngineConfig{Engine: Meilisearch})))
	assert.NoError(t, RequireHosts(&EngineConfig{Hosts: []string{"http://localhost:7700"}}))
	assert.True(t, IsConfiguration(RequireAPIKey(&EngineConfig{Engine: Typesense})))
}
