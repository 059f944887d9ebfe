package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/data/search/searchtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) (*app, *searchtest.Memory) {
	t.Helper()
	cfg := &config.Search{
		IndexPrefix:   "dev_",
		DefaultEngine: config.EngineMeilisearch,
		Meilisearch:   &config.Meilisearch{Host: "http://localhost:7700", APIKey: "master"},
		Indexes: []*config.Index{{
			Handle: "articles",
			Fields: []*config.Field{
				{Name: "title", Type: "text", Role: "title"},
				{Name: "section", Type: "facet"},
				{Name: "price", Type: "float"},
			},
		}},
		Swap: &config.Swap{BatchSize: 2, Verify: true},
	}
	m := searchtest.NewMemory(search.Meilisearch, true)
	client, err := search.NewClient(cfg, search.WithAdapterFactory(searchtest.Factory(m)))
	require.NoError(t, err)

	_, err = client.IndexDocuments(context.Background(), "articles", []search.Document{
		{"objectID": "1", "title": "Go in production", "section": "news", "price": 10},
		{"objectID": "2", "title": "Search engines", "section": "blog", "price": 20},
	})
	require.NoError(t, err)
	return &app{client: client}, m
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSearchCommand(t *testing.T) {
	a, _ := testApp(t)
	out, err := run(t, a, "search", "articles", "go", "--facet", "section", "--per-page", "5")
	require.NoError(t, err)

	var res search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 1, res.TotalHits)
	assert.Equal(t, "1", res.Hits[0].ObjectID)

	_, err = run(t, a, "search", "missing")
	assert.ErrorIs(t, err, search.ErrIndexNotFound)
}

func TestCountIDsAndSchemaCommands(t *testing.T) {
	a, _ := testApp(t)

	out, err := run(t, a, "count", "articles")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, a, "ids", "articles")
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", out)

	out, err = run(t, a, "schema", "articles")
	require.NoError(t, err)
	assert.Contains(t, out, "FIELD")
	assert.Contains(t, out, "title")

	out, err = run(t, a, "schema", "articles", "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "dev_articles"`)
}

func TestPingCommand(t *testing.T) {
	a, m := testApp(t)
	out, err := run(t, a, "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "articles")
	assert.Contains(t, out, "ok")

	m.Reachable = false
	out, err = run(t, a, "ping")
	assert.Error(t, err)
	assert.Contains(t, out, "unreachable")
}

func TestReindexCommand(t *testing.T) {
	a, m := testApp(t)
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	lines := strings.Join([]string{
		`{"slug": "a", "title": "Alpha"}`,
		``,
		`{"slug": "b", "title": "Beta"}`,
		`{"slug": "c", "title": "Gamma"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	out, err := run(t, a, "reindex", "articles", "--from", path, "--id-field", "slug")
	require.NoError(t, err, out)

	var report search.SwapReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Written)
	assert.EqualValues(t, 3, report.Count)

	ids, err := a.client.GetAllDocumentIDs(context.Background(), "articles")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Contains(t, m.Calls(), "SwapIndex")

	_, err = run(t, a, "reindex", "articles")
	assert.Error(t, err)
}

func TestReadDocuments(t *testing.T) {
	src, err := readDocuments(strings.NewReader(`{"objectID": "1", "n": 12345678901}
{"objectID": "2"}
{"objectID": "1", "n": 2}`), "")
	require.NoError(t, err)

	ids, err := src.SourceIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	doc, err := src.Document(context.Background(), nil, "1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("2"), doc["n"])

	_, err = readDocuments(strings.NewReader(`{"title": "no id"}`), "")
	assert.ErrorContains(t, err, "line 1")

	_, err = readDocuments(strings.NewReader("{\"objectID\": \"1\"}\n{broken"), "")
	assert.ErrorContains(t, err, "line 2")
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"section=news", "section=blog", "price=5..20", "rating=3..", "open=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"section": []any{"news", "blog"},
		"price":   map[string]any{"min": 5.0, "max": 20.0},
		"rating":  map[string]any{"min": 3.0},
		"open":    "true",
	}, got)

	_, err = parseFilters([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseFilters([]string{"price=..x"})
	assert.Error(t, err)
	_, err = parseFilters([]string{"price=.."})
	assert.Error(t, err)
	_, err = parseFilters([]string{"price=1..2", "price=3"})
	assert.Error(t, err)
}

func TestSearchFlagsBuild(t *testing.T) {
	f := searchFlags{
		page:    2,
		perPage: 10,
		facets:  []string{"section"},
		sort:    []string{"price:desc", "title"},
		options: `{"typoTolerance": false, "page": 9}`,
	}
	opts, err := f.build()
	require.NoError(t, err)
	assert.Equal(t, 2, opts[search.OptPage])
	assert.Equal(t, 10, opts[search.OptPerPage])
	assert.Equal(t, []string{"section"}, opts[search.OptFacets])
	assert.Equal(t, map[string]any{"price": "desc", "title": "asc"}, opts[search.OptSort])
	assert.Equal(t, false, opts["typoTolerance"])

	_, err = searchFlags{options: "{"}.build()
	assert.Error(t, err)
}
