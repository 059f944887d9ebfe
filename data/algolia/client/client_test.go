package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncobase/nsearch/data/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientHosts(t *testing.T) {
	c, err := NewClient(&search.EngineConfig{Engine: search.Algolia, AppID: "MyApp", APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, "https://myapp-dsn.algolia.net", c.ReadHosts()[0])
	assert.Equal(t, "https://myapp.algolia.net", c.WriteHosts()[0])
	assert.Len(t, c.ReadHosts(), 4)

	c, err = NewClient(&search.EngineConfig{Engine: search.Algolia, AppID: "MyApp", APIKey: "key", Hosts: []string{"localhost:8080/"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://localhost:8080"}, c.ReadHosts())
	assert.Equal(t, c.ReadHosts(), c.WriteHosts())
}

func TestNewClientNeedsCredentials(t *testing.T) {
	_, err := NewClient(&search.EngineConfig{Engine: search.Algolia, APIKey: "key"})
	assert.True(t, search.IsConfiguration(err))
	_, err = NewClient(&search.EngineConfig{Engine: search.Algolia, AppID: "app"})
	assert.True(t, search.IsConfiguration(err))
	_, err = NewClient(nil)
	assert.True(t, search.IsConfiguration(err))
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/1/indexes/dev%2Fplaces/a%20b", Path("indexes", "dev/places", "a b"))
	assert.Equal(t, "/1/indexes/*/queries", Path("indexes", "*", "queries"))
}

func TestReadFailsOverOnServerErrors(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("hitsPerPage"))
		_, _ = w.Write([]byte(`{"nbHits": 3}`))
	}))
	defer up.Close()

	c, err := NewClient(&search.EngineConfig{Engine: search.Algolia, AppID: "app", APIKey: "key", Hosts: []string{down.URL, up.URL}})
	require.NoError(t, err)

	var out struct {
		NbHits int `json:"nbHits"`
	}
	params := struct {
		HitsPerPage int `url:"hitsPerPage"`
	}{2}
	require.NoError(t, c.Read(context.Background(), http.MethodGet, Path("indexes", "x", "browse"), params, nil, &out))
	assert.Equal(t, 3, out.NbHits)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "Invalid Application-ID or API key", "status": 403}`))
	}))
	defer srv.Close()

	c, err := NewClient(&search.EngineConfig{Engine: search.Algolia, AppID: "app", APIKey: "key", Hosts: []string{srv.URL, srv.URL}})
	require.NoError(t, err)

	err = c.Write(context.Background(), http.MethodPost, Path("indexes", "x", "batch"), nil, map[string]any{"requests": []any{}}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, StatusOf(err))
	assert.Contains(t, err.Error(), "Invalid Application-ID")
	assert.Equal(t, 1, calls)
}
