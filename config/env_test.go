package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("NSEARCH_TEST_HOST", "http://meili:7700")

	assert.Equal(t, "http://meili:7700", ExpandEnv("${NSEARCH_TEST_HOST}"))
	assert.Equal(t, "fallback", ExpandEnv("${NSEARCH_TEST_MISSING:-fallback}"))
	assert.Equal(t, "", ExpandEnv("${NSEARCH_TEST_MISSING}"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
	assert.Equal(t, "x-http://meili:7700-y", ExpandEnv("x-${NSEARCH_TEST_HOST}-y"))
}

func TestFromViper_ExpandsNestedValues(t *testing.T) {
	t.Setenv("NSEARCH_TEST_KEY", "secret")

	v := viper.New()
	v.Set("data.search.meilisearch.api_key", "${NSEARCH_TEST_KEY}")
	v.Set("data.search.default_engine", "meilisearch")
	v.Set("data.search.indexes", []any{
		map[string]any{
			"handle":     "docs",
			"connection": map[string]any{"api_key": "${NSEARCH_TEST_KEY}"},
		},
	})

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Search.Meilisearch.APIKey)
	require.Len(t, cfg.Search.Indexes, 1)
	assert.Equal(t, "secret", cfg.Search.Indexes[0].Connection.APIKey)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := []byte(`
app_name: nsearch
logger:
  level: debug
data:
  search:
    default_engine: elasticsearch
    elasticsearch:
      addresses: ["http://localhost:9200"]
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "nsearch", cfg.AppName)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Search.Elasticsearch.Addresses)
	assert.Equal(t, 8700, cfg.Server.Port)
}
