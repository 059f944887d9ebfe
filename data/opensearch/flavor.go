// Package opensearch registers the OpenSearch adapter. Requests go through
// the shared Elasticsearch-compatible adapter with OpenSearch vector and
// error conventions.
package opensearch

import (
	"bytes"
	"net/http"

	"github.com/ncobase/nsearch/data/elasticsearch"
	"github.com/ncobase/nsearch/data/search"
)

// Flavor is the OpenSearch 2.x flavor; vectors use the k-NN plugin
var Flavor = elasticsearch.Flavor{
	Engine:      search.OpenSearch,
	DisplayName: "OpenSearch",
	VectorMapping: func(dims int) map[string]any {
		return map[string]any{"type": "knn_vector", "dimension": dims}
	},
	KNNQuery: func(field string, vector []float64, k int) map[string]any {
		return map[string]any{
			"knn": map[string]any{
				field: map[string]any{"vector": vector, "k": k},
			},
		}
	},
	IndexSettings: func(hasVector bool) map[string]any {
		if !hasVector {
			return map[string]any{}
		}
		return map[string]any{"index": map[string]any{"knn": true}}
	},
	// some distributions answer a missing index with 400 or 500
	IsNotFound: func(status int, body []byte) bool {
		return status == http.StatusNotFound || bytes.Contains(body, []byte("index_not_found_exception"))
	},
}
