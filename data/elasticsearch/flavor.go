package elasticsearch

import (
	"net/http"

	"github.com/ncobase/nsearch/data/search"
)

// Transport sends requests to an Elasticsearch-compatible cluster.
// Both *elasticsearch.Client and *opensearch.Client satisfy it.
type Transport interface {
	Perform(*http.Request) (*http.Response, error)
}

// Flavor holds what differs between Elasticsearch-compatible engines
type Flavor struct {
	Engine      search.Engine
	DisplayName string
	// VectorMapping returns the mapping of an embedding field
	VectorMapping func(dims int) map[string]any
	// KNNQuery returns the vector clause of a search
	KNNQuery func(field string, vector []float64, k int) map[string]any
	// KNNTopLevel places the KNNQuery clause under "knn" beside "query"
	// instead of inside the boolean query
	KNNTopLevel bool
	// IndexSettings returns the index-level settings of a new store
	IndexSettings func(hasVector bool) map[string]any
	// IsNotFound reports whether a response means a missing index or document
	IsNotFound func(status int, body []byte) bool
}

// Elastic is the flavor of Elasticsearch 8
var Elastic = Flavor{
	Engine:      search.Elasticsearch,
	DisplayName: "Elasticsearch",
	VectorMapping: func(dims int) map[string]any {
		return map[string]any{"type": "dense_vector", "dims": dims, "index": true, "similarity": "cosine"}
	},
	KNNQuery: func(field string, vector []float64, k int) map[string]any {
		return map[string]any{
			"field":          field,
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*10, 100),
		}
	},
	KNNTopLevel: true,
	IndexSettings: func(bool) map[string]any {
		return map[string]any{}
	},
	IsNotFound: func(status int, _ []byte) bool {
		return status == http.StatusNotFound
	},
}
