package search

import (
	"encoding/json"
)

// Hit is one normalized document of a search result
type Hit struct {
	ObjectID   string
	Score      float64
	Highlights map[string][]string
	Fields     map[string]any
}

// Hit keys added next to the document fields
const (
	HitScoreKey      = "_score"
	HitHighlightsKey = "_highlights"
)

// MarshalJSON writes the hit as one flat object
func (h Hit) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Fields)+3)
	for k, v := range h.Fields {
		out[k] = v
	}
	out[ObjectIDKey] = h.ObjectID
	out[HitScoreKey] = h.Score
	highlights := h.Highlights
	if highlights == nil {
		highlights = map[string][]string{}
	}
	out[HitHighlightsKey] = highlights
	return json.Marshal(out)
}

// Document returns the hit fields with objectID as a Document
func (h Hit) Document() Document {
	doc := make(Document, len(h.Fields)+1)
	for k, v := range h.Fields {
		doc[k] = v
	}
	doc[ObjectIDKey] = h.ObjectID
	return doc
}

// FacetCount is one value of a facet with its document count
type FacetCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Stat is the numeric range of a field over matching documents
type Stat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Bucket is one fixed-width histogram bucket; Key is its lower bound
type Bucket struct {
	Key   float64 `json:"key"`
	Count int64   `json:"count"`
}

// GeoCluster is one cell of a geo grid
type GeoCluster struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Count   int64   `json:"count"`
	Geohash string  `json:"geohash,omitempty"`
	Hit     *Hit    `json:"hit,omitempty"`
}

// Result is the canonical search result shape
type Result struct {
	Hits             []Hit                   `json:"hits"`
	TotalHits        int64                   `json:"totalHits"`
	Page             int                     `json:"page"`
	PerPage          int                     `json:"perPage"`
	TotalPages       int                     `json:"totalPages"`
	ProcessingTimeMs int64                   `json:"processingTimeMs"`
	Facets           map[string][]FacetCount `json:"facets"`
	Stats            map[string]Stat         `json:"stats"`
	Histograms       map[string][]Bucket     `json:"histograms"`
	Suggestions      []string                `json:"suggestions"`
	GeoClusters      []GeoCluster            `json:"geoClusters,omitempty"`
	Raw              any                     `json:"raw,omitempty"`
}

// TotalPagesFor returns ceil(total/perPage), 0 when perPage is not positive
func TotalPagesFor(total int64, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}

// NewResult builds a result with derived page count and empty collections
func NewResult(hits []Hit, total int64, page Pagination, took int64) *Result {
	if hits == nil {
		hits = []Hit{}
	}
	return &Result{
		Hits:             hits,
		TotalHits:        total,
		Page:             page.Page,
		PerPage:          page.PerPage,
		TotalPages:       TotalPagesFor(total, page.PerPage),
		ProcessingTimeMs: took,
		Facets:           map[string][]FacetCount{},
		Stats:            map[string]Stat{},
		Histograms:       map[string][]Bucket{},
		Suggestions:      []string{},
	}
}
