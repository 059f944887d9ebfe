package search

import (
	"context"
	"strings"
)

// Adapter is the operation contract every engine family implements
type Adapter interface {
	// Engine returns the engine family served
	Engine() Engine
	// DisplayName returns a human readable engine name
	DisplayName() string
	// TestConnection probes the backend; failures are logged, not returned
	TestConnection(ctx context.Context) bool

	CreateIndex(ctx context.Context, idx *Index) error
	// UpdateIndexSettings pushes the schema of idx and drops cached field data
	UpdateIndexSettings(ctx context.Context, idx *Index) error
	// DeleteIndex removes the physical store; an absent store is not an error
	DeleteIndex(ctx context.Context, idx *Index) error
	IndexExists(ctx context.Context, idx *Index) (bool, error)

	IndexDocument(ctx context.Context, idx *Index, doc Document) error
	IndexDocuments(ctx context.Context, idx *Index, docs []Document) (*BulkResult, error)
	DeleteDocument(ctx context.Context, idx *Index, id string) error
	DeleteDocuments(ctx context.Context, idx *Index, ids []string) (*BulkResult, error)
	FlushIndex(ctx context.Context, idx *Index) error
	// GetDocument returns nil, nil when the document does not exist
	GetDocument(ctx context.Context, idx *Index, id string) (Document, error)

	Search(ctx context.Context, idx *Index, query string, opts Options) (*Result, error)
	// MultiSearch returns one result per query, in input order
	MultiSearch(ctx context.Context, queries []Query) ([]*Result, error)
	SearchFacetValues(ctx context.Context, idx *Index, req FacetValuesRequest) (map[string][]FacetCount, error)

	GetDocumentCount(ctx context.Context, idx *Index) (int64, error)
	// GetAllDocumentIDs returns every id exactly once
	GetAllDocumentIDs(ctx context.Context, idx *Index) ([]string, error)

	// GetIndexSchema returns the raw schema, or {"error": msg} on failure
	GetIndexSchema(ctx context.Context, idx *Index) map[string]any
	GetSchemaFields(ctx context.Context, idx *Index) ([]SchemaField, error)

	SupportsAtomicSwap() bool
	// BuildSwapHandle returns idx addressing the physical store to rebuild into
	BuildSwapHandle(ctx context.Context, idx *Index) (*Index, error)
	// SwapIndex makes swapIdx serve idx and removes the stale store
	SwapIndex(ctx context.Context, idx, swapIdx *Index) error
}

// Query is one entry of a multi-search batch
type Query struct {
	Index   *Index
	Query   string
	Options Options
}

// DefaultFacetValues is the default number of values per field
const DefaultFacetValues = 10

// FacetValuesRequest searches the values of facet fields
type FacetValuesRequest struct {
	Fields      []string `json:"fields" binding:"required"`
	Query       string   `json:"query"`
	MaxPerField int      `json:"maxPerField"`
	Filters     Options  `json:"filters"`
}

// Limit returns MaxPerField or its default
func (r FacetValuesRequest) Limit() int {
	if r.MaxPerField > 0 {
		return r.MaxPerField
	}
	return DefaultFacetValues
}

// FilterOptions returns Filters as an option bag for the filter extractor
func (r FacetValuesRequest) FilterOptions() Options {
	if len(r.Filters) == 0 {
		return Options{}
	}
	return Options{OptFilters: map[string]any(r.Filters)}
}

// BulkResult reports the outcome of a bulk write
type BulkResult struct {
	Op        string        `json:"op"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// NewBulkResult derives the success count from the failures
func NewBulkResult(op string, total int, failures []ItemFailure) *BulkResult {
	return &BulkResult{Op: op, Total: total, Succeeded: total - len(failures), Failures: failures}
}

// Partial reports whether some but not all items failed
func (r *BulkResult) Partial() bool {
	return r != nil && len(r.Failures) > 0 && r.Succeeded > 0
}

// Err returns a BulkError when every item failed
func (r *BulkResult) Err(engine Engine) error {
	if r == nil || r.Total == 0 || r.Succeeded > 0 || len(r.Failures) == 0 {
		return nil
	}
	return &BulkError{Engine: engine, Op: r.Op, Total: r.Total, Failures: r.Failures}
}

// SequentialMultiSearch runs queries one by one through search, keeping order
func SequentialMultiSearch(ctx context.Context, queries []Query,
	search func(ctx context.Context, idx *Index, query string, opts Options) (*Result, error),
) ([]*Result, error) {
	out := make([]*Result, len(queries))
	for i, q := range queries {
		r, err := search(ctx, q.Index, q.Query, q.Options)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// UniqueIDs drops empty and repeated ids, keeping first-seen order
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SwapState tells how a production name reaches its physical store
type SwapState string

const (
	SwapDirect  SwapState = "direct"
	SwapAliased SwapState = "aliased"
)

// Physical store suffixes used by the swap protocol
const (
	SwapSuffix  = "_swap"
	SwapSuffixA = "_swap_a"
	SwapSuffixB = "_swap_b"
)

// NextSwapName returns the physical name to rebuild into. current is the
// physical store production resolves to; equal names mean direct state.
func NextSwapName(production, current string) string {
	switch {
	case current == "" || current == production:
		return production + SwapSuffix
	case strings.HasSuffix(current, SwapSuffixA):
		return production + SwapSuffixB
	default:
		return production + SwapSuffixA
	}
}

// StateOf returns the swap state given the resolved physical store
func StateOf(production, current string) SwapState {
	if current == "" || current == production {
		return SwapDirect
	}
	return SwapAliased
}
