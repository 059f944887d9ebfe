package meilisearch

import (
	"fmt"

	"github.com/meilisearch/meilisearch-go"
	"github.com/ncobase/nsearch/data/search"
)

const (
	// GeoKey is the reserved attribute holding the document location
	GeoKey = "_geo"
	// VectorsKey is the reserved attribute holding user provided embeddings
	VectorsKey = "_vectors"

	// MaxFacetValues caps the distribution returned per facet
	MaxFacetValues = 1000
	// MaxTotalHits caps exhaustive hit counting
	MaxTotalHits = 10000
)

// Setting roles of a mapping
const (
	RoleSearchable = "searchable"
	RoleFilterable = "filterable"
	RoleSortable   = "sortable"
	RoleEmbedder   = "embedder"
)

// Mapper translates canonical fields to index settings. Meilisearch is
// schemaless, so a field maps to the setting lists it belongs to.
type Mapper struct{}

var _ search.SchemaMapper = Mapper{}

// ToNative returns the setting roles of f
func (Mapper) ToNative(f search.FieldMapping) (map[string]any, error) {
	switch f.Type {
	case search.FieldText:
		return map[string]any{RoleSearchable: true}, nil
	case search.FieldKeyword, search.FieldBoolean:
		return map[string]any{RoleFilterable: true}, nil
	case search.FieldFacet:
		return map[string]any{RoleFilterable: true, "facet": true}, nil
	case search.FieldInteger, search.FieldFloat, search.FieldDate:
		return map[string]any{RoleFilterable: true, RoleSortable: true}, nil
	case search.FieldGeoPoint:
		return map[string]any{RoleFilterable: true, RoleSortable: true, "attribute": GeoKey}, nil
	case search.FieldObject:
		return map[string]any{}, nil
	case search.FieldEmbedding:
		dims := f.Dimensions()
		if dims <= 0 {
			return nil, &search.ConfigurationError{
				Engine: search.Meilisearch,
				Field:  f.Name,
				Reason: "embedding fields need a positive dimensions option",
			}
		}
		return map[string]any{RoleEmbedder: map[string]any{"source": meilisearch.UserProvidedEmbedderSource, "dimensions": dims}}, nil
	}
	return nil, &search.ConfigurationError{Engine: search.Meilisearch, Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
}

// FromNative maps a setting role back to the closest canonical type
func (Mapper) FromNative(role string, _ map[string]any) search.FieldType {
	switch role {
	case RoleSearchable:
		return search.FieldText
	case RoleSortable:
		return search.FieldFloat
	case RoleEmbedder:
		return search.FieldEmbedding
	case GeoKey:
		return search.FieldGeoPoint
	}
	return search.FieldKeyword
}

// Settings returns the index settings of idx
func (m Mapper) Settings(idx *search.Index) (*meilisearch.Settings, error) {
	filterable := []string{search.ObjectIDKey}
	sortable := []string{}
	embedders := map[string]meilisearch.Embedder{}
	seen := map[string]bool{search.ObjectIDKey: true}

	for _, f := range idx.EnabledFields() {
		roles, err := m.ToNative(f)
		if err != nil {
			return nil, err
		}
		name := f.Name
		if attr, ok := roles["attribute"].(string); ok {
			name = attr
		}
		if roles[RoleFilterable] == true && !seen[name] {
			seen[name] = true
			filterable = append(filterable, name)
		}
		if roles[RoleSortable] == true {
			sortable = append(sortable, name)
		}
		if e, ok := roles[RoleEmbedder].(map[string]any); ok {
			embedders[f.Name] = meilisearch.Embedder{Source: meilisearch.UserProvidedEmbedderSource, Dimensions: e["dimensions"].(int)}
		}
	}

	searchable := []string{}
	for _, f := range idx.SearchableFields() {
		searchable = append(searchable, f.Name)
	}
	if len(searchable) == 0 {
		searchable = []string{"*"}
	}

	settings := &meilisearch.Settings{
		SearchableAttributes: searchable,
		FilterableAttributes: filterable,
		SortableAttributes:   sortable,
		Faceting:             &meilisearch.Faceting{MaxValuesPerFacet: MaxFacetValues},
		Pagination:           &meilisearch.Pagination{MaxTotalHits: MaxTotalHits},
	}
	if len(embedders) > 0 {
		settings.Embedders = embedders
	}
	return settings, nil
}
