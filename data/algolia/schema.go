package algolia

import (
	"fmt"
	"strings"

	"github.com/ncobase/nsearch/data/search"
)

const (
	// GeoKey is the reserved attribute holding the document location
	GeoKey = "_geoloc"

	// MaxFacetValues caps the values returned per facet
	MaxFacetValues = 1000
	// PaginationLimit caps the hits reachable through pagination
	PaginationLimit = 10000
)

// Setting roles of a mapping
const (
	RoleSearchable = "searchable"
	RoleFacet      = "facet"
	RoleSortable   = "sortable"
)

// defaultRanking is the engine's ranking formula; replicas prepend their
// sort criterion to it
var defaultRanking = []string{"typo", "geo", "words", "filters", "proximity", "attribute", "exact", "custom"}

// Settings is the subset of index settings managed here
type Settings struct {
	SearchableAttributes  []string `json:"searchableAttributes,omitempty"`
	AttributesForFaceting []string `json:"attributesForFaceting,omitempty"`
	Replicas              []string `json:"replicas,omitempty"`
	Ranking               []string `json:"ranking,omitempty"`
	MaxValuesPerFacet     int      `json:"maxValuesPerFacet,omitempty"`
	PaginationLimitedTo   int      `json:"paginationLimitedTo,omitempty"`
}

// Mapper translates canonical fields to index settings. Algolia is
// schemaless, so a field maps to the setting entries it belongs to.
type Mapper struct{}

var _ search.SchemaMapper = Mapper{}

// ToNative returns the setting roles of f. Embeddings are stored as plain
// attributes.
func (Mapper) ToNative(f search.FieldMapping) (map[string]any, error) {
	switch f.Type {
	case search.FieldText:
		return map[string]any{RoleSearchable: true}, nil
	case search.FieldKeyword, search.FieldFacet:
		return map[string]any{RoleSearchable: true, RoleFacet: "searchable(" + f.Name + ")"}, nil
	case search.FieldBoolean:
		return map[string]any{RoleFacet: "filterOnly(" + f.Name + ")"}, nil
	case search.FieldInteger, search.FieldFloat, search.FieldDate:
		return map[string]any{RoleFacet: f.Name, RoleSortable: true}, nil
	case search.FieldGeoPoint:
		return map[string]any{"attribute": GeoKey}, nil
	case search.FieldObject, search.FieldEmbedding:
		return map[string]any{}, nil
	}
	return nil, &search.ConfigurationError{Engine: search.Algolia, Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
}

// FromNative maps a setting entry back to the closest canonical type
func (Mapper) FromNative(entry string, _ map[string]any) search.FieldType {
	switch {
	case entry == RoleSearchable:
		return search.FieldText
	case entry == GeoKey:
		return search.FieldGeoPoint
	case strings.HasPrefix(entry, "searchable("):
		return search.FieldFacet
	case strings.HasPrefix(entry, "filterOnly("):
		return search.FieldKeyword
	case strings.HasPrefix(entry, "asc("), strings.HasPrefix(entry, "desc("):
		return search.FieldFloat
	}
	return search.FieldKeyword
}

// facetName strips the searchable()/filterOnly() modifier of an
// attributesForFaceting entry
func facetName(entry string) string {
	for _, m := range []string{"searchable(", "filterOnly(", "afterDistinct("} {
		if strings.HasPrefix(entry, m) && strings.HasSuffix(entry, ")") {
			return facetName(entry[len(m) : len(entry)-1])
		}
	}
	return entry
}

// ReplicaName names the replica of index sorted on field
func ReplicaName(index, field, direction string) string {
	return index + "_" + field + "_" + direction
}

// isSwapStore reports whether name is a swap rebuild target; those get no
// replicas since they are moved over production once populated
func isSwapStore(name string) bool {
	return strings.HasSuffix(name, search.SwapSuffix) ||
		strings.HasSuffix(name, search.SwapSuffixA) ||
		strings.HasSuffix(name, search.SwapSuffixB)
}

// Settings returns the primary index settings of idx and the settings of
// each of its sort replicas keyed by replica name
func (m Mapper) Settings(idx *search.Index) (*Settings, map[string]*Settings, error) {
	name := idx.PhysicalName()
	settings := &Settings{
		SearchableAttributes:  searchableAttributes(idx),
		AttributesForFaceting: []string{},
		MaxValuesPerFacet:     MaxFacetValues,
		PaginationLimitedTo:   PaginationLimit,
	}
	replicas := make(map[string]*Settings)

	for _, f := range idx.EnabledFields() {
		roles, err := m.ToNative(f)
		if err != nil {
			return nil, nil, err
		}
		if facet, ok := roles[RoleFacet].(string); ok {
			settings.AttributesForFaceting = append(settings.AttributesForFaceting, facet)
		}
		if roles[RoleSortable] == true && !isSwapStore(name) {
			for _, dir := range []string{"asc", "desc"} {
				replica := ReplicaName(name, f.Name, dir)
				settings.Replicas = append(settings.Replicas, replica)
				replicas[replica] = &Settings{
					Ranking: append([]string{dir + "(" + f.Name + ")"}, defaultRanking...),
				}
			}
		}
	}
	return settings, replicas, nil
}

// searchableAttributes orders searchable fields by weight; equal weights
// share one comma-joined entry
func searchableAttributes(idx *search.Index) []string {
	var out []string
	prev := 0
	for i, f := range idx.SearchableFields() {
		if i > 0 && f.Weight == prev {
			out[len(out)-1] += "," + f.Name
		} else {
			out = append(out, f.Name)
		}
		prev = f.Weight
	}
	return out
}
