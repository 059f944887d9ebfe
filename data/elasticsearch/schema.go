package elasticsearch

import (
	"fmt"
	"sort"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

const (
	// KeywordSuffix addresses the exact-match sibling of text fields
	KeywordSuffix = ".keyword"
	// DateFormat accepts ISO-8601 text and epoch seconds
	DateFormat = "strict_date_optional_time||epoch_second"
)

// Mapper translates canonical field types to mapping properties
type Mapper struct {
	flavor Flavor
}

var _ search.SchemaMapper = Mapper{}

// NewMapper creates the schema mapper of flavor
func NewMapper(flavor Flavor) Mapper {
	return Mapper{flavor: flavor}
}

// ToNative returns the mapping property of f
func (m Mapper) ToNative(f search.FieldMapping) (map[string]any, error) {
	switch f.Type {
	case search.FieldText:
		return map[string]any{
			"type": "text",
			"fields": map[string]any{
				"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
			},
		}, nil
	case search.FieldKeyword, search.FieldFacet:
		return map[string]any{"type": "keyword"}, nil
	case search.FieldInteger:
		return map[string]any{"type": "long"}, nil
	case search.FieldFloat:
		return map[string]any{"type": "double"}, nil
	case search.FieldBoolean:
		return map[string]any{"type": "boolean"}, nil
	case search.FieldDate:
		return map[string]any{"type": "date", "format": DateFormat}, nil
	case search.FieldGeoPoint:
		return map[string]any{"type": "geo_point"}, nil
	case search.FieldObject:
		return map[string]any{"type": "object"}, nil
	case search.FieldEmbedding:
		dims := f.Dimensions()
		if dims <= 0 {
			return nil, &search.ConfigurationError{
				Engine: m.flavor.Engine,
				Field:  f.Name,
				Reason: "embedding fields need a positive dimensions option",
			}
		}
		return m.flavor.VectorMapping(dims), nil
	}
	return nil, &search.ConfigurationError{Engine: m.flavor.Engine, Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
}

// FromNative returns the canonical type of a mapping property
func (m Mapper) FromNative(nativeType string, props map[string]any) search.FieldType {
	switch nativeType {
	case "text", "match_only_text", "search_as_you_type":
		return search.FieldText
	case "long", "integer", "short", "byte", "unsigned_long":
		return search.FieldInteger
	case "double", "float", "half_float", "scaled_float":
		return search.FieldFloat
	case "boolean":
		return search.FieldBoolean
	case "date", "date_nanos":
		return search.FieldDate
	case "geo_point":
		return search.FieldGeoPoint
	case "object", "nested", "flattened":
		return search.FieldObject
	case "dense_vector", "knn_vector":
		return search.FieldEmbedding
	case "":
		if _, ok := props["properties"]; ok {
			return search.FieldObject
		}
	}
	return search.FieldKeyword
}

// Properties returns the mapping properties of every enabled field of idx
func (m Mapper) Properties(idx *search.Index) (map[string]any, bool, error) {
	props := map[string]any{search.ObjectIDKey: map[string]any{"type": "keyword"}}
	hasVector := false
	for _, f := range idx.EnabledFields() {
		p, err := m.ToNative(f)
		if err != nil {
			return nil, false, err
		}
		props[f.Name] = p
		hasVector = hasVector || f.Type == search.FieldEmbedding
	}
	return props, hasVector, nil
}

// Fields parses mapping properties into canonical fields sorted by name
func (m Mapper) Fields(properties map[string]any) []search.SchemaField {
	out := make([]search.SchemaField, 0, len(properties))
	for name, raw := range properties {
		if name == search.ObjectIDKey {
			continue
		}
		prop, err := convert.ToObject(raw)
		if err != nil {
			continue
		}
		out = append(out, search.SchemaField{Name: name, Type: m.FromNative(convert.ToString(prop["type"]), prop)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
