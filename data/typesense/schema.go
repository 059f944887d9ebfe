package typesense

import (
	"fmt"
	"sort"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

// IDKey is the primary key of every collection; it mirrors objectID
const IDKey = "id"

// Mapper translates canonical field types to collection fields
type Mapper struct{}

var _ search.SchemaMapper = Mapper{}

// ToNative returns the collection field of f without its name
func (Mapper) ToNative(f search.FieldMapping) (map[string]any, error) {
	field := map[string]any{"optional": true}
	switch f.Type {
	case search.FieldText:
		field["type"] = "string"
		field["sort"] = true
	case search.FieldKeyword, search.FieldFacet:
		field["type"] = "string"
		field["facet"] = true
	case search.FieldInteger, search.FieldDate:
		field["type"] = "int64"
		field["facet"] = true
		field["sort"] = true
	case search.FieldFloat:
		field["type"] = "float"
		field["facet"] = true
		field["sort"] = true
	case search.FieldBoolean:
		field["type"] = "bool"
		field["facet"] = true
	case search.FieldGeoPoint:
		field["type"] = "geopoint"
	case search.FieldObject:
		field["type"] = "object"
	case search.FieldEmbedding:
		dims := f.Dimensions()
		if dims <= 0 {
			return nil, &search.ConfigurationError{
				Engine: search.Typesense,
				Field:  f.Name,
				Reason: "embedding fields need a positive dimensions option",
			}
		}
		field["type"] = "float[]"
		field["num_dim"] = dims
	default:
		return nil, &search.ConfigurationError{Engine: search.Typesense, Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
	}
	return field, nil
}

// FromNative returns the canonical type of a collection field
func (Mapper) FromNative(nativeType string, props map[string]any) search.FieldType {
	switch nativeType {
	case "string":
		if facet, _ := convert.ToBool(props["facet"]); facet {
			return search.FieldKeyword
		}
		return search.FieldText
	case "string[]":
		return search.FieldFacet
	case "int32", "int64":
		return search.FieldInteger
	case "float":
		return search.FieldFloat
	case "bool":
		return search.FieldBoolean
	case "geopoint":
		return search.FieldGeoPoint
	case "object", "object[]":
		return search.FieldObject
	case "float[]":
		if _, ok := props["num_dim"]; ok {
			return search.FieldEmbedding
		}
	}
	return search.FieldKeyword
}

// Fields returns the collection fields of idx, objectID first
func (m Mapper) Fields(idx *search.Index) ([]map[string]any, error) {
	out := []map[string]any{{"name": search.ObjectIDKey, "type": "string", "optional": true}}
	for _, f := range idx.EnabledFields() {
		field, err := m.ToNative(f)
		if err != nil {
			return nil, err
		}
		field["name"] = f.Name
		out = append(out, field)
	}
	return out, nil
}

// Schema returns the collection schema of idx
func (m Mapper) Schema(idx *search.Index) (map[string]any, error) {
	fields, err := m.Fields(idx)
	if err != nil {
		return nil, err
	}
	schema := map[string]any{"name": idx.PhysicalName(), "fields": fields}
	for _, f := range idx.EnabledFields() {
		if f.Type == search.FieldObject {
			schema["enable_nested_fields"] = true
			break
		}
	}
	return schema, nil
}

// Canonical parses collection fields sorted by name
func (m Mapper) Canonical(fields []map[string]any) []search.SchemaField {
	out := make([]search.SchemaField, 0, len(fields))
	for _, f := range fields {
		name := convert.ToString(f["name"])
		if name == "" || name == search.ObjectIDKey || name == IDKey || name == ".*" {
			continue
		}
		out = append(out, search.SchemaField{Name: name, Type: m.FromNative(convert.ToString(f["type"]), f)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
