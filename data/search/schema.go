package search

import (
	"sort"
	"strings"
	"time"

	"github.com/ncobase/nsearch/utils/convert"
)

// InferenceSampleSize is the number of documents sampled for type inference
const InferenceSampleSize = 50

// minEmbeddingDims is the shortest numeric array read as a vector
const minEmbeddingDims = 8

// maxKeywordLength is the longest single-token string read as keyword
const maxKeywordLength = 32

// SchemaField is one canonical field of a live index
type SchemaField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// SchemaMapper translates between canonical and native field types
type SchemaMapper interface {
	// ToNative returns the native schema fragment of a mapping
	ToNative(f FieldMapping) (map[string]any, error)
	// FromNative returns the canonical type of a native type
	FromNative(nativeType string, props map[string]any) FieldType
}

// rank breaks vote ties toward the broader type
var typeRank = map[FieldType]int{
	FieldText:      10,
	FieldKeyword:   9,
	FieldFacet:     8,
	FieldFloat:     7,
	FieldInteger:   6,
	FieldDate:      5,
	FieldBoolean:   4,
	FieldGeoPoint:  3,
	FieldEmbedding: 2,
	FieldObject:    1,
}

// InferFieldTypes guesses the canonical type of every field seen in docs
// by majority vote over the sampled values
func InferFieldTypes(docs []Document) []SchemaField {
	votes := make(map[string]map[FieldType]int)
	for _, doc := range docs {
		for name, v := range doc {
			if name == ObjectIDKey {
				continue
			}
			t, ok := InferValueType(v)
			if !ok {
				continue
			}
			if votes[name] == nil {
				votes[name] = make(map[FieldType]int)
			}
			votes[name][t]++
		}
	}

	out := make([]SchemaField, 0, len(votes))
	for name, counts := range votes {
		if counts[FieldInteger] > 0 && counts[FieldFloat] > 0 {
			counts[FieldFloat] += counts[FieldInteger]
			delete(counts, FieldInteger)
		}
		var best FieldType
		for t, n := range counts {
			if best == "" || n > counts[best] || (n == counts[best] && typeRank[t] > typeRank[best]) {
				best = t
			}
		}
		out = append(out, SchemaField{Name: name, Type: best})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InferValueType guesses the canonical type of one value; ok is false for
// nulls and empty arrays
func InferValueType(v any) (FieldType, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		return FieldBoolean, true
	case time.Time:
		return FieldDate, true
	case string:
		return inferStringType(val), true
	case map[string]any:
		if _, ok := val["lat"]; ok {
			if _, ok := val["lng"]; ok {
				return FieldGeoPoint, true
			}
			if _, ok := val["lon"]; ok {
				return FieldGeoPoint, true
			}
		}
		return FieldObject, true
	}

	if convert.IsNumber(v) {
		if convert.IsIntegral(v) {
			return FieldInteger, true
		}
		return FieldFloat, true
	}

	items := convert.ToSlice(v)
	if len(items) == 0 {
		return "", false
	}
	numeric, allIntegral := true, true
	for _, item := range items {
		if !convert.IsNumber(item) {
			numeric = false
			break
		}
		if !convert.IsIntegral(item) {
			allIntegral = false
		}
	}
	switch {
	case numeric && len(items) >= minEmbeddingDims:
		return FieldEmbedding, true
	case numeric && allIntegral:
		return FieldInteger, true
	case numeric:
		return FieldFloat, true
	}
	if _, ok := items[0].(string); ok {
		return FieldFacet, true
	}
	return FieldObject, true
}

func inferStringType(s string) FieldType {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return FieldDate
		}
	}
	if trimmed != "" && len(trimmed) <= maxKeywordLength && !strings.ContainsAny(trimmed, " \t\n") {
		return FieldKeyword
	}
	return FieldText
}
