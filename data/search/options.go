package search

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ncobase/nsearch/utils/convert"
)

// Recognized option keys. Everything else in an Options bag is
// backend-native and passed through to the engine request verbatim.
const (
	OptPage           = "page"
	OptPerPage        = "perPage"
	OptSort           = "sort"
	OptAttributes     = "attributesToRetrieve"
	OptHighlight      = "highlight"
	OptSuggest        = "suggest"
	OptEmbedding      = "embedding"
	OptEmbeddingField = "embeddingField"
	OptSemanticRatio  = "semanticRatio"
	OptFacets         = "facets"
	OptFilters        = "filters"
	OptGeoFilter      = "geoFilter"
	OptGeoSort        = "geoSort"
	OptGeoGrid        = "geoGrid"
	OptStats          = "stats"
	OptHistogram      = "histogram"
)

const (
	DefaultPerPage       = 20
	MaxPerPage           = 1000
	DefaultSemanticRatio = 0.5
	DefaultGeoPrecision  = 5
)

// Options is the open option bag of a search call
type Options map[string]any

// Clone returns a shallow copy, never nil
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Has reports whether key is present
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

func (o Options) without(keys ...string) Options {
	out := o.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// MergeInto copies every key of o over dst, native keys win
func (o Options) MergeInto(dst map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(o))
	}
	for k, v := range o {
		dst[k] = v
	}
	return dst
}

// Pagination is the 1-based unified page
type Pagination struct {
	Page    int
	PerPage int
}

// Offset returns the zero-based offset of the first hit
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ExtractPagination reads page and perPage
func ExtractPagination(o Options) (Pagination, Options) {
	p := Pagination{Page: 1, PerPage: DefaultPerPage}
	if v, ok := o[OptPage]; ok {
		if n, err := convert.ToInt(v); err == nil {
			p.Page = int(n)
		}
	}
	if v, ok := o[OptPerPage]; ok {
		if n, err := convert.ToInt(v); err == nil {
			p.PerPage = int(n)
		}
	}
	return clampPagination(p), o.without(OptPage, OptPerPage)
}

func clampPagination(p Pagination) Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 1
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// OffsetPagination derives the page from a native offset/limit pair left in
// the remainder. Either key alone is enough; the other keeps its unified value.
func OffsetPagination(rest Options, offsetKey, limitKey string, p Pagination) Pagination {
	offset, hasOffset := intOption(rest, offsetKey)
	limit, hasLimit := intOption(rest, limitKey)
	if !hasOffset && !hasLimit {
		return p
	}
	if !hasLimit {
		limit = p.PerPage
	}
	if !hasOffset {
		offset = p.Offset()
	}
	if limit < 1 {
		return Pagination{Page: 1, PerPage: 0}
	}
	return Pagination{Page: offset/limit + 1, PerPage: limit}
}

// PagePagination derives the page from a native page/size pair left in the
// remainder. zeroBased is set for engines counting pages from 0.
func PagePagination(rest Options, pageKey, sizeKey string, zeroBased bool, p Pagination) Pagination {
	page, hasPage := intOption(rest, pageKey)
	size, hasSize := intOption(rest, sizeKey)
	if hasPage {
		if zeroBased {
			page++
		}
		p.Page = page
	}
	if hasSize {
		p.PerPage = size
	}
	if p.Page < 1 {
		p.Page = 1
	}
	return p
}

func intOption(o Options, key string) (int, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	n, err := convert.ToInt(v)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// SortField is one unified sort clause
type SortField struct {
	Field string
	Desc  bool
}

// Direction returns asc or desc
func (s SortField) Direction() string {
	if s.Desc {
		return "desc"
	}
	return "asc"
}

// Sort holds either unified clauses or a native sort expression
type Sort struct {
	Fields []SortField
	Native any
}

// IsZero reports whether no sort was requested
func (s Sort) IsZero() bool {
	return len(s.Fields) == 0 && s.Native == nil
}

func isDirection(v any) bool {
	s, ok := v.(string)
	return ok && (s == "asc" || s == "desc")
}

// IsUnifiedSort reports whether v is a unified sort: a map whose every value
// is exactly asc or desc, or a list of such maps.
func IsUnifiedSort(v any) bool {
	switch s := v.(type) {
	case map[string]string:
		if len(s) == 0 {
			return false
		}
		for _, d := range s {
			if !isDirection(d) {
				return false
			}
		}
		return true
	case map[string]any:
		if len(s) == 0 {
			return false
		}
		for _, d := range s {
			if !isDirection(d) {
				return false
			}
		}
		return true
	case []any:
		if len(s) == 0 {
			return false
		}
		for _, item := range s {
			if !IsUnifiedSort(item) {
				return false
			}
		}
		return true
	}
	return false
}

func unifiedSortFields(v any) []SortField {
	var out []SortField
	switch s := v.(type) {
	case map[string]string:
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, SortField{Field: k, Desc: s[k] == "desc"})
		}
	case map[string]any:
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, SortField{Field: k, Desc: s[k] == "desc"})
		}
	case []any:
		for _, item := range s {
			out = append(out, unifiedSortFields(item)...)
		}
	}
	return out
}

// ExtractSort reads sort. Native expressions are returned unchanged.
func ExtractSort(o Options) (Sort, Options) {
	v, ok := o[OptSort]
	if !ok || v == nil {
		return Sort{}, o.without(OptSort)
	}
	if IsUnifiedSort(v) {
		return Sort{Fields: unifiedSortFields(v)}, o.without(OptSort)
	}
	return Sort{Native: v}, o.without(OptSort)
}

// ExtractAttributes reads attributesToRetrieve; nil means all fields
func ExtractAttributes(o Options) ([]string, Options) {
	list, _ := convert.ToStringSlice(o[OptAttributes])
	return list, o.without(OptAttributes)
}

// Highlight selects highlighted fields. Enabled with no Fields means all.
type Highlight struct {
	Enabled bool
	Fields  []string
}

// ExtractHighlight reads highlight: true or a list of fields
func ExtractHighlight(o Options) (Highlight, Options) {
	rest := o.without(OptHighlight)
	switch v := o[OptHighlight].(type) {
	case nil:
		return Highlight{}, rest
	case []any, []string:
		fields, _ := convert.ToStringSlice(v)
		return Highlight{Enabled: len(fields) > 0, Fields: fields}, rest
	default:
		b, err := convert.ToBool(v)
		return Highlight{Enabled: err == nil && b}, rest
	}
}

// ExtractSuggest reads suggest
func ExtractSuggest(o Options) (bool, Options) {
	b, err := convert.ToBool(o[OptSuggest])
	return err == nil && b, o.without(OptSuggest)
}

// Embedding is a vector query
type Embedding struct {
	Vector        []float64
	Field         string
	SemanticRatio float64
}

// Hybrid reports whether the vector is combined with a text query
func (e *Embedding) Hybrid(query string) bool {
	return strings.TrimSpace(query) != ""
}

// ExtractEmbedding reads embedding, embeddingField and semanticRatio
func ExtractEmbedding(o Options) (*Embedding, Options, error) {
	rest := o.without(OptEmbedding, OptEmbeddingField, OptSemanticRatio)
	v, ok := o[OptEmbedding]
	if !ok || v == nil {
		return nil, rest, nil
	}
	vector, err := convert.ToFloatSlice(v)
	if err != nil {
		return nil, rest, &TranslationError{Option: OptEmbedding, Reason: err.Error()}
	}
	if len(vector) == 0 {
		return nil, rest, &TranslationError{Option: OptEmbedding, Reason: "empty vector"}
	}
	e := &Embedding{
		Vector:        vector,
		Field:         convert.ToString(o[OptEmbeddingField]),
		SemanticRatio: DefaultSemanticRatio,
	}
	if r, ok := o[OptSemanticRatio]; ok {
		f, err := convert.ToFloat(r)
		if err != nil || f < 0 || f > 1 {
			return nil, rest, &TranslationError{Option: OptSemanticRatio, Reason: "must be a number between 0 and 1"}
		}
		e.SemanticRatio = f
	}
	return e, rest, nil
}

// Range bounds a numeric filter; nil ends are open
type Range struct {
	Min *float64
	Max *float64
}

// Filter is one field constraint: equality over Values (OR) or a Range
type Filter struct {
	Field  string
	Values []any
	Range  *Range
}

// IsRange reports whether f is a range constraint
func (f Filter) IsRange() bool { return f.Range != nil }

// ExtractFacetsAndFilters reads facets and filters. Filters are returned
// ordered by field name.
func ExtractFacetsAndFilters(o Options) ([]string, []Filter, Options, error) {
	rest := o.without(OptFacets, OptFilters)
	facets, _ := convert.ToStringSlice(o[OptFacets])

	raw, ok := o[OptFilters]
	if !ok || raw == nil {
		return facets, nil, rest, nil
	}
	m, err := convert.ToObject(raw)
	if err != nil {
		return nil, nil, rest, &TranslationError{Option: OptFilters, Reason: "filters must be an object of field to value"}
	}

	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	filters := make([]Filter, 0, len(fields))
	for _, field := range fields {
		f, err := parseFilter(field, m[field])
		if err != nil {
			return nil, nil, rest, err
		}
		filters = append(filters, f)
	}
	return facets, filters, rest, nil
}

func parseFilter(field string, value any) (Filter, error) {
	switch v := value.(type) {
	case nil:
		return Filter{}, &TranslationError{Option: OptFilters, Field: field, Reason: "null value"}
	case map[string]any:
		r, err := parseRange(field, v)
		if err != nil {
			return Filter{}, err
		}
		return Filter{Field: field, Range: r}, nil
	case []any, []string, []int, []int64, []float64, []bool:
		values := convert.ToSlice(v)
		if len(values) == 0 {
			return Filter{}, &TranslationError{Option: OptFilters, Field: field, Reason: "empty value list"}
		}
		for _, item := range values {
			if !isScalar(item) {
				return Filter{}, &TranslationError{Option: OptFilters, Field: field, Reason: fmt.Sprintf("unsupported list item %T", item)}
			}
		}
		return Filter{Field: field, Values: values}, nil
	default:
		if !isScalar(v) {
			return Filter{}, &TranslationError{Option: OptFilters, Field: field, Reason: fmt.Sprintf("unsupported value %T", v)}
		}
		return Filter{Field: field, Values: []any{v}}, nil
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	return convert.IsNumber(v)
}

func parseRange(field string, m map[string]any) (*Range, error) {
	for k := range m {
		if k != "min" && k != "max" {
			return nil, &TranslationError{Option: OptFilters, Field: field, Reason: fmt.Sprintf("unknown range key %q", k)}
		}
	}
	r := &Range{}
	for _, bound := range []struct {
		key string
		dst **float64
	}{{"min", &r.Min}, {"max", &r.Max}} {
		v, ok := m[bound.key]
		if !ok || v == nil {
			continue
		}
		f, err := rangeBound(v)
		if err != nil {
			return nil, &TranslationError{Option: OptFilters, Field: field, Reason: fmt.Sprintf("%s: %v", bound.key, err)}
		}
		*bound.dst = &f
	}
	if r.Min == nil && r.Max == nil {
		return nil, &TranslationError{Option: OptFilters, Field: field, Reason: "range needs min or max"}
	}
	return r, nil
}

// rangeBound accepts numbers and date text
func rangeBound(v any) (float64, error) {
	if f, err := convert.ToFloat(v); err == nil && !math.IsNaN(f) {
		return f, nil
	}
	if s, ok := v.(string); ok {
		if sec, ok := EpochSeconds(s); ok {
			return float64(sec), nil
		}
	}
	return 0, fmt.Errorf("not a number or date: %v", v)
}

// GeoPoint is a WGS84 coordinate
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String formats the point as "lat,lng"
func (p GeoPoint) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// GeoFilter keeps hits within Radius meters of the center
type GeoFilter struct {
	GeoPoint
	Radius float64
}

// GeoGrid clusters hits into geohash cells of Precision characters
type GeoGrid struct {
	Precision int
}

// Geo groups the geo sub-parameters
type Geo struct {
	Filter *GeoFilter
	Sort   *GeoPoint
	Grid   *GeoGrid
}

// IsZero reports whether no geo option was given
func (g Geo) IsZero() bool {
	return g.Filter == nil && g.Sort == nil && g.Grid == nil
}

// ExtractGeo reads geoFilter, geoSort and geoGrid
func ExtractGeo(o Options) (Geo, Options, error) {
	rest := o.without(OptGeoFilter, OptGeoSort, OptGeoGrid)
	var g Geo

	if v, ok := o[OptGeoFilter]; ok && v != nil {
		m, err := convert.ToObject(v)
		if err != nil {
			return g, rest, &TranslationError{Option: OptGeoFilter, Reason: "must be an object with lat, lng and radius"}
		}
		p, err := ParseGeoPoint(m)
		if err != nil {
			return g, rest, &TranslationError{Option: OptGeoFilter, Reason: err.Error()}
		}
		radius, err := ParseRadius(m["radius"])
		if err != nil {
			return g, rest, &TranslationError{Option: OptGeoFilter, Reason: err.Error()}
		}
		g.Filter = &GeoFilter{GeoPoint: p, Radius: radius}
	}

	if v, ok := o[OptGeoSort]; ok && v != nil {
		p, err := ParseGeoPoint(v)
		if err != nil {
			return g, rest, &TranslationError{Option: OptGeoSort, Reason: err.Error()}
		}
		g.Sort = &p
	}

	if v, ok := o[OptGeoGrid]; ok && v != nil {
		grid := &GeoGrid{Precision: DefaultGeoPrecision}
		switch gv := v.(type) {
		case bool:
			if !gv {
				grid = nil
			}
		default:
			m, err := convert.ToObject(gv)
			if err != nil {
				return g, rest, &TranslationError{Option: OptGeoGrid, Reason: "must be true or an object with precision"}
			}
			if pv, ok := m["precision"]; ok {
				n, err := convert.ToInt(pv)
				if err != nil || n < 1 || n > 12 {
					return g, rest, &TranslationError{Option: OptGeoGrid, Reason: "precision must be between 1 and 12"}
				}
				grid.Precision = int(n)
			}
		}
		g.Grid = grid
	}
	return g, rest, nil
}

// ParseGeoPoint reads {lat, lng|lon} objects and "lat,lng" strings
func ParseGeoPoint(v any) (GeoPoint, error) {
	var lat, lng any
	switch p := v.(type) {
	case GeoPoint:
		return p, validatePoint(p)
	case string:
		parts := strings.Split(p, ",")
		if len(parts) != 2 {
			return GeoPoint{}, fmt.Errorf("invalid coordinate %q", p)
		}
		lat, lng = parts[0], parts[1]
	default:
		m, err := convert.ToObject(v)
		if err != nil {
			return GeoPoint{}, fmt.Errorf("invalid coordinate %v", v)
		}
		lat = m["lat"]
		if lng = m["lng"]; lng == nil {
			lng = m["lon"]
		}
	}
	if lat == nil || lng == nil {
		return GeoPoint{}, fmt.Errorf("coordinate needs lat and lng")
	}
	la, err := convert.ToFloat(lat)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("invalid latitude: %w", err)
	}
	ln, err := convert.ToFloat(lng)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("invalid longitude: %w", err)
	}
	gp := GeoPoint{Lat: la, Lng: ln}
	return gp, validatePoint(gp)
}

func validatePoint(p GeoPoint) error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lng)
	}
	return nil
}

// ParseRadius reads a radius in meters from a number or a string with
// an m or km unit
func ParseRadius(v any) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("radius is required")
	}
	var meters float64
	if s, ok := v.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		factor := 1.0
		switch {
		case strings.HasSuffix(s, "km"):
			factor, s = 1000, strings.TrimSuffix(s, "km")
		case strings.HasSuffix(s, "m"):
			s = strings.TrimSuffix(s, "m")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid radius %q", v)
		}
		meters = f * factor
	} else {
		f, err := convert.ToFloat(v)
		if err != nil {
			return 0, fmt.Errorf("invalid radius %v", v)
		}
		meters = f
	}
	if meters <= 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		return 0, fmt.Errorf("radius must be positive")
	}
	return meters, nil
}

// ExtractStats reads stats
func ExtractStats(o Options) ([]string, Options) {
	fields, _ := convert.ToStringSlice(o[OptStats])
	return fields, o.without(OptStats)
}

// Histogram requests fixed-width buckets over a numeric field
type Histogram struct {
	Field    string
	Interval float64
	Min      *float64
	Max      *float64
}

// HasBounds reports whether both bounds were supplied
func (h Histogram) HasBounds() bool {
	return h.Min != nil && h.Max != nil
}

// ExtractHistograms reads histogram as one object or a list of them
func ExtractHistograms(o Options) ([]Histogram, Options, error) {
	rest := o.without(OptHistogram)
	v, ok := o[OptHistogram]
	if !ok || v == nil {
		return nil, rest, nil
	}
	var items []any
	if list, ok := v.([]any); ok {
		items = list
	} else {
		items = []any{v}
	}

	out := make([]Histogram, 0, len(items))
	for _, item := range items {
		m, err := convert.ToObject(item)
		if err != nil {
			return nil, rest, &TranslationError{Option: OptHistogram, Reason: "must be an object with field and interval"}
		}
		h := Histogram{Field: convert.ToString(m["field"])}
		if h.Field == "" {
			return nil, rest, &TranslationError{Option: OptHistogram, Reason: "field is required"}
		}
		interval, err := convert.ToFloat(m["interval"])
		if err != nil || !finite(interval) || interval <= 0 {
			return nil, rest, &TranslationError{Option: OptHistogram, Field: h.Field, Reason: "interval must be a positive number"}
		}
		h.Interval = interval
		for _, bound := range []struct {
			key string
			dst **float64
		}{{"min", &h.Min}, {"max", &h.Max}} {
			if bv, ok := m[bound.key]; ok && bv != nil {
				f, err := rangeBound(bv)
				if err != nil {
					return nil, rest, &TranslationError{Option: OptHistogram, Field: h.Field, Reason: err.Error()}
				}
				if !finite(f) {
					return nil, rest, &TranslationError{Option: OptHistogram, Field: h.Field, Reason: bound.key + " must be finite"}
				}
				*bound.dst = &f
			}
		}
		out = append(out, h)
	}
	return out, rest, nil
}

// Params is the normalized form of an Options bag
type Params struct {
	Pagination
	Sort       Sort
	Attributes []string
	Highlight  Highlight
	Suggest    bool
	Embedding  *Embedding
	Facets     []string
	Filters    []Filter
	Geo        Geo
	Stats      []string
	Histograms []Histogram
	FieldTypes map[string]FieldType
}

// Extract runs every extractor over o. The returned remainder holds only
// the keys no extractor recognized.
func Extract(o Options, idx *Index) (*Params, Options, error) {
	p := &Params{}
	rest := o.Clone()
	var err error

	p.Pagination, rest = ExtractPagination(rest)
	p.Sort, rest = ExtractSort(rest)
	p.Attributes, rest = ExtractAttributes(rest)
	p.Highlight, rest = ExtractHighlight(rest)
	p.Suggest, rest = ExtractSuggest(rest)
	p.Stats, rest = ExtractStats(rest)
	if p.Embedding, rest, err = ExtractEmbedding(rest); err != nil {
		return nil, rest, err
	}
	if p.Facets, p.Filters, rest, err = ExtractFacetsAndFilters(rest); err != nil {
		return nil, rest, err
	}
	if p.Geo, rest, err = ExtractGeo(rest); err != nil {
		return nil, rest, err
	}
	if p.Histograms, rest, err = ExtractHistograms(rest); err != nil {
		return nil, rest, err
	}

	if idx != nil {
		p.FieldTypes = idx.FieldTypes()
		if p.Embedding != nil && p.Embedding.Field == "" {
			if f, ok := idx.EmbeddingField(); ok {
				p.Embedding.Field = f.Name
			}
		}
	}
	if p.Embedding != nil && p.Embedding.Field == "" {
		return nil, rest, &TranslationError{Option: OptEmbedding, Reason: "no embedding field configured"}
	}
	return p, rest, nil
}

// TypeOf returns the canonical type of field, empty when unknown
func (p *Params) TypeOf(field string) FieldType {
	if p == nil || p.FieldTypes == nil {
		return ""
	}
	return p.FieldTypes[field]
}

// ExactField resolves the exact-match name of field: text fields get
// the backend's keyword sibling suffix, every other type is used as is.
func (p *Params) ExactField(field, suffix string) string {
	if p.TypeOf(field) == FieldText && suffix != "" {
		return field + suffix
	}
	return field
}

// CheckExact fails for fields that cannot be filtered, sorted or faceted
func (p *Params) CheckExact(engine Engine, option, field string) error {
	switch p.TypeOf(field) {
	case FieldEmbedding, FieldObject:
		return &TranslationError{
			Engine: engine,
			Option: option,
			Field:  field,
			Reason: fmt.Sprintf("%s fields cannot be used in %s", p.TypeOf(field), option),
		}
	}
	return nil
}
