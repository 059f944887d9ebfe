package typesense

import (
	"strconv"
	"strings"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

// literal renders v inside a filter_by clause; strings are backquoted.
// filter_by has no escape for a backquote, so such values are rejected.
func literal(field string, v any) (string, error) {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val), nil
	case string:
		if strings.Contains(val, "`") {
			return "", &search.TranslationError{
				Engine: search.Typesense,
				Option: search.OptFilters,
				Field:  field,
				Reason: "value contains backtick",
			}
		}
		return "`" + val + "`", nil
	}
	if convert.IsNumber(v) {
		if f, err := convert.ToFloat(v); err == nil {
			return formatFloat(f), nil
		}
	}
	return literal(field, convert.ToString(v))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// filterBy translates filters and the geo filter into a filter_by
// expression; empty when nothing filters
func filterBy(idx *search.Index, params *search.Params) (string, error) {
	clauses, err := filterClauses(idx, params)
	if err != nil {
		return "", err
	}
	return strings.Join(clauses, " && "), nil
}

func filterClauses(idx *search.Index, params *search.Params) ([]string, error) {
	var out []string
	for _, f := range params.Filters {
		if err := params.CheckExact(search.Typesense, search.OptFilters, f.Field); err != nil {
			return nil, err
		}
		if f.IsRange() {
			switch r := f.Range; {
			case r.Min != nil && r.Max != nil:
				out = append(out, f.Field+":["+formatFloat(*r.Min)+".."+formatFloat(*r.Max)+"]")
			case r.Min != nil:
				out = append(out, f.Field+":>="+formatFloat(*r.Min))
			default:
				out = append(out, f.Field+":<="+formatFloat(*r.Max))
			}
			continue
		}

		isDate := params.TypeOf(f.Field) == search.FieldDate
		values := make([]string, len(f.Values))
		for i, v := range f.Values {
			if isDate {
				v = search.NormalizeDate(v, search.DateEpochSeconds)
			}
			lit, err := literal(f.Field, v)
			if err != nil {
				return nil, err
			}
			values[i] = lit
		}
		if len(values) == 1 {
			out = append(out, f.Field+":="+values[0])
		} else {
			out = append(out, f.Field+":=["+strings.Join(values, ",")+"]")
		}
	}

	if gf := params.Geo.Filter; gf != nil {
		field := idx.GeoField()
		if field == "" {
			return nil, &search.TranslationError{Engine: search.Typesense, Option: search.OptGeoFilter, Reason: "index has no geo_point field"}
		}
		out = append(out, field+":("+formatFloat(gf.Lat)+", "+formatFloat(gf.Lng)+", "+formatFloat(gf.Radius/1000)+" km)")
	}
	return out, nil
}

// sortBy translates the unified sort; empty keeps relevance order
func sortBy(idx *search.Index, params *search.Params) (string, error) {
	if native := params.Sort.Native; native != nil {
		if s, ok := native.(string); ok {
			return s, nil
		}
		if list, ok := convert.ToStringSlice(native); ok {
			return strings.Join(list, ","), nil
		}
		return "", &search.TranslationError{Engine: search.Typesense, Option: search.OptSort, Reason: "native sort must be a sort_by string"}
	}
	var out []string
	for _, f := range params.Sort.Fields {
		if err := params.CheckExact(search.Typesense, search.OptSort, f.Field); err != nil {
			return "", err
		}
		out = append(out, f.Field+":"+f.Direction())
	}
	if p := params.Geo.Sort; p != nil {
		field := idx.GeoField()
		if field == "" {
			return "", &search.TranslationError{Engine: search.Typesense, Option: search.OptGeoSort, Reason: "index has no geo_point field"}
		}
		out = append(out, field+"("+formatFloat(p.Lat)+", "+formatFloat(p.Lng)+"):asc")
	}
	return strings.Join(out, ","), nil
}

// rangeFacet renders a range facet_by clause; labels are r0, r1, ...
func rangeFacet(field string, ranges []search.HistogramRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = "r" + strconv.Itoa(i) + ":[" + formatFloat(r.From) + ", " + formatFloat(r.To) + "]"
	}
	return field + "(" + strings.Join(parts, ", ") + ")"
}

// idFilter selects documents by id
func idFilter(ids []string) (string, error) {
	values := make([]string, len(ids))
	for i, id := range ids {
		lit, err := literal(IDKey, id)
		if err != nil {
			return "", err
		}
		values[i] = lit
	}
	return IDKey + ":[" + strings.Join(values, ",") + "]", nil
}

// filterable reports whether id can appear in a filter_by literal
func filterable(id string) bool {
	return !strings.Contains(id, "`")
}
