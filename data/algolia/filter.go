package algolia

import (
	"math"
	"strconv"
	"strings"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// quote renders a string facet value
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// attribute quotes attribute names the filter grammar would misread
func attribute(name string) string {
	if strings.ContainsAny(name, " :()\"'") {
		return quote(name)
	}
	return name
}

// valueClause renders one equality; numbers use the numeric comparison
// syntax, everything else the facet syntax
func valueClause(field string, v any) string {
	switch val := v.(type) {
	case bool:
		return attribute(field) + ":" + strconv.FormatBool(val)
	case string:
		return attribute(field) + ":" + quote(val)
	}
	if convert.IsNumber(v) {
		if f, err := convert.ToFloat(v); err == nil {
			return attribute(field) + " = " + formatFloat(f)
		}
	}
	return attribute(field) + ":" + quote(convert.ToString(v))
}

// filterString translates filters into the filters syntax: values of one
// field are ORed inside parentheses, fields are ANDed
func filterString(params *search.Params) (string, error) {
	var clauses []string
	for _, f := range params.Filters {
		if err := params.CheckExact(search.Algolia, search.OptFilters, f.Field); err != nil {
			return "", err
		}
		if f.IsRange() {
			clauses = append(clauses, rangeClause(f.Field, f.Range))
			continue
		}
		isDate := params.TypeOf(f.Field) == search.FieldDate
		values := make([]string, len(f.Values))
		for i, v := range f.Values {
			if isDate {
				v = search.NormalizeDate(v, search.DateEpochSeconds)
			}
			values[i] = valueClause(f.Field, v)
		}
		if len(values) == 1 {
			clauses = append(clauses, values[0])
		} else {
			clauses = append(clauses, "("+strings.Join(values, " OR ")+")")
		}
	}
	return strings.Join(clauses, " AND "), nil
}

func rangeClause(field string, r *search.Range) string {
	name := attribute(field)
	switch {
	case r.Min != nil && r.Max != nil:
		return name + ":" + formatFloat(*r.Min) + " TO " + formatFloat(*r.Max)
	case r.Min != nil:
		return name + " >= " + formatFloat(*r.Min)
	default:
		return name + " <= " + formatFloat(*r.Max)
	}
}

// histogramClause selects values of field in [from, to)
func histogramClause(field string, r search.HistogramRange) string {
	name := attribute(field)
	return name + " >= " + formatFloat(r.From) + " AND " + name + " < " + formatFloat(r.To)
}

// and joins non-empty filter strings; OR groups are already parenthesized
func and(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " AND ")
}

// sortIndex resolves the index answering a sorted query. A unified sort
// targets the replica of its field; a native sort names the replica.
func sortIndex(index string, params *search.Params) (string, error) {
	if native := params.Sort.Native; native != nil {
		name, ok := native.(string)
		if !ok || name == "" {
			return "", &search.TranslationError{Engine: search.Algolia, Option: search.OptSort, Reason: "native sort must name a replica index"}
		}
		return name, nil
	}
	fields := params.Sort.Fields
	if len(fields) == 0 {
		return index, nil
	}
	if len(fields) > 1 {
		return "", &search.TranslationError{Engine: search.Algolia, Option: search.OptSort, Reason: "replicas sort on a single field"}
	}
	f := fields[0]
	if err := params.CheckExact(search.Algolia, search.OptSort, f.Field); err != nil {
		return "", err
	}
	switch params.TypeOf(f.Field) {
	case search.FieldInteger, search.FieldFloat, search.FieldDate:
	default:
		return "", &search.TranslationError{
			Engine: search.Algolia,
			Option: search.OptSort,
			Field:  f.Field,
			Reason: "only numeric and date fields have sort replicas",
		}
	}
	return ReplicaName(index, f.Field, f.Direction()), nil
}

// geoParams translates the geo filter and sort. Algolia ranks by distance
// to aroundLatLng, so a sort point without a filter becomes an unbounded
// radius around it. Both constraints share the one center, so a sort
// point away from the filter center cannot be expressed.
func geoParams(params *search.Params) (map[string]any, error) {
	out := make(map[string]any)
	gf, gs := params.Geo.Filter, params.Geo.Sort
	switch {
	case gf != nil:
		if gs != nil && *gs != gf.GeoPoint {
			return nil, &search.TranslationError{
				Engine: search.Algolia,
				Option: search.OptGeoSort,
				Reason: "geo sort must use the geo filter center",
			}
		}
		out["aroundLatLng"] = gf.GeoPoint.String()
		out["aroundRadius"] = int(math.Ceil(gf.Radius))
	case gs != nil:
		out["aroundLatLng"] = gs.String()
		out["aroundRadius"] = "all"
	}
	return out, nil
}
