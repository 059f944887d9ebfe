package meilisearch

import (
	"strconv"
	"strings"

	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/utils/convert"
)

// quote renders v as a filter literal
func quote(v any) string {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val)
	case string:
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(val) + `"`
	}
	if convert.IsNumber(v) {
		f, err := convert.ToFloat(v)
		if err == nil {
			return formatFloat(f)
		}
	}
	return quote(convert.ToString(v))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// filterExpressions translates filters and the geo filter into
// expressions joined with AND
func filterExpressions(params *search.Params) ([]string, error) {
	var out []string
	for _, f := range params.Filters {
		if err := params.CheckExact(search.Meilisearch, search.OptFilters, f.Field); err != nil {
			return nil, err
		}
		isDate := params.TypeOf(f.Field) == search.FieldDate

		if f.IsRange() {
			switch r := f.Range; {
			case r.Min != nil && r.Max != nil:
				out = append(out, f.Field+" "+formatFloat(*r.Min)+" TO "+formatFloat(*r.Max))
			case r.Min != nil:
				out = append(out, f.Field+" >= "+formatFloat(*r.Min))
			default:
				out = append(out, f.Field+" <= "+formatFloat(*r.Max))
			}
			continue
		}

		values := make([]string, len(f.Values))
		for i, v := range f.Values {
			if isDate {
				v = search.NormalizeDate(v, search.DateEpochSeconds)
			}
			values[i] = quote(v)
		}
		if len(values) == 1 {
			out = append(out, f.Field+" = "+values[0])
		} else {
			out = append(out, f.Field+" IN ["+strings.Join(values, ", ")+"]")
		}
	}

	if gf := params.Geo.Filter; gf != nil {
		out = append(out, "_geoRadius("+formatFloat(gf.Lat)+", "+formatFloat(gf.Lng)+", "+formatFloat(gf.Radius)+")")
	}
	return out, nil
}

// rangeExpression selects values of field in [from, to)
func rangeExpression(field string, r search.HistogramRange) string {
	return field + " >= " + formatFloat(r.From) + " AND " + field + " < " + formatFloat(r.To)
}

// sortExpressions translates the unified sort; nil keeps relevance order
func sortExpressions(params *search.Params) ([]string, error) {
	if native := params.Sort.Native; native != nil {
		if list, ok := convert.ToStringSlice(native); ok {
			return list, nil
		}
		return nil, &search.TranslationError{Engine: search.Meilisearch, Option: search.OptSort, Reason: "native sort must be a list of attribute:direction strings"}
	}
	var out []string
	for _, f := range params.Sort.Fields {
		if err := params.CheckExact(search.Meilisearch, search.OptSort, f.Field); err != nil {
			return nil, err
		}
		out = append(out, f.Field+":"+f.Direction())
	}
	if p := params.Geo.Sort; p != nil {
		out = append(out, "_geoPoint("+formatFloat(p.Lat)+", "+formatFloat(p.Lng)+"):asc")
	}
	return out, nil
}
