package search

import (
	"math"
	"sort"
	"strings"

	"github.com/ncobase/nsearch/utils/convert"
)

// Default highlight markers used by every adapter
const (
	HighlightPreTag  = "<mark>"
	HighlightPostTag = "</mark>"
)

// MaxSynthesizedBuckets bounds histogram synthesis on engines without a
// native histogram aggregation
const MaxSynthesizedBuckets = 200

// NormalizeFacetCounts orders value counts by count descending, then value
func NormalizeFacetCounts(counts map[string]int64) []FacetCount {
	out := make([]FacetCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, FacetCount{Value: v, Count: c})
	}
	SortFacetCounts(out)
	return out
}

// SortFacetCounts sorts in place by count descending, then value ascending
func SortFacetCounts(counts []FacetCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})
}

// NormalizeFacetDistribution converts a decoded field → value → count object
func NormalizeFacetDistribution(raw map[string]any) map[string][]FacetCount {
	out := make(map[string][]FacetCount, len(raw))
	for field, values := range raw {
		m, ok := values.(map[string]any)
		if !ok {
			continue
		}
		counts := make(map[string]int64, len(m))
		for v, c := range m {
			n, err := convert.ToInt(c)
			if err != nil {
				continue
			}
			counts[v] = n
		}
		out[field] = NormalizeFacetCounts(counts)
	}
	return out
}

// FilterFacetCounts keeps values containing query, case-insensitively, up to limit
func FilterFacetCounts(counts []FacetCount, query string, limit int) []FacetCount {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]FacetCount, 0)
	for _, c := range counts {
		if q != "" && !strings.Contains(strings.ToLower(c.Value), q) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// HighlightsFromFragments reads field → fragment list highlight objects
func HighlightsFromFragments(raw map[string]any) map[string][]string {
	out := make(map[string][]string, len(raw))
	for field, v := range raw {
		fragments, ok := convert.ToStringSlice(v)
		if !ok || len(fragments) == 0 {
			continue
		}
		out[field] = fragments
	}
	return out
}

// HighlightsFromMatchLevels reads {value, matchLevel} objects, arrays of them
// or nested objects, dropping fields whose match level is none
func HighlightsFromMatchLevels(raw map[string]any) map[string][]string {
	out := make(map[string][]string, len(raw))
	for field, v := range raw {
		if fragments := matchLevelFragments(v); len(fragments) > 0 {
			out[field] = fragments
		}
	}
	return out
}

func matchLevelFragments(v any) []string {
	switch h := v.(type) {
	case map[string]any:
		if value, ok := h["value"]; ok {
			if level := convert.ToString(h["matchLevel"]); level == "none" {
				return nil
			}
			return []string{convert.ToString(value)}
		}
		var out []string
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, matchLevelFragments(h[k])...)
		}
		return out
	case []any:
		var out []string
		for _, item := range h {
			out = append(out, matchLevelFragments(item)...)
		}
		return out
	}
	return nil
}

// HighlightsFromInline keeps the formatted fields whose text contains preTag
func HighlightsFromInline(formatted map[string]any, preTag string) map[string][]string {
	if preTag == "" {
		preTag = HighlightPreTag
	}
	out := make(map[string][]string)
	for field, v := range formatted {
		var fragments []string
		for _, item := range convert.ToSlice(v) {
			s, ok := item.(string)
			if ok && strings.Contains(s, preTag) {
				fragments = append(fragments, s)
			}
		}
		if len(fragments) > 0 {
			out[field] = fragments
		}
	}
	return out
}

// HighlightsFromSnippets reads [{field, snippet|snippets|value}] lists
func HighlightsFromSnippets(list []any) map[string][]string {
	out := make(map[string][]string)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		field := convert.ToString(m["field"])
		if field == "" {
			continue
		}
		var fragments []string
		if s, ok := convert.ToStringSlice(m["snippets"]); ok && len(s) > 0 {
			fragments = s
		} else if s := convert.ToString(m["snippet"]); s != "" {
			fragments = []string{s}
		} else if s := convert.ToString(m["value"]); s != "" {
			fragments = []string{s}
		}
		if len(fragments) > 0 {
			out[field] = append(out[field], fragments...)
		}
	}
	return out
}

// Select keeps the highlights of the requested fields. Disabled highlighting
// yields an empty map.
func (h Highlight) Select(highlights map[string][]string) map[string][]string {
	out := make(map[string][]string)
	if !h.Enabled {
		return out
	}
	if len(h.Fields) == 0 {
		for k, v := range highlights {
			out[k] = v
		}
		return out
	}
	for _, f := range h.Fields {
		if v, ok := highlights[f]; ok {
			out[f] = v
		}
	}
	return out
}

// internal keys engines add to returned documents
var internalHitKeys = map[string]struct{}{
	"_highlightResult": {},
	"_snippetResult":   {},
	"_rankingInfo":     {},
	"_formatted":       {},
	"_rankingScore":    {},
	"_geoDistance":     {},
	"_vectors":         {},
}

// NormalizeHit builds a Hit from a backend document
func NormalizeHit(raw map[string]any, score float64, highlights map[string][]string, types map[string]FieldType) Hit {
	h := Hit{Score: score, Highlights: highlights, Fields: make(map[string]any, len(raw))}
	if h.Highlights == nil {
		h.Highlights = map[string][]string{}
	}
	for _, key := range []string{ObjectIDKey, "id", "_id"} {
		if v, ok := raw[key]; ok && v != nil {
			h.ObjectID = convert.ToString(v)
			break
		}
	}
	for k, v := range raw {
		if k == ObjectIDKey {
			continue
		}
		if _, skip := internalHitKeys[k]; skip {
			continue
		}
		if types[k] == FieldGeoPoint {
			if p, err := ParseGeoPoint(geoValue(v)); err == nil {
				v = map[string]any{"lat": p.Lat, "lng": p.Lng}
			}
		}
		h.Fields[k] = v
	}
	return h
}

// geoValue reads [lat, lng] pairs into objects; other shapes pass through
func geoValue(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return v
	}
	return map[string]any{"lat": list[0], "lng": list[1]}
}

// DistinctSuggestions removes blanks, case-insensitive duplicates and the
// original query, keeping first-seen order
func DistinctSuggestions(query string, candidates []string) []string {
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(query)): {}}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// HistogramRange is the half-open interval [From, To) of one bucket
type HistogramRange struct {
	From float64
	To   float64
}

// HistogramRanges returns the aligned buckets covering [min, max]
func HistogramRanges(interval, min, max float64) ([]HistogramRange, error) {
	if !finite(interval) || interval <= 0 {
		return nil, &TranslationError{Option: OptHistogram, Reason: "interval must be positive"}
	}
	if !finite(min) || !finite(max) {
		return nil, &TranslationError{Option: OptHistogram, Reason: "bounds must be finite"}
	}
	if max < min {
		return nil, nil
	}
	start := math.Floor(min/interval) * interval
	count := math.Floor((max-start)/interval) + 1
	if !finite(count) || count > MaxSynthesizedBuckets {
		return nil, &TranslationError{
			Option: OptHistogram,
			Reason: "interval too small for the value range",
		}
	}
	out := make([]HistogramRange, int(count))
	for i := range out {
		from := start + float64(i)*interval
		out[i] = HistogramRange{From: from, To: from + interval}
	}
	return out, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// BuildHistogram counts values into aligned buckets over [min, max]
func BuildHistogram(values []float64, interval, min, max float64) ([]Bucket, error) {
	ranges, err := HistogramRanges(interval, min, max)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, len(ranges))
	for _, v := range values {
		if v < min || v > max || len(ranges) == 0 {
			continue
		}
		i := int(math.Floor((v - ranges[0].From) / interval))
		if i >= 0 && i < len(counts) {
			counts[i]++
		}
	}
	return BucketsFromCounts(ranges, counts), nil
}

// BucketsFromCounts zips ranges with their counts
func BucketsFromCounts(ranges []HistogramRange, counts []int64) []Bucket {
	out := make([]Bucket, len(ranges))
	for i, r := range ranges {
		out[i] = Bucket{Key: r.From}
		if i < len(counts) {
			out[i].Count = counts[i]
		}
	}
	return out
}

// HistogramBounds returns the bounds of h, using stat for the missing ones
func HistogramBounds(h Histogram, stat *Stat) (float64, float64, bool) {
	if h.HasBounds() {
		return *h.Min, *h.Max, true
	}
	if stat == nil {
		return 0, 0, false
	}
	min, max := stat.Min, stat.Max
	if h.Min != nil {
		min = *h.Min
	}
	if h.Max != nil {
		max = *h.Max
	}
	return min, max, true
}
