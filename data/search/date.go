package search

import (
	"math"
	"strings"
	"time"

	"github.com/ncobase/nsearch/utils/convert"
)

// DateFormat is the representation a backend expects for date fields
type DateFormat int

const (
	// DateEpochSeconds sends dates as integer seconds since the epoch
	DateEpochSeconds DateFormat = iota
	// DateISO8601 sends dates as RFC 3339 text in UTC
	DateISO8601
)

// millisecondThreshold separates epoch milliseconds from epoch seconds
const millisecondThreshold = 10_000_000_000

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// EpochSeconds converts a numeric, textual or time.Time date to epoch seconds
func EpochSeconds(value any) (int64, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.Unix(), true
	case *time.Time:
		if v == nil {
			return 0, false
		}
		return v.Unix(), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix(), true
			}
		}
		f, err := convert.ToFloat(s)
		if err != nil {
			return 0, false
		}
		return secondsFromNumber(f), true
	}
	if !convert.IsNumber(value) {
		return 0, false
	}
	f, err := convert.ToFloat(value)
	if err != nil {
		return 0, false
	}
	return secondsFromNumber(f), true
}

func secondsFromNumber(f float64) int64 {
	if math.Abs(f) >= millisecondThreshold {
		return int64(f / 1000)
	}
	return int64(f)
}

// NormalizeDate converts value into format. Values that are not
// recognizable as dates are returned unchanged.
func NormalizeDate(value any, format DateFormat) any {
	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = NormalizeDate(item, format)
		}
		return out
	}
	sec, ok := EpochSeconds(value)
	if !ok {
		return value
	}
	if format == DateISO8601 {
		return time.Unix(sec, 0).UTC().Format(time.RFC3339)
	}
	return sec
}
