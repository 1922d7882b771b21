package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Field aliases, in priority order.
var (
	idKeys        = []string{"id", "identity", "elementId", "key", "hash", "sha", "path"}
	kindKeys      = []string{"kind", "type", "nodeType"}
	labelKeys     = []string{"name", "title", "message", "path", "label"}
	timeKeys      = []string{"timestamp", "date", "time", "committed_at", "authored_at", "created_at"}
	sizeKeys      = []string{"size", "lines", "loc", "changes"}
	folderKeys    = []string{"folder", "folderGroup", "dir", "directory"}
	sourceKeys    = []string{"source", "from", "start", "src", "sourceId", "startNode"}
	targetKeys    = []string{"target", "to", "end", "dst", "targetId", "endNode"}
	edgeKindKeys  = []string{"kind", "type", "relation", "rel", "label"}
	weightKeys    = []string{"weight", "count", "strength"}
	timeLayouts   = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}
	propertiesKey = "properties"
)

// lookup returns the first present value among keys, searching the record
// itself before its nested properties object.
func lookup(rec Record, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v, true
		}
	}
	if props, ok := rec[propertiesKey].(map[string]any); ok {
		for _, k := range keys {
			if v, ok := props[k]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func lookupString(rec Record, keys ...string) string {
	v, ok := lookup(rec, keys...)
	if !ok {
		return ""
	}
	return toString(v)
}

// toString renders scalar ids and names. Integral numbers print without a
// fractional part so 42 and "42" resolve to the same id.
func toString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := x.Float64(); err == nil {
			return formatFloat(f)
		}
		return x.String()
	case float64:
		return formatFloat(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case map[string]any:
		return toString(firstPresent(Record(x), idKeys))
	default:
		return ""
	}
}

func firstPresent(rec Record, keys []string) any {
	v, _ := lookup(rec, keys...)
	return v
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toTime accepts RFC3339-ish strings or unix epochs. Epochs above 1e12 are
// taken as milliseconds.
func toTime(v any) time.Time {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return time.Time{}
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// stringList flattens a labels-style value into strings.
func stringList(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	case string:
		return []string{x}
	}
	return nil
}
