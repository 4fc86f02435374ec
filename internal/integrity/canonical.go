package integrity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonical maps v to the form used for equality checks: lists become sorted,
// lower-cased string lists, size strings ("16 GB") lose their whitespace, other
// strings are lower-cased and trimmed, and maps are canonicalized per value.
// Canonical(Canonical(v)) equals Canonical(v).
func Canonical(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = strings.ToLower(strings.TrimSpace(s))
		}
		sort.Strings(out)
		return out
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = strings.ToLower(strings.TrimSpace(stringify(item)))
		}
		sort.Strings(out)
		return out
	case string:
		if hasSizeUnit(t) {
			return strings.ToLower(strings.Join(strings.Fields(t), ""))
		}
		return strings.ToLower(strings.TrimSpace(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Canonical(val)
		}
		return out
	}
	return v
}

func hasSizeUnit(s string) bool {
	u := strings.ToUpper(s)
	for _, unit := range []string{"GB", "MB", "TB", "KB"} {
		if strings.Contains(u, unit) {
			return true
		}
	}
	return false
}

// isFalsy reports values that carry no information: nil, false, zero numbers,
// empty strings, lists and maps.
func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
