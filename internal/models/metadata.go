package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Filter is an exact-match equality filter over metadata keys; all keys must match.
type Filter map[string]interface{}

var metaKeyRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidMetaKey reports whether key may be used in a filter.
func ValidMetaKey(key string) bool {
	return metaKeyRe.MatchString(key)
}

// Matches reports whether metadata satisfies every equality in f. A nil filter matches everything.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok || !MetaEqual(got, want) {
			return false
		}
	}
	return true
}

// MetaEqual compares two scalar metadata values. Numbers compare by value regardless of
// their Go type (JSON round-trips turn ints into float64).
func MetaEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

// MetaValueString renders a scalar metadata value. Whole floats print without a fraction.
func MetaValueString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// MetaValueInt converts a scalar metadata value to int.
func MetaValueInt(v interface{}) (int, bool) {
	if f, ok := toFloat(v); ok {
		return int(f), true
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

// MetaValueBool converts a scalar metadata value to bool.
func MetaValueBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return ParseBool(x)
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return false
}

// ParseBool accepts the spellings seen in exported spreadsheets: true/false, yes/no, 1/0, t/f.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "1.0":
		return true
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
