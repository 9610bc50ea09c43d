package actions

import (
	"fmt"
	"strconv"
	"strings"
)

// Equal reports deep structural equality between two observed values.
// Numbers compare by value regardless of their Go type (a JSON 100 and
// a YAML 100.0 are equal), but there is no cross-type coercion: 100
// never equals "100". Nil equals only nil.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toNumber(a); ok {
		fb, ok := toNumber(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports membership: substring for strings (the expected
// value is stringified first), element membership for lists, and value
// membership for maps. Any other actual type never contains anything.
func Contains(actual, expected any) bool {
	switch av := actual.(type) {
	case string:
		return strings.Contains(av, stringify(expected))
	case []any:
		for _, item := range av {
			if Equal(item, expected) {
				return true
			}
		}
	case map[string]any:
		for _, item := range av {
			if Equal(item, expected) {
				return true
			}
		}
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// stringify renders a value for substring matching. Whole floats print
// without a trailing ".0" so a JSON-decoded 100 matches "100".
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprintf("%v", v)
}
