package trigger

import (
	"regexp"
	"strconv"
	"strings"
)

// Condition is a single predicate evaluated against a context map.
// Field uses dot-path resolution (e.g. "triggerData.user.id").
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
}

// Operator names, per spec.md §4.8.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpContains           = "contains"
	OpNotContains        = "not_contains"
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpIn                 = "in"
	OpNotIn              = "not_in"
	OpMatchesRegex       = "matches_regex"
	OpExists             = "exists"
	OpNotExists          = "not_exists"
)

// EvaluateAll is the AND of every condition; an empty list is true.
func EvaluateAll(conditions []Condition, ctx map[string]interface{}) bool {
	for _, c := range conditions {
		if !Evaluate(c, ctx) {
			return false
		}
	}
	return true
}

// Evaluate is a pure function (condition, context) -> bool, grounded
// on internal/plan/sop_graph.go's evaluateConstraint switch-over-
// operator shape, generalized from a fixed constraint vocabulary to
// the full operator set below.
func Evaluate(c Condition, ctx map[string]interface{}) bool {
	value, found := ResolveField(c.Field, ctx)

	switch c.Operator {
	case OpExists:
		return found
	case OpNotExists:
		return !found
	case OpEquals:
		return found && equalValues(value, c.Value)
	case OpNotEquals:
		return !found || !equalValues(value, c.Value)
	case OpContains:
		return found && containsValue(value, c.Value)
	case OpNotContains:
		return !found || !containsValue(value, c.Value)
	case OpGreaterThan:
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a > b })
	case OpLessThan:
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a < b })
	case OpGreaterThanOrEqual:
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a >= b })
	case OpLessThanOrEqual:
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a <= b })
	case OpIn:
		return found && containsValue(c.Value, value)
	case OpNotIn:
		return !found || !containsValue(c.Value, value)
	case OpMatchesRegex:
		return matchesRegex(value, c.Value)
	default:
		return false
	}
}

// ResolveField walks a dot-path (e.g. "a.b.c") over nested
// map[string]interface{} values. Missing intermediates yield
// (nil, false) rather than panicking.
func ResolveField(path string, ctx map[string]interface{}) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = ctx
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equalValues(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []interface{}:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
		return false
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range h {
			if item == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareNumeric(a, b interface{}, cmp func(float64, float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// matchesRegex reports whether value, which must be a string, matches
// pattern. An invalid pattern or non-string value yields false,
// never an error — matching matches_regex's "invalid regex -> false,
// never throws" contract.
func matchesRegex(value, pattern interface{}) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
