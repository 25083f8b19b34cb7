package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Operator names the comparison a leaf condition applies. The vocabulary
// is closed; dispatching an operator outside it is a per-rule evaluation
// error, never a panic.
type Operator string

const (
	OpEq              Operator = "=="
	OpNe              Operator = "!="
	OpLt              Operator = "<"
	OpLte             Operator = "<="
	OpGt              Operator = ">"
	OpGte             Operator = ">="
	OpContains        Operator = "contains"
	OpNotContains     Operator = "not_contains"
	OpIn              Operator = "in"
	OpNotIn           Operator = "not_in"
	OpIsNull          Operator = "is_null"
	OpIsNotNull       Operator = "is_not_null"
	OpMatchesRegex    Operator = "matches_regex"
	OpArrayContains   Operator = "array_contains"
	OpArrayAnyMatch   Operator = "array_any_match"
	OpArrayCountWhere Operator = "array_count_where"
)

// KnownOperator reports whether op belongs to the closed operator set.
func KnownOperator(op Operator) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte,
		OpContains, OpNotContains, OpIn, OpNotIn,
		OpIsNull, OpIsNotNull, OpMatchesRegex,
		OpArrayContains, OpArrayAnyMatch, OpArrayCountWhere:
		return true
	}
	return false
}

// applyOperator dispatches one leaf predicate. actual is the resolved
// document value and present is false when the field path did not resolve
// (the ABSENT case). Survey reports routinely miss fields, so every
// operator is total over absent input: positive assertions are false on
// ABSENT, negative assertions are true, and only genuinely malformed
// conditions (unknown operator, bad regex, wrong expected type for the
// array operators) produce an error.
func applyOperator(op Operator, actual any, present bool, expected any, extra map[string]any) (bool, error) {
	switch op {
	case OpEq:
		return looseEqual(actual, present, expected), nil

	case OpNe:
		return !looseEqual(actual, present, expected), nil

	case OpLt, OpLte, OpGt, OpGte:
		if !present {
			return false, nil
		}
		return compareOrdered(op, actual, expected), nil

	case OpContains:
		if !present {
			return false, nil
		}
		return containsValue(actual, expected), nil

	case OpNotContains:
		if !present {
			return true, nil
		}
		return !containsValue(actual, expected), nil

	case OpIn:
		if !present {
			return false, nil
		}
		return memberOf(actual, expected), nil

	case OpNotIn:
		if !present {
			return true, nil
		}
		return !memberOf(actual, expected), nil

	case OpIsNull:
		return !present || actual == nil, nil

	case OpIsNotNull:
		return present && actual != nil, nil

	case OpMatchesRegex:
		if !present {
			return false, nil
		}
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		pattern, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("matches_regex expects a string pattern, got %T", expected)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		return re.MatchString(s), nil

	case OpArrayContains, OpArrayAnyMatch:
		// array_any_match is a documented alias of array_contains; both
		// dispatch here so the two can never diverge.
		if !present {
			return false, nil
		}
		match, ok := expected.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%s expects an object value, got %T", op, expected)
		}
		items, ok := actual.([]any)
		if !ok {
			return false, nil
		}
		for _, item := range items {
			if elementMatches(item, match) {
				return true, nil
			}
		}
		return false, nil

	case OpArrayCountWhere:
		return applyCountWhere(actual, present, extra)
	}

	return false, fmt.Errorf("unknown operator %q", op)
}

// applyCountWhere counts the elements of actual matching extra["condition"]
// and compares the count against extra["threshold"] with
// extra["comparator"]. An unknown comparator evaluates false rather than
// erroring; missing condition or threshold is a malformed condition.
// An absent or non-array field counts as zero elements, so "== 0" style
// rules still hold on reports that omit the section entirely.
func applyCountWhere(actual any, present bool, extra map[string]any) (bool, error) {
	rawCond, ok := extra["condition"]
	if !ok {
		return false, fmt.Errorf("array_count_where requires a %q extra", "condition")
	}
	match, ok := rawCond.(map[string]any)
	if !ok {
		return false, fmt.Errorf("array_count_where condition must be an object, got %T", rawCond)
	}

	threshold, ok := toFloat(extra["threshold"])
	if !ok {
		return false, fmt.Errorf("array_count_where requires a numeric %q extra", "threshold")
	}

	comparator, _ := extra["comparator"].(string)

	count := 0
	if present {
		if items, ok := actual.([]any); ok {
			for _, item := range items {
				if elementMatches(item, match) {
					count++
				}
			}
		}
	}

	n := float64(count)
	switch comparator {
	case ">":
		return n > threshold, nil
	case ">=":
		return n >= threshold, nil
	case "<":
		return n < threshold, nil
	case "<=":
		return n <= threshold, nil
	case "==":
		return n == threshold, nil
	}
	return false, nil
}

// looseEqual is the == kernel. An absent field equals only a null
// expectation, so {"operator":"==","value":null} can assert absence.
func looseEqual(actual any, present bool, expected any) bool {
	if !present {
		return expected == nil
	}
	return valueEqual(actual, expected)
}

// valueEqual compares two document values. Numbers compare by magnitude
// regardless of representation (float64 from JSON, int from YAML or
// Go-constructed documents); everything else falls back to deep equality.
func valueEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered handles < <= > >=. Numbers compare numerically, strings
// lexicographically; mixed or unordered types evaluate false.
func compareOrdered(op Operator, actual, expected any) bool {
	var cmp int
	if fa, aok := toFloat(actual); aok {
		fb, bok := toFloat(expected)
		if !bok {
			return false
		}
		switch {
		case fa < fb:
			cmp = -1
		case fa > fb:
			cmp = 1
		}
	} else if sa, aok := actual.(string); aok {
		sb, bok := expected.(string)
		if !bok {
			return false
		}
		cmp = strings.Compare(sa, sb)
	} else {
		return false
	}

	switch op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// containsValue implements the contains operator: element membership for
// sequences, substring for strings.
func containsValue(actual, expected any) bool {
	switch v := actual.(type) {
	case []any:
		for _, item := range v {
			if valueEqual(item, expected) {
				return true
			}
		}
		return false
	case string:
		needle, ok := expected.(string)
		if !ok {
			return false
		}
		return strings.Contains(v, needle)
	}
	return false
}

// memberOf reports whether actual is an element of the expected sequence.
func memberOf(actual, expected any) bool {
	seq, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, item := range seq {
		if valueEqual(actual, item) {
			return true
		}
	}
	return false
}

// elementMatches reports whether an array element (an object) carries
// every key of match with an equal value. Elements that are not objects
// never match.
func elementMatches(item any, match map[string]any) bool {
	obj, ok := item.(map[string]any)
	if !ok {
		return false
	}
	for key, want := range match {
		got, ok := obj[key]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// toFloat coerces the numeric representations that reach the engine:
// float64 from encoding/json, int from YAML rule files and hand-built
// documents, int64/uint64 from CEL-derived fields, json.Number when a
// caller decodes with UseNumber.
func toFloat(v any) (float64, bool) {
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
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
