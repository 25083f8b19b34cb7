package rules

import (
	"testing"
)

// applyOn is a test helper that resolves path in doc and dispatches op.
func applyOn(t *testing.T, doc Document, path string, op Operator, expected any, extra map[string]any) (bool, error) {
	t.Helper()
	actual, present := Lookup(doc, path)
	return applyOperator(op, actual, present, expected, extra)
}

func TestComparisonOperators(t *testing.T) {
	doc := sampleDoc()

	testCases := []struct {
		name     string
		path     string
		op       Operator
		expected any
		want     bool
	}{
		{"eq number", "beneficiaries.actual_count", OpEq, 1.0, true},
		{"eq number int expected", "beneficiaries.actual_count", OpEq, 1, true},
		{"eq number false", "beneficiaries.actual_count", OpEq, 2.0, false},
		{"eq string", "facility.type", OpEq, "CHC", true},
		{"ne", "facility.type", OpNe, "PHC", true},
		{"lt", "beneficiaries.attendance_rate", OpLt, 0.5, true},
		{"lt false", "beneficiaries.attendance_rate", OpLt, 0.1, false},
		{"lte boundary", "beneficiaries.attendance_rate", OpLte, 0.125, true},
		{"gt", "beneficiaries.expected_count", OpGt, 5, true},
		{"gte boundary", "beneficiaries.expected_count", OpGte, 8, true},
		{"lt string ordinal", "facility.type", OpLt, "PHC", true},
		{"lt mixed types", "facility.type", OpLt, 10, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := applyOn(t, doc, tc.path, tc.op, tc.expected, nil)
			if err != nil {
				t.Fatalf("applyOperator() error: %v", err)
			}
			if got != tc.want {
				t.Errorf("applyOperator(%s) = %v, want %v", tc.op, got, tc.want)
			}
		})
	}
}

func TestOperatorsOnAbsentField(t *testing.T) {
	doc := sampleDoc()
	const path = "facility.district" // absent

	testCases := []struct {
		op       Operator
		expected any
		want     bool
	}{
		{OpEq, "Sitapur", false},
		{OpEq, nil, true}, // absent equals a null expectation
		{OpNe, "Sitapur", true},
		{OpLt, 10, false},
		{OpLte, 10, false},
		{OpGt, 10, false},
		{OpGte, 10, false},
		{OpContains, "x", false},
		{OpNotContains, "x", true},
		{OpIn, []any{"a", "b"}, false},
		{OpNotIn, []any{"a", "b"}, true},
		{OpIsNull, nil, true},
		{OpIsNotNull, nil, false},
		{OpMatchesRegex, ".*", false},
		{OpArrayContains, map[string]any{"k": "v"}, false},
		{OpArrayAnyMatch, map[string]any{"k": "v"}, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.op), func(t *testing.T) {
			got, err := applyOn(t, doc, path, tc.op, tc.expected, nil)
			if err != nil {
				t.Fatalf("applyOperator() error: %v", err)
			}
			if got != tc.want {
				t.Errorf("applyOperator(%s) on absent field = %v, want %v", tc.op, got, tc.want)
			}
		})
	}
}

func TestIsNullDistinguishesNothing(t *testing.T) {
	doc := sampleDoc()

	// Explicit null and absent both count as null.
	for _, path := range []string{"beneficiaries.notes", "beneficiaries.missing"} {
		got, err := applyOn(t, doc, path, OpIsNull, nil, nil)
		if err != nil {
			t.Fatalf("is_null error: %v", err)
		}
		if !got {
			t.Errorf("is_null(%q) = false, want true", path)
		}

		got, err = applyOn(t, doc, path, OpIsNotNull, nil, nil)
		if err != nil {
			t.Fatalf("is_not_null error: %v", err)
		}
		if got {
			t.Errorf("is_not_null(%q) = true, want false", path)
		}
	}

	// A real value is not null.
	got, _ := applyOn(t, doc, "facility.name", OpIsNotNull, nil, nil)
	if !got {
		t.Error("is_not_null on a present value should be true")
	}
}

func TestContainsOperators(t *testing.T) {
	doc := Document{
		"name":     "CHC Rampur",
		"services": []any{"ANC", "immunization", "IFA"},
	}

	testCases := []struct {
		name     string
		path     string
		op       Operator
		expected any
		want     bool
	}{
		{"substring", "name", OpContains, "Rampur", true},
		{"substring miss", "name", OpContains, "Sitapur", false},
		{"sequence element", "services", OpContains, "ANC", true},
		{"sequence miss", "services", OpContains, "PNC", false},
		{"not_contains hit", "services", OpNotContains, "PNC", true},
		{"not_contains miss", "services", OpNotContains, "ANC", false},
		{"in", "name", OpIn, []any{"CHC Rampur", "PHC Mau"}, true},
		{"in miss", "name", OpIn, []any{"PHC Mau"}, false},
		{"in non-sequence expected", "name", OpIn, "CHC Rampur", false},
		{"not_in", "name", OpNotIn, []any{"PHC Mau"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := applyOn(t, doc, tc.path, tc.op, tc.expected, nil)
			if err != nil {
				t.Fatalf("applyOperator() error: %v", err)
			}
			if got != tc.want {
				t.Errorf("applyOperator(%s) = %v, want %v", tc.op, got, tc.want)
			}
		})
	}
}

func TestMatchesRegex(t *testing.T) {
	doc := Document{"facility": map[string]any{"code": "UP-SIT-0042", "beds": 12.0}}

	got, err := applyOn(t, doc, "facility.code", OpMatchesRegex, `^UP-[A-Z]{3}-\d{4}$`, nil)
	if err != nil {
		t.Fatalf("matches_regex error: %v", err)
	}
	if !got {
		t.Error("matches_regex should match the facility code")
	}

	// Non-string actual is false, not an error.
	got, err = applyOn(t, doc, "facility.beds", OpMatchesRegex, `\d+`, nil)
	if err != nil {
		t.Fatalf("matches_regex on number error: %v", err)
	}
	if got {
		t.Error("matches_regex on a non-string value should be false")
	}

	// A broken pattern is a malformed condition.
	if _, err := applyOn(t, doc, "facility.code", OpMatchesRegex, `(`, nil); err == nil {
		t.Error("matches_regex with invalid pattern should error")
	}
}

func TestArrayContainsAndAlias(t *testing.T) {
	doc := sampleDoc()
	match := map[string]any{"normalized_intent": "ASHA_COMMUNICATION_FAILURE"}

	for _, op := range []Operator{OpArrayContains, OpArrayAnyMatch} {
		got, err := applyOn(t, doc, "attendance_barriers", op, match, nil)
		if err != nil {
			t.Fatalf("%s error: %v", op, err)
		}
		if !got {
			t.Errorf("%s should find a matching element", op)
		}

		got, err = applyOn(t, doc, "attendance_barriers", op, map[string]any{"normalized_intent": "NO_SUCH"}, nil)
		if err != nil {
			t.Fatalf("%s error: %v", op, err)
		}
		if got {
			t.Errorf("%s should not match", op)
		}
	}
}

func TestArrayContainsMatchesAllKeys(t *testing.T) {
	doc := sampleDoc()

	// Both keys must match the same element.
	got, err := applyOn(t, doc, "attendance_barriers", OpArrayContains,
		map[string]any{"normalized_intent": "OTHER", "severity": "low"}, nil)
	if err != nil {
		t.Fatalf("array_contains error: %v", err)
	}
	if !got {
		t.Error("array_contains should match on all keys of one element")
	}

	got, err = applyOn(t, doc, "attendance_barriers", OpArrayContains,
		map[string]any{"normalized_intent": "OTHER", "severity": "high"}, nil)
	if err != nil {
		t.Fatalf("array_contains error: %v", err)
	}
	if got {
		t.Error("array_contains must not match keys spread across elements")
	}
}

func TestArrayCountWhere(t *testing.T) {
	doc := sampleDoc()
	condition := map[string]any{"normalized_intent": "ASHA_COMMUNICATION_FAILURE"}

	testCases := []struct {
		name       string
		comparator string
		threshold  any
		want       bool
	}{
		{"count 2 > 1", ">", 1.0, true},
		{"count 2 > 2", ">", 2.0, false},
		{"count 2 >= 2", ">=", 2.0, true},
		{"count 2 == 2", "==", 2, true},
		{"count 2 < 3", "<", 3.0, true},
		{"count 2 <= 1", "<=", 1.0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			extra := map[string]any{
				"condition":  condition,
				"threshold":  tc.threshold,
				"comparator": tc.comparator,
			}
			got, err := applyOn(t, doc, "attendance_barriers", OpArrayCountWhere, nil, extra)
			if err != nil {
				t.Fatalf("array_count_where error: %v", err)
			}
			if got != tc.want {
				t.Errorf("array_count_where %s %v = %v, want %v", tc.comparator, tc.threshold, got, tc.want)
			}
		})
	}
}

func TestArrayCountWhereUnknownComparator(t *testing.T) {
	doc := sampleDoc()
	extra := map[string]any{
		"condition":  map[string]any{"normalized_intent": "OTHER"},
		"threshold":  1.0,
		"comparator": "!=",
	}

	got, err := applyOn(t, doc, "attendance_barriers", OpArrayCountWhere, nil, extra)
	if err != nil {
		t.Fatalf("array_count_where error: %v", err)
	}
	if got {
		t.Error("array_count_where with unknown comparator should be false")
	}
}

func TestArrayCountWhereMissingExtras(t *testing.T) {
	doc := sampleDoc()

	if _, err := applyOn(t, doc, "attendance_barriers", OpArrayCountWhere, nil, map[string]any{"threshold": 1.0, "comparator": ">"}); err == nil {
		t.Error("array_count_where without condition should error")
	}
	if _, err := applyOn(t, doc, "attendance_barriers", OpArrayCountWhere, nil, map[string]any{"condition": map[string]any{}, "comparator": ">"}); err == nil {
		t.Error("array_count_where without threshold should error")
	}
}

func TestArrayCountWhereAbsentFieldCountsZero(t *testing.T) {
	doc := Document{}
	extra := map[string]any{
		"condition":  map[string]any{"k": "v"},
		"threshold":  0.0,
		"comparator": "==",
	}

	got, err := applyOn(t, doc, "no.such.list", OpArrayCountWhere, nil, extra)
	if err != nil {
		t.Fatalf("array_count_where error: %v", err)
	}
	if !got {
		t.Error("array_count_where on an absent field should compare a zero count")
	}
}

func TestUnknownOperatorErrors(t *testing.T) {
	if _, err := applyOperator("between", 1.0, true, 2.0, nil); err == nil {
		t.Error("unknown operator should error")
	}
	if KnownOperator("between") {
		t.Error("KnownOperator should reject unknown names")
	}
	if !KnownOperator(OpArrayCountWhere) {
		t.Error("KnownOperator should accept array_count_where")
	}
}
