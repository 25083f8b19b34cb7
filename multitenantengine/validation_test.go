package multitenantengine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ghda-saas/ruleengine/rules"
)

func validRule(id string) *rules.Rule {
	return &rules.Rule{
		ID:       id,
		Severity: rules.SeverityHigh,
		Condition: &rules.Leaf{
			Field:    "beneficiaries.attendance_rate",
			Operator: rules.OpLt,
			Value:    0.5,
		},
		FlagCode: "LOW_ATTENDANCE",
		Active:   true,
	}
}

func TestValidateRuleAccepts(t *testing.T) {
	if err := ValidateRule(validRule("ATT-001")); err != nil {
		t.Errorf("ValidateRule() = %v, want nil", err)
	}
}

func TestValidateRuleRejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*rules.Rule)
	}{
		{"empty ID", func(r *rules.Rule) { r.ID = "" }},
		{"ID with spaces", func(r *rules.Rule) { r.ID = "bad id" }},
		{"ID starting with dot", func(r *rules.Rule) { r.ID = ".hidden" }},
		{"overlong ID", func(r *rules.Rule) { r.ID = strings.Repeat("a", 101) }},
		{"invalid severity", func(r *rules.Rule) { r.Severity = "urgent" }},
		{"empty flag code", func(r *rules.Rule) { r.FlagCode = "" }},
		{"missing condition", func(r *rules.Rule) { r.Condition = nil }},
		{"unknown operator", func(r *rules.Rule) {
			r.Condition = &rules.Leaf{Field: "x", Operator: "between", Value: 1}
		}},
		{"empty leaf field", func(r *rules.Rule) {
			r.Condition = &rules.Leaf{Field: "", Operator: rules.OpEq, Value: 1}
		}},
		{"empty evidence path", func(r *rules.Rule) { r.EvidenceFields = []string{"a", ""} }},
		{"bad regex", func(r *rules.Rule) {
			r.Condition = &rules.Leaf{Field: "x", Operator: rules.OpMatchesRegex, Value: "("}
		}},
		{"non-string regex", func(r *rules.Rule) {
			r.Condition = &rules.Leaf{Field: "x", Operator: rules.OpMatchesRegex, Value: 3}
		}},
		{"array_contains non-object", func(r *rules.Rule) {
			r.Condition = &rules.Leaf{Field: "x", Operator: rules.OpArrayContains, Value: "y"}
		}},
		{"not without child", func(r *rules.Rule) { r.Condition = &rules.Not{} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule := validRule("ATT-001")
			tc.mutate(rule)
			if err := ValidateRule(rule); err == nil {
				t.Error("ValidateRule() should reject")
			}
		})
	}
}

func TestValidateArrayCountWhereExtras(t *testing.T) {
	leaf := func(extra map[string]any) *rules.Rule {
		rule := validRule("MOB-001")
		rule.Condition = &rules.Leaf{
			Field:    "attendance_barriers",
			Operator: rules.OpArrayCountWhere,
			Extra:    extra,
		}
		return rule
	}

	good := map[string]any{
		"condition":  map[string]any{"k": "v"},
		"threshold":  1.0,
		"comparator": ">",
	}
	if err := ValidateRule(leaf(good)); err != nil {
		t.Errorf("valid array_count_where rejected: %v", err)
	}

	bad := []map[string]any{
		{"threshold": 1.0, "comparator": ">"},
		{"condition": map[string]any{}, "comparator": ">"},
		{"condition": map[string]any{}, "threshold": 1.0},
		{"condition": "not an object", "threshold": 1.0, "comparator": ">"},
		{"condition": map[string]any{}, "threshold": 1.0, "comparator": "!="},
	}
	for i, extra := range bad {
		if err := ValidateRule(leaf(extra)); err == nil {
			t.Errorf("case %d: malformed array_count_where accepted", i)
		}
	}
}

func TestValidateConditionDepthLimit(t *testing.T) {
	var condition rules.Condition = &rules.Leaf{Field: "x", Operator: rules.OpIsNull}
	for i := 0; i < maxConditionDepth+1; i++ {
		condition = &rules.Not{Child: condition}
	}

	rule := validRule("DEEP-001")
	rule.Condition = condition
	if err := ValidateRule(rule); err == nil {
		t.Error("over-deep condition should be rejected")
	}
}

func TestValidateRulesDuplicatesAndSize(t *testing.T) {
	if err := ValidateRules([]*rules.Rule{validRule("A"), validRule("A")}); err == nil {
		t.Error("duplicate rule IDs should be rejected")
	}

	big := make([]*rules.Rule, maxRulesPerTenant+1)
	for i := range big {
		big[i] = validRule(fmt.Sprintf("R-%04d", i))
	}
	if err := ValidateRules(big); err == nil {
		t.Error("oversized ruleset should be rejected")
	}

	if err := ValidateRules(nil); err != nil {
		t.Errorf("empty ruleset should validate: %v", err)
	}
}

func TestValidateRulesChecksInactive(t *testing.T) {
	broken := validRule("OFF-001")
	broken.Active = false
	broken.Condition = &rules.Leaf{Field: "x", Operator: "between", Value: 1}

	if err := ValidateRules([]*rules.Rule{broken}); err == nil {
		t.Error("inactive rules are still validated")
	}
}
