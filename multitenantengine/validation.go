package multitenantengine

import (
	"fmt"
	"regexp"

	"github.com/ghda-saas/ruleengine/rules"
)

const (
	// maxRulesPerTenant bounds ruleset size; the standard survey rulesets
	// are tens of rules, so the limit exists to catch runaway generators,
	// not to be approached.
	maxRulesPerTenant = 500

	maxRuleIDLength = 100

	// maxConditionDepth bounds combinator nesting, which also bounds
	// evaluator recursion.
	maxConditionDepth = 32
)

var validRuleID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateRules validates a whole ruleset before an engine is built from
// it: per-rule checks plus ruleset-level uniqueness and size limits.
// Rules that are merely inactive are still validated; they are one edit
// away from evaluating.
func ValidateRules(ruleSet []*rules.Rule) error {
	if len(ruleSet) > maxRulesPerTenant {
		return fmt.Errorf("ruleset contains %d rules, maximum allowed is %d", len(ruleSet), maxRulesPerTenant)
	}

	seen := make(map[string]bool, len(ruleSet))
	for _, rule := range ruleSet {
		if err := ValidateRule(rule); err != nil {
			return err
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule ID %q", rule.ID)
		}
		seen[rule.ID] = true
	}
	return nil
}

// ValidateRule checks a single rule definition: identifier shape,
// severity vocabulary, condition well-formedness, evidence paths. The
// engine itself tolerates malformed conditions at evaluation time
// (per-rule isolation), but rejecting them at load time gives rule
// authors the error at the point they can fix it.
func ValidateRule(rule *rules.Rule) error {
	if rule == nil {
		return fmt.Errorf("nil rule")
	}

	if rule.ID == "" {
		return fmt.Errorf("rule has empty ID")
	}
	if len(rule.ID) > maxRuleIDLength {
		return fmt.Errorf("rule ID %q exceeds maximum length of %d", rule.ID, maxRuleIDLength)
	}
	if !validRuleID.MatchString(rule.ID) {
		return fmt.Errorf("rule ID %q must match pattern %s", rule.ID, validRuleID.String())
	}

	if !rule.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q (must be one of: low, medium, high, critical)", rule.ID, rule.Severity)
	}

	if rule.FlagCode == "" {
		return fmt.Errorf("rule %s: empty flag code", rule.ID)
	}

	if rule.Condition == nil {
		return fmt.Errorf("rule %s: missing condition", rule.ID)
	}
	if err := validateCondition(rule.Condition, 0); err != nil {
		return fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	for i, path := range rule.EvidenceFields {
		if path == "" {
			return fmt.Errorf("rule %s: evidence field %d is empty", rule.ID, i)
		}
	}
	return nil
}

func validateCondition(c rules.Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("condition nesting exceeds maximum depth of %d", maxConditionDepth)
	}

	switch node := c.(type) {
	case *rules.And:
		for _, child := range node.Children {
			if err := validateCondition(child, depth+1); err != nil {
				return err
			}
		}
		return nil

	case *rules.Or:
		for _, child := range node.Children {
			if err := validateCondition(child, depth+1); err != nil {
				return err
			}
		}
		return nil

	case *rules.Not:
		if node.Child == nil {
			return fmt.Errorf("not combinator has no child")
		}
		return validateCondition(node.Child, depth+1)

	case *rules.Leaf:
		return validateLeaf(node)

	case nil:
		return fmt.Errorf("nil condition node")
	}

	return fmt.Errorf("unsupported condition node %T", c)
}

func validateLeaf(leaf *rules.Leaf) error {
	if leaf.Field == "" {
		return fmt.Errorf("leaf condition has empty field path")
	}
	if !rules.KnownOperator(leaf.Operator) {
		return fmt.Errorf("unknown operator %q", leaf.Operator)
	}

	switch leaf.Operator {
	case rules.OpMatchesRegex:
		pattern, ok := leaf.Value.(string)
		if !ok {
			return fmt.Errorf("matches_regex value must be a string pattern, got %T", leaf.Value)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}

	case rules.OpArrayContains, rules.OpArrayAnyMatch:
		if _, ok := leaf.Value.(map[string]any); !ok {
			return fmt.Errorf("%s value must be an object, got %T", leaf.Operator, leaf.Value)
		}

	case rules.OpArrayCountWhere:
		if _, ok := leaf.Extra["condition"].(map[string]any); !ok {
			return fmt.Errorf("array_count_where requires an object %q extra", "condition")
		}
		if _, ok := leaf.Extra["threshold"]; !ok {
			return fmt.Errorf("array_count_where requires a %q extra", "threshold")
		}
		comparator, ok := leaf.Extra["comparator"].(string)
		if !ok {
			return fmt.Errorf("array_count_where requires a string %q extra", "comparator")
		}
		switch comparator {
		case ">", ">=", "<", "<=", "==":
		default:
			return fmt.Errorf("array_count_where comparator %q must be one of >, >=, <, <=, ==", comparator)
		}
	}
	return nil
}
