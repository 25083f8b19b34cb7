package rules

import (
	"errors"
	"fmt"
	"time"
)

// Engine evaluates a fixed ruleset against survey report documents.
//
// An Engine is an immutable snapshot: NewEngine retains only the active
// rules, in input order, and nothing mutates them afterwards. Evaluation
// touches no shared mutable state, so one Engine may evaluate documents
// from any number of goroutines without synchronization. Ruleset changes
// are handled by building a new Engine and swapping the reference
// (multitenantengine does exactly that).
type Engine struct {
	rules   []*Rule
	byID    map[string]*Rule
	derived []compiledDerived
}

// Option configures an Engine at construction.
type Option func(*Engine) error

// NewEngine builds an engine over the active rules of ruleSet, preserving
// input order. Order only affects the order findings are returned in;
// rules are independent of each other.
func NewEngine(ruleSet []*Rule, opts ...Option) (*Engine, error) {
	en := &Engine{
		byID: make(map[string]*Rule, len(ruleSet)),
	}
	for _, rule := range ruleSet {
		if !rule.Active {
			continue
		}
		en.rules = append(en.rules, rule)
		en.byID[rule.ID] = rule
	}

	for _, opt := range opts {
		if err := opt(en); err != nil {
			return nil, err
		}
	}
	return en, nil
}

// Rules returns the active rules in evaluation order.
func (en *Engine) Rules() []*Rule {
	out := make([]*Rule, len(en.rules))
	copy(out, en.rules)
	return out
}

// EvaluateAll evaluates every active rule against doc and returns one
// Finding per rule whose condition holds, in rule order.
//
// Failure isolation is per rule: a rule whose condition errors (unknown
// operator, bad regex, even a panic) is reported in the RuleError slice
// and evaluation continues with the next rule. EvaluateAll itself never
// fails; worst case it returns no findings and one error per rule.
func (en *Engine) EvaluateAll(doc Document) ([]*Finding, []*RuleError) {
	doc, errs := en.withDerived(doc)

	findings := make([]*Finding, 0, len(en.rules))
	for _, rule := range en.rules {
		matched, err := en.evaluateCondition(rule, doc)
		if err != nil {
			errs = append(errs, &RuleError{RuleID: rule.ID, Err: err})
			continue
		}
		if matched {
			findings = append(findings, en.buildFinding(rule, doc))
		}
	}
	return findings, errs
}

// EvaluateRule evaluates one rule by ID. It returns (nil, nil) when the
// condition simply does not hold, and a RuleError when the rule is
// missing or its condition fails, mirroring EvaluateAll's isolation.
func (en *Engine) EvaluateRule(ruleID string, doc Document) (*Finding, error) {
	rule, ok := en.byID[ruleID]
	if !ok {
		return nil, &RuleError{RuleID: ruleID, Err: ErrRuleNotFound}
	}

	doc, derivedErrs := en.withDerived(doc)
	_ = derivedErrs // a failed derived field leaves its path absent, which the operators already handle

	matched, err := en.evaluateCondition(rule, doc)
	if err != nil {
		return nil, &RuleError{RuleID: rule.ID, Err: err}
	}
	if !matched {
		return nil, nil
	}
	return en.buildFinding(rule, doc), nil
}

// evaluateCondition runs one rule's condition, converting panics into
// errors so a pathological condition tree cannot take down a batch.
func (en *Engine) evaluateCondition(rule *Rule, doc Document) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	if rule.Condition == nil {
		return false, errors.New("rule has no condition")
	}
	return Evaluate(rule.Condition, doc)
}

func (en *Engine) buildFinding(rule *Rule, doc Document) *Finding {
	evidence := make(map[string]any, len(rule.EvidenceFields))
	for _, path := range rule.EvidenceFields {
		value, ok := Lookup(doc, path)
		if !ok {
			// Absent evidence is recorded as null, not omitted; the audit
			// trail must show which values were missing.
			evidence[path] = nil
			continue
		}
		evidence[path] = value
	}

	return &Finding{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		RuleName:    rule.Name,
		Category:    rule.Category,
		Severity:    rule.Severity,
		FlagCode:    rule.FlagCode,
		Message:     rule.Message,
		Remediation: rule.Remediation,
		Evidence:    evidence,
		EvaluatedAt: time.Now().UTC(),
	}
}
