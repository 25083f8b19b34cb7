package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Severity ranks how serious a compliance finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the four defined levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rule categories in use across the shipped rulesets. The set is open:
// stores accept any category string, these are the ones the standard
// survey rulesets emit.
const (
	CategoryAttendance     = "attendance"
	CategoryInfrastructure = "infrastructure"
	CategoryMobilization   = "mobilization"
	CategoryDataQuality    = "data_quality"
	CategoryService        = "service_delivery"
)

// ErrRuleNotFound is returned when a rule ID does not exist in an engine
// or a store.
var ErrRuleNotFound = errors.New("rule not found")

// Rule is a named, versioned compliance check: one condition tree plus
// the flag to raise when it holds and the document paths to capture as
// evidence. Rules are immutable once loaded into an engine; changing a
// ruleset means building a new engine.
type Rule struct {
	ID             string
	Version        string
	Name           string
	Category       string
	Severity       Severity
	Condition      Condition
	FlagCode       string
	Message        string
	Remediation    string
	EvidenceFields []string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ruleJSON is the rule definition wire shape used by rule files and the
// rules table: condition as nested JSON, the flag/message pair grouped
// under "action".
type ruleJSON struct {
	RuleID         string          `json:"rule_id"`
	Version        string          `json:"version,omitempty"`
	Name           string          `json:"name,omitempty"`
	Category       string          `json:"category,omitempty"`
	Severity       Severity        `json:"severity,omitempty"`
	Condition      json.RawMessage `json:"condition"`
	Action         ruleActionJSON  `json:"action"`
	EvidenceFields []string        `json:"evidence_fields,omitempty"`
	Active         bool            `json:"active"`
}

type ruleActionJSON struct {
	Flag        string `json:"flag"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// UnmarshalJSON decodes the rule definition wire shape.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Condition) == 0 {
		return fmt.Errorf("rule %s: missing condition", raw.RuleID)
	}
	condition, err := DecodeCondition(raw.Condition)
	if err != nil {
		return fmt.Errorf("rule %s: %w", raw.RuleID, err)
	}

	r.ID = raw.RuleID
	r.Version = raw.Version
	r.Name = raw.Name
	r.Category = raw.Category
	r.Severity = raw.Severity
	r.Condition = condition
	r.FlagCode = raw.Action.Flag
	r.Message = raw.Action.Message
	r.Remediation = raw.Action.Remediation
	r.EvidenceFields = raw.EvidenceFields
	r.Active = raw.Active
	return nil
}

// MarshalJSON encodes the rule definition wire shape.
func (r *Rule) MarshalJSON() ([]byte, error) {
	condition, err := json.Marshal(r.Condition)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return json.Marshal(ruleJSON{
		RuleID:    r.ID,
		Version:   r.Version,
		Name:      r.Name,
		Category:  r.Category,
		Severity:  r.Severity,
		Condition: condition,
		Action: ruleActionJSON{
			Flag:        r.FlagCode,
			Message:     r.Message,
			Remediation: r.Remediation,
		},
		EvidenceFields: r.EvidenceFields,
		Active:         r.Active,
	})
}

// Finding is emitted once per (rule, document) pair whose condition
// holds. Evidence maps each configured evidence path to the document
// value at that path; absent paths contribute an explicit null entry so
// auditors can see that the value was missing, not dropped.
type Finding struct {
	RuleID      string         `json:"rule_id"`
	RuleVersion string         `json:"rule_version,omitempty"`
	RuleName    string         `json:"rule_name"`
	Category    string         `json:"category,omitempty"`
	Severity    Severity       `json:"severity"`
	FlagCode    string         `json:"flag"`
	Message     string         `json:"message"`
	Remediation string         `json:"remediation,omitempty"`
	Evidence    map[string]any `json:"evidence"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// RuleError records a single rule's evaluation failure. Failures are
// per-rule: one malformed rule never aborts the batch, it lands here
// while the rest of the ruleset keeps evaluating.
type RuleError struct {
	RuleID string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}
