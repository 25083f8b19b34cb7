package main

import (
	"encoding/json"
	"time"
)

// API request and response models.

// CreateTenantRequest is the body for creating a tenant.
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// TenantResponse describes a tenant in API responses.
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateRuleRequest is the body for creating a rule. Condition carries
// the standard condition JSON shape; RuleID is optional and generated
// when empty.
type CreateRuleRequest struct {
	RuleID         string          `json:"rule_id,omitempty"`
	Version        string          `json:"version,omitempty"`
	Name           string          `json:"name"`
	Category       string          `json:"category,omitempty"`
	Severity       string          `json:"severity"`
	Condition      json.RawMessage `json:"condition"`
	Flag           string          `json:"flag"`
	Message        string          `json:"message"`
	Remediation    string          `json:"remediation,omitempty"`
	EvidenceFields []string        `json:"evidence_fields,omitempty"`
	Active         bool            `json:"active"`
}

// UpdateRuleRequest is the body for updating a rule. Nil fields keep the
// stored value.
type UpdateRuleRequest struct {
	Version        *string         `json:"version,omitempty"`
	Name           *string         `json:"name,omitempty"`
	Category       *string         `json:"category,omitempty"`
	Severity       *string         `json:"severity,omitempty"`
	Condition      json.RawMessage `json:"condition,omitempty"`
	Flag           *string         `json:"flag,omitempty"`
	Message        *string         `json:"message,omitempty"`
	Remediation    *string         `json:"remediation,omitempty"`
	EvidenceFields []string        `json:"evidence_fields,omitempty"`
	Active         *bool           `json:"active,omitempty"`
}

// EvaluateRequest is the body for evaluating a report document against a
// tenant's ruleset. Rules restricts evaluation to the named rule IDs;
// ReportID, when set, persists the findings for the audit trail.
type EvaluateRequest struct {
	TenantID string         `json:"tenantId"`
	Report   map[string]any `json:"report"`
	Rules    []string       `json:"rules,omitempty"`
	ReportID string         `json:"reportId,omitempty"`
}
