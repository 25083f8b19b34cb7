package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// FindingStore persists findings for the audit trail. The engine itself
// never stores anything; the HTTP service calls SaveBatch after an
// evaluation when the caller supplied a report ID to attach findings to.
type FindingStore interface {
	SaveBatch(reportID string, findings []*Finding) error
}

// PostgresFindingStore implements FindingStore for one tenant.
type PostgresFindingStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresFindingStore creates a PostgreSQL-backed FindingStore.
func NewPostgresFindingStore(db *sql.DB, tenantID string) *PostgresFindingStore {
	return &PostgresFindingStore{
		db:       db,
		tenantID: tenantID,
	}
}

// SaveBatch inserts all findings of one evaluation in a single
// transaction, so the stored audit trail is all-or-nothing per report.
func (s *PostgresFindingStore) SaveBatch(reportID string, findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO findings (tenant_id, report_id, rule_id, rule_version, rule_name, category, severity, flag, message, remediation, evidence, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, finding := range findings {
		evidenceJSON, err := json.Marshal(finding.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence for rule %s: %w", finding.RuleID, err)
		}
		_, err = stmt.Exec(s.tenantID, reportID, finding.RuleID, finding.RuleVersion,
			finding.RuleName, finding.Category, string(finding.Severity),
			finding.FlagCode, finding.Message, finding.Remediation,
			evidenceJSON, finding.EvaluatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert finding for rule %s: %w", finding.RuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	return nil
}

// ListByReport returns the stored findings for one report in insertion
// order.
func (s *PostgresFindingStore) ListByReport(reportID string) ([]*Finding, error) {
	rows, err := s.db.Query(`
		SELECT rule_id, rule_version, rule_name, category, severity, flag, message, remediation, evidence, evaluated_at
		FROM findings
		WHERE tenant_id = $1 AND report_id = $2
		ORDER BY id ASC
	`, s.tenantID, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var out []*Finding
	for rows.Next() {
		var (
			finding      Finding
			severity     string
			evidenceJSON []byte
		)
		err := rows.Scan(&finding.RuleID, &finding.RuleVersion, &finding.RuleName,
			&finding.Category, &severity, &finding.FlagCode, &finding.Message,
			&finding.Remediation, &evidenceJSON, &finding.EvaluatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		finding.Severity = Severity(severity)
		if err := json.Unmarshal(evidenceJSON, &finding.Evidence); err != nil {
			return nil, fmt.Errorf("stored evidence for rule %s: %w", finding.RuleID, err)
		}
		out = append(out, &finding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return out, nil
}
