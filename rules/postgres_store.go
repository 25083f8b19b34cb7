package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL, scoped to
// a single tenant. Conditions and evidence field lists are stored as
// JSONB in the documented wire shape.
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore for one tenant.
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

const ruleColumns = `id, version, name, category, severity, condition, flag_code, message, remediation, evidence_fields, active, created_at, updated_at`

// Add inserts a new rule.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND tenant_id = $2)
	`, rule.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	conditionJSON, evidenceJSON, err := encodeRuleColumns(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, tenant_id, version, name, category, severity, condition, flag_code, message, remediation, evidence_fields, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rule.ID, s.tenantID, rule.Version, rule.Name, rule.Category, string(rule.Severity),
		conditionJSON, rule.FlagCode, rule.Message, rule.Remediation, evidenceJSON,
		rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all of the tenant's rules in creation order.
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.list(`
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`)
}

// ListActive returns the tenant's active rules in creation order.
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.list(`
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE tenant_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresRuleStore) list(query string) ([]*Rule, error) {
	rows, err := s.db.Query(query, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	conditionJSON, evidenceJSON, err := encodeRuleColumns(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET version = $1, name = $2, category = $3, severity = $4, condition = $5,
		    flag_code = $6, message = $7, remediation = $8, evidence_fields = $9,
		    active = $10, updated_at = $11
		WHERE id = $12 AND tenant_id = $13
	`, rule.Version, rule.Name, rule.Category, string(rule.Severity), conditionJSON,
		rule.FlagCode, rule.Message, rule.Remediation, evidenceJSON,
		rule.Active, rule.UpdatedAt, rule.ID, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	return nil
}

// Delete removes a rule.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

func encodeRuleColumns(rule *Rule) (conditionJSON, evidenceJSON []byte, err error) {
	if rule.Condition == nil {
		return nil, nil, fmt.Errorf("rule %s has no condition", rule.ID)
	}
	conditionJSON, err = json.Marshal(rule.Condition)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode condition for rule %s: %w", rule.ID, err)
	}

	evidence := rule.EvidenceFields
	if evidence == nil {
		evidence = []string{}
	}
	evidenceJSON, err = json.Marshal(evidence)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode evidence fields for rule %s: %w", rule.ID, err)
	}
	return conditionJSON, evidenceJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule          Rule
		severity      string
		conditionJSON []byte
		evidenceJSON  []byte
	)
	err := row.Scan(
		&rule.ID,
		&rule.Version,
		&rule.Name,
		&rule.Category,
		&severity,
		&conditionJSON,
		&rule.FlagCode,
		&rule.Message,
		&rule.Remediation,
		&evidenceJSON,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Severity = Severity(severity)

	rule.Condition, err = DecodeCondition(conditionJSON)
	if err != nil {
		return nil, fmt.Errorf("stored condition for rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal(evidenceJSON, &rule.EvidenceFields); err != nil {
		return nil, fmt.Errorf("stored evidence fields for rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}
