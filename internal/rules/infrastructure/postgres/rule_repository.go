package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

const defaultRulesTable = "notification_rules"

// RuleRepository is a Postgres repository for notification rules.
type RuleRepository struct {
	db    *sql.DB
	table string
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db, table: defaultRulesTable}
}

const ruleColumns = `id, name, data_point_id, condition, threshold, severity, enabled,
	send_email, send_sms, message, created_at, updated_at`

// ListEnabled returns enabled rules ordered by creation time.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	return r.query(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE enabled = TRUE
ORDER BY created_at ASC, id ASC`, ruleColumns, r.table))
}

// List returns every rule.
func (r *RuleRepository) List(ctx context.Context) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	return r.query(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY created_at ASC, id ASC`, ruleColumns, r.table))
}

// Get loads a rule by id. Missing rules return nil, nil.
func (r *RuleRepository) Get(ctx context.Context, id string) (*rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if id == "" {
		return nil, errors.New("rule repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, ruleColumns, r.table), id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// Upsert inserts or replaces a rule. CreatedAt is kept on update.
func (r *RuleRepository) Upsert(ctx context.Context, rule rules.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	threshold, err := json.Marshal(rule.Threshold)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, name, data_point_id, condition, threshold, severity, enabled,
	send_email, send_sms, message, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	data_point_id = EXCLUDED.data_point_id,
	condition = EXCLUDED.condition,
	threshold = EXCLUDED.threshold,
	severity = EXCLUDED.severity,
	enabled = EXCLUDED.enabled,
	send_email = EXCLUDED.send_email,
	send_sms = EXCLUDED.send_sms,
	message = EXCLUDED.message,
	updated_at = EXCLUDED.updated_at`, r.table),
		rule.ID, rule.Name, rule.DataPointID, string(rule.Condition), threshold, rule.Severity.String(), rule.Enabled,
		rule.SendEmail, rule.SendSMS, rule.Message, rule.CreatedAt.UTC(), rule.UpdatedAt.UTC())
	return err
}

// Delete removes a rule. Alarms keep their own snapshot of it.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return rules.ErrNotFound
	}
	return nil
}

func (r *RuleRepository) query(ctx context.Context, query string, args ...any) ([]rules.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*rules.Rule, error) {
	var (
		rule      rules.Rule
		condition string
		threshold []byte
		severity  string
		message   sql.NullString
	)
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.DataPointID,
		&condition,
		&threshold,
		&severity,
		&rule.Enabled,
		&rule.SendEmail,
		&rule.SendSMS,
		&message,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Condition = rules.Condition(condition)
	if len(threshold) > 0 {
		var value telemetry.Value
		if err := json.Unmarshal(threshold, &value); err != nil {
			return nil, fmt.Errorf("rule repo: decode threshold of %s: %w", rule.ID, err)
		}
		rule.Threshold = value
	}
	parsed, err := rules.ParseSeverity(severity)
	if err != nil {
		return nil, err
	}
	rule.Severity = parsed
	if message.Valid {
		rule.Message = message.String
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}
