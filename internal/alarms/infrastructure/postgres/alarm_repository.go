package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

const defaultAlarmsTable = "active_alarms"

// AlarmRepository is a Postgres repository for active alarms.
type AlarmRepository struct {
	db    *sql.DB
	table string
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db, table: defaultAlarmsTable}
}

const alarmColumns = `id, rule_id, triggered_at, last_notified_at, acknowledged, acknowledged_at,
	acknowledged_by, current_value, rule_snapshot, updated_at`

// GetByRule returns the active alarm for a rule, or nil.
func (r *AlarmRepository) GetByRule(ctx context.Context, ruleID string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE rule_id = $1`, alarmColumns, r.table), ruleID)
	return scanOptional(row)
}

// Get returns an alarm by id, or nil.
func (r *AlarmRepository) Get(ctx context.Context, id string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, alarmColumns, r.table), id)
	return scanOptional(row)
}

// Upsert inserts the alarm or refreshes the row already held by its rule.
func (r *AlarmRepository) Upsert(ctx context.Context, alarm alarms.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if alarm.ID == "" || alarm.RuleID == "" {
		return errors.New("alarm repo: missing fields")
	}
	value, err := json.Marshal(alarm.CurrentValue)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(alarm.Rule)
	if err != nil {
		return err
	}
	if alarm.UpdatedAt.IsZero() {
		alarm.UpdatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, rule_id, triggered_at, last_notified_at, acknowledged, acknowledged_at,
	acknowledged_by, current_value, rule_snapshot, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10
)
ON CONFLICT (rule_id) DO UPDATE SET
	last_notified_at = EXCLUDED.last_notified_at,
	current_value = EXCLUDED.current_value,
	updated_at = EXCLUDED.updated_at`, r.table),
		alarm.ID,
		alarm.RuleID,
		alarm.TriggeredAt.UTC(),
		nullableTime(alarm.LastNotifiedAt),
		alarm.Acknowledged,
		nullableTime(alarm.AcknowledgedAt),
		alarm.AcknowledgedBy,
		value,
		snapshot,
		alarm.UpdatedAt.UTC(),
	)
	return err
}

// ClearByRule deletes the alarm held by a rule. Missing rows are not an error.
func (r *AlarmRepository) ClearByRule(ctx context.Context, ruleID string) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rule_id = $1`, r.table), ruleID)
	return err
}

// Delete removes an alarm by id.
func (r *AlarmRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
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
		return alarms.ErrNotFound
	}
	return nil
}

// Acknowledge marks an unacknowledged alarm as acknowledged.
func (r *AlarmRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
UPDATE %s
SET acknowledged = TRUE, acknowledged_at = $2, acknowledged_by = $3
WHERE id = $1 AND acknowledged = FALSE
RETURNING %s`, r.table, alarmColumns), id, at.UTC(), by)
	alarm, err := scanOptional(row)
	if err != nil {
		return nil, err
	}
	if alarm != nil {
		return alarm, nil
	}
	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, alarms.ErrNotFound
	}
	return existing, alarms.ErrAlreadyAcknowledged
}

// ListActive returns all active alarms, newest first.
func (r *AlarmRepository) ListActive(ctx context.Context) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY triggered_at DESC, id ASC`, alarmColumns, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alarmScanner interface {
	Scan(dest ...any) error
}

func scanOptional(row alarmScanner) (*alarms.Alarm, error) {
	alarm, err := scanAlarm(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alarm, nil
}

func scanAlarm(row alarmScanner) (*alarms.Alarm, error) {
	var (
		alarm          alarms.Alarm
		lastNotifiedAt sql.NullTime
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
		value          []byte
		snapshot       []byte
	)
	if err := row.Scan(
		&alarm.ID,
		&alarm.RuleID,
		&alarm.TriggeredAt,
		&lastNotifiedAt,
		&alarm.Acknowledged,
		&acknowledgedAt,
		&acknowledgedBy,
		&value,
		&snapshot,
		&alarm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	alarm.TriggeredAt = alarm.TriggeredAt.UTC()
	alarm.UpdatedAt = alarm.UpdatedAt.UTC()
	if lastNotifiedAt.Valid {
		alarm.LastNotifiedAt = lastNotifiedAt.Time.UTC()
	}
	if acknowledgedAt.Valid {
		alarm.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if acknowledgedBy.Valid {
		alarm.AcknowledgedBy = acknowledgedBy.String
	}
	if len(value) > 0 {
		var v telemetry.Value
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("alarm repo: decode value of %s: %w", alarm.ID, err)
		}
		alarm.CurrentValue = v
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &alarm.Rule); err != nil {
			return nil, fmt.Errorf("alarm repo: decode rule snapshot of %s: %w", alarm.ID, err)
		}
	}
	return &alarm, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
