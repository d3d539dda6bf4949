package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "plantwatch/internal/alarms/domain"
	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

var alarmRowColumns = []string{
	"id", "rule_id", "triggered_at", "last_notified_at", "acknowledged", "acknowledged_at",
	"acknowledged_by", "current_value", "rule_snapshot", "updated_at",
}

const snapshotJSON = `{"name":"Battery low","data_point_id":"battery_voltage","condition":"<","threshold":40,"severity":"critical","send_email":true,"send_sms":false}`

func TestAlarmRepository_GetByRule(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM active_alarms WHERE rule_id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(alarmRowColumns).
			AddRow("alarm-1", "r1", triggered, triggered, false, nil, nil, []byte(`39`), []byte(snapshotJSON), triggered))

	alarm, err := NewAlarmRepository(db).GetByRule(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, alarm)
	assert.Equal(t, "alarm-1", alarm.ID)
	assert.True(t, alarm.CurrentValue.Equal(telemetry.Number(39)))
	assert.Equal(t, rules.SeverityCritical, alarm.Rule.Severity)
	assert.True(t, alarm.Rule.Threshold.Equal(telemetry.Number(40)))
	assert.True(t, alarm.AcknowledgedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmRepository_UpsertLeavesAcknowledgmentAlone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO active_alarms (.+) ON CONFLICT \(rule_id\) DO UPDATE SET last_notified_at = EXCLUDED.last_notified_at, current_value = EXCLUDED.current_value, updated_at = EXCLUDED.updated_at$`).
		WithArgs("alarm-1", "r1", now, sqlmock.AnyArg(), false, sqlmock.AnyArg(), "", []byte(`38`), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewAlarmRepository(db).Upsert(context.Background(), alarms.Alarm{
		ID:             "alarm-1",
		RuleID:         "r1",
		TriggeredAt:    now,
		LastNotifiedAt: now,
		CurrentValue:   telemetry.Number(38),
		UpdatedAt:      now,
		Rule:           alarms.RuleSnapshot{Name: "Battery low", Severity: rules.SeverityCritical},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmRepository_AcknowledgeTwice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE active_alarms SET acknowledged = TRUE (.+) WHERE id = \$1 AND acknowledged = FALSE RETURNING`).
		WithArgs("alarm-1", now, "user-1").
		WillReturnRows(sqlmock.NewRows(alarmRowColumns))
	mock.ExpectQuery(`SELECT (.+) FROM active_alarms WHERE id = \$1`).
		WithArgs("alarm-1").
		WillReturnRows(sqlmock.NewRows(alarmRowColumns).
			AddRow("alarm-1", "r1", now, now, true, now, "user-1", []byte(`39`), []byte(snapshotJSON), now))

	alarm, err := NewAlarmRepository(db).Acknowledge(context.Background(), "alarm-1", "user-1", now)
	assert.ErrorIs(t, err, alarms.ErrAlreadyAcknowledged)
	require.NotNil(t, alarm)
	assert.Equal(t, "user-1", alarm.AcknowledgedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmRepository_AcknowledgeMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE active_alarms`).
		WithArgs("gone", now, "user-1").
		WillReturnRows(sqlmock.NewRows(alarmRowColumns))
	mock.ExpectQuery(`SELECT (.+) FROM active_alarms WHERE id = \$1`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(alarmRowColumns))

	alarm, err := NewAlarmRepository(db).Acknowledge(context.Background(), "gone", "user-1", now)
	assert.ErrorIs(t, err, alarms.ErrNotFound)
	assert.Nil(t, alarm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmRepository_ClearByRuleIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM active_alarms WHERE rule_id = \$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewAlarmRepository(db).ClearByRule(context.Background(), "r1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
