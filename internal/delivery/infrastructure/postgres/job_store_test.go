package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	delivery "plantwatch/internal/delivery/domain"
)

func TestJobStore_EnqueueDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notification_jobs (.+) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("sunset_report:2026-03-01", "sunset_report", sqlmock.AnyArg(), sqlmock.AnyArg(), "2026-03-01").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := NewJobStore(db).Enqueue(context.Background(), delivery.Job{
		ID:   "sunset_report:2026-03-01",
		Kind: delivery.KindSunsetReport,
		Day:  "2026-03-01",
		Payload: delivery.Payload{
			Subject:  "Daily Generation Report",
			Message:  "ok",
			Channels: delivery.Channels{Email: true},
		},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkSendingIsCompareAndSwap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE notification_jobs SET status = 'sending', last_attempt = \$2 WHERE id = \$1 AND status IN \('pending', 'failed'\)`).
		WithArgs("job-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notification_jobs SET status = 'sending'`).
		WithArgs("job-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewJobStore(db)
	claimed, err := store.MarkSending(context.Background(), "job-1", at)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.MarkSending(context.Background(), "job-1", at)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkSentDeletesAndLogsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 18, 45, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM notification_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO delivery_log`).
		WithArgs("2026-03-01", "alarm", "job-1", "[CRITICAL] Alert: Battery low", "sent", 1, "", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = NewJobStore(db).MarkSent(context.Background(), "job-1", delivery.LogEntry{
		Day:         "2026-03-01",
		Kind:        delivery.KindAlarm,
		JobID:       "job-1",
		Subject:     "[CRITICAL] Alert: Battery low",
		Status:      delivery.LogSent,
		RetryCount:  1,
		LastAttempt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkSentMissingJobIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM notification_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = NewJobStore(db).MarkSent(context.Background(), "job-1", delivery.LogEntry{
		Day: "2026-03-01", Kind: delivery.KindAlarm, Status: delivery.LogSent,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_ListDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(2 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "kind", "payload", "status", "retry_count", "last_attempt", "created_at", "day"}).
		AddRow("sunset_report:2026-03-01", "sunset_report", []byte(`{"subject":"s","message":"m","channels":{"email":true,"sms":false}}`), "failed", 3, created, created, "2026-03-01").
		AddRow("job-2", "manual", []byte(`{"subject":"s2","message":"m2","channels":{"email":false,"sms":true}}`), "pending", 0, nil, created, "")
	mock.ExpectQuery(`SELECT (.+) FROM notification_jobs WHERE status = 'pending' ` +
		`OR \(status = 'failed' AND retry_count < \$1 AND \(last_attempt IS NULL OR last_attempt < \$2\)\) ` +
		`OR \(status = 'failed' AND retry_count >= \$1 AND \(last_attempt IS NULL OR last_attempt < \$3\)\) ` +
		`ORDER BY created_at ASC, id ASC LIMIT \$4`).
		WithArgs(3, now.Add(-time.Minute), now.Add(-time.Hour), 50).
		WillReturnRows(rows)

	jobs, err := NewJobStore(db).ListDue(context.Background(), delivery.DefaultRetryPolicy().DueAt(now), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, delivery.StatusFailed, jobs[0].Status)
	assert.Equal(t, 3, jobs[0].RetryCount)
	assert.Equal(t, "2026-03-01", jobs[0].Day)
	assert.True(t, jobs[0].Payload.Channels.Email)
	assert.True(t, jobs[1].LastAttempt.IsZero())
	assert.Empty(t, jobs[1].Day)
	assert.True(t, jobs[1].Payload.Channels.SMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_DailyStatusPrefersSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 18, 45, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM delivery_log WHERE day = \$1 AND kind = \$2 ORDER BY \(status = 'sent'\) DESC`).
		WithArgs("2026-03-01", "sunset_report").
		WillReturnRows(sqlmock.NewRows([]string{"id", "day", "kind", "job_id", "subject", "status", "retry_count", "error", "last_attempt"}).
			AddRow(int64(7), "2026-03-01", "sunset_report", "sunset_report:2026-03-01", "Daily Generation Report", "sent", 0, nil, at))

	entry, err := NewLogStore(db).DailyStatus(context.Background(), "2026-03-01", delivery.KindSunsetReport)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, delivery.LogSent, entry.Status)
	assert.Equal(t, int64(7), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_ListBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM delivery_log WHERE day >= \$1 AND day <= \$2 AND status = \$3 ORDER BY last_attempt DESC, id DESC LIMIT \$4`).
		WithArgs("2026-03-01", "2026-03-07", "failed", 500).
		WillReturnRows(sqlmock.NewRows([]string{"id", "day", "kind", "job_id", "subject", "status", "retry_count", "error", "last_attempt"}))

	entries, err := NewLogStore(db).List(context.Background(), delivery.LogFilter{
		From: "2026-03-01", To: "2026-03-07", Status: delivery.LogFailed,
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
