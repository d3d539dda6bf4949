package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statsColumns = []string{"day", "kind", "sent", "failed", "pending", "max_retry", "last_attempt"}

func TestDeliveryStatsHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	last := time.Date(2026, 6, 1, 18, 43, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM delivery_log")).
		WithArgs("2026-06-01", "2026-06-02", "").
		WillReturnRows(sqlmock.NewRows(statsColumns).
			AddRow("2026-06-01", "alarm", 4, 1, 0, 3, last).
			AddRow("2026-06-01", "sunset_report", 1, 0, 1, 0, last))

	rec := httptest.NewRecorder()
	NewDeliveryStatsHandler(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats/delivery?from=2026-06-01&to=2026-06-02", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []deliveryStatRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[0].Sent)
	assert.Equal(t, 3, rows[0].MaxRetryCount)
	assert.Equal(t, "sunset_report", rows[1].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryStatsValidation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	h := NewDeliveryStatsHandler(db)

	for _, target := range []string{
		"/api/v1/stats/delivery",
		"/api/v1/stats/delivery?from=06/01/2026",
		"/api/v1/stats/delivery?from=2026-06-02&to=2026-06-01",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestExportDeliveryStatsCSV(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM delivery_log")).
		WithArgs("2026-06-01", "2026-06-01", "alarm").
		WillReturnRows(sqlmock.NewRows(statsColumns).
			AddRow("2026-06-01", "alarm", 2, 0, 0, 1, time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)))

	rec := httptest.NewRecorder()
	NewExportDeliveryStatsCSVHandler(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/delivery_stats.csv?from=2026-06-01&kind=alarm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "day,kind,sent,failed,pending,max_retry_count,last_attempt", lines[0])
	assert.Equal(t, "2026-06-01,alarm,2,0,0,1,2026-06-01T09:00:00Z", lines[1])
}

func TestAlarmSummaryHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	oldest := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM active_alarms")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "acked", "min"}).AddRow(3, 1, oldest))

	rec := httptest.NewRecorder()
	NewAlarmSummaryHandler(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats/alarms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary alarmSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Unacknowledged)
	require.NotNil(t, summary.OldestTriggered)
	assert.True(t, summary.OldestTriggered.Equal(oldest))
}
