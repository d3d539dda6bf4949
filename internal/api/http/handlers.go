package apihttp

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const (
	dayLayout  = "2006-01-02"
	timeLayout = time.RFC3339
)

// DeliveryStatsHandler serves per-day delivery outcome counts.
type DeliveryStatsHandler struct {
	db *sql.DB
}

// NewDeliveryStatsHandler constructs a DeliveryStatsHandler.
func NewDeliveryStatsHandler(db *sql.DB) *DeliveryStatsHandler {
	return &DeliveryStatsHandler{db: db}
}

// ServeHTTP handles GET /api/v1/stats/delivery.
func (h *DeliveryStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	from, to, err := parseDayRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := queryDeliveryStats(r.Context(), h.db, from, to, r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// ExportDeliveryStatsCSVHandler serves delivery stats as CSV.
type ExportDeliveryStatsCSVHandler struct {
	db *sql.DB
}

// NewExportDeliveryStatsCSVHandler constructs an ExportDeliveryStatsCSVHandler.
func NewExportDeliveryStatsCSVHandler(db *sql.DB) *ExportDeliveryStatsCSVHandler {
	return &ExportDeliveryStatsCSVHandler{db: db}
}

// ServeHTTP handles GET /api/v1/exports/delivery_stats.csv.
func (h *ExportDeliveryStatsCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	from, to, err := parseDayRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := queryDeliveryStats(r.Context(), h.db, from, to, r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"day", "kind", "sent", "failed", "pending", "max_retry_count", "last_attempt"})
	for _, row := range stats {
		_ = writer.Write([]string{
			row.Day,
			row.Kind,
			formatInt(row.Sent),
			formatInt(row.Failed),
			formatInt(row.Pending),
			formatInt(row.MaxRetryCount),
			formatTime(row.LastAttempt),
		})
	}
	writer.Flush()
}

// AlarmSummaryHandler serves counts over the active alarm table.
type AlarmSummaryHandler struct {
	db *sql.DB
}

// NewAlarmSummaryHandler constructs an AlarmSummaryHandler.
func NewAlarmSummaryHandler(db *sql.DB) *AlarmSummaryHandler {
	return &AlarmSummaryHandler{db: db}
}

// ServeHTTP handles GET /api/v1/stats/alarms.
func (h *AlarmSummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	summary, err := queryAlarmSummary(r.Context(), h.db)
	if err != nil {
		http.Error(w, "query alarms error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

type deliveryStatRow struct {
	Day           string    `json:"day"`
	Kind          string    `json:"kind"`
	Sent          int       `json:"sent"`
	Failed        int       `json:"failed"`
	Pending       int       `json:"pending"`
	MaxRetryCount int       `json:"max_retry_count"`
	LastAttempt   time.Time `json:"last_attempt"`
}

type alarmSummary struct {
	Active          int        `json:"active"`
	Acknowledged    int        `json:"acknowledged"`
	Unacknowledged  int        `json:"unacknowledged"`
	OldestTriggered *time.Time `json:"oldest_triggered_at"`
}

func queryDeliveryStats(ctx context.Context, db *sql.DB, from, to, kind string) ([]deliveryStatRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
	day,
	kind,
	COUNT(*) FILTER (WHERE status = 'sent'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COUNT(*) FILTER (WHERE status = 'pending'),
	COALESCE(MAX(retry_count), 0),
	MAX(last_attempt)
FROM delivery_log
WHERE day >= $1
	AND day <= $2
	AND ($3 = '' OR kind = $3)
GROUP BY day, kind
ORDER BY day ASC, kind ASC`, from, to, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []deliveryStatRow{}
	for rows.Next() {
		var row deliveryStatRow
		if err := rows.Scan(
			&row.Day,
			&row.Kind,
			&row.Sent,
			&row.Failed,
			&row.Pending,
			&row.MaxRetryCount,
			&row.LastAttempt,
		); err != nil {
			return nil, err
		}
		row.LastAttempt = row.LastAttempt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func queryAlarmSummary(ctx context.Context, db *sql.DB) (alarmSummary, error) {
	var (
		summary alarmSummary
		oldest  sql.NullTime
	)
	err := db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE acknowledged),
	MIN(triggered_at)
FROM active_alarms`).Scan(&summary.Active, &summary.Acknowledged, &oldest)
	if err != nil {
		return alarmSummary{}, err
	}
	summary.Unacknowledged = summary.Active - summary.Acknowledged
	if oldest.Valid {
		t := oldest.Time.UTC()
		summary.OldestTriggered = &t
	}
	return summary, nil
}

// parseDayRange reads from/to as YYYY-MM-DD; to defaults to from.
func parseDayRange(r *http.Request) (string, string, error) {
	from, err := parseDayQuery(r, "from")
	if err != nil {
		return "", "", err
	}
	if r.URL.Query().Get("to") == "" {
		return from, from, nil
	}
	to, err := parseDayQuery(r, "to")
	if err != nil {
		return "", "", err
	}
	if to < from {
		return "", "", errors.New("to must not be before from")
	}
	return from, to, nil
}

func parseDayQuery(r *http.Request, key string) (string, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return "", errors.New(key + " is required")
	}
	if _, err := time.Parse(dayLayout, value); err != nil {
		return "", errors.New(key + " must be YYYY-MM-DD")
	}
	return value, nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatInt(value int) string {
	return strconv.Itoa(value)
}
