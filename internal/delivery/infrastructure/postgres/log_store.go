package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	delivery "plantwatch/internal/delivery/domain"
)

// LogStore is the Postgres delivery log.
type LogStore struct {
	db    *sql.DB
	table string
}

// NewLogStore constructs a log store.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db, table: defaultLogTable}
}

const logColumns = `id, day, kind, job_id, subject, status, retry_count, error, last_attempt`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes one log entry.
func (s *LogStore) Append(ctx context.Context, entry delivery.LogEntry) error {
	if s == nil || s.db == nil {
		return errors.New("delivery log: nil db")
	}
	return insertLogEntry(ctx, s.db, s.table, entry)
}

// DailyStatus returns the effective entry for a day and job kind.
func (s *LogStore) DailyStatus(ctx context.Context, day string, kind delivery.Kind) (*delivery.LogEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("delivery log: nil db")
	}
	entries, err := s.query(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE day = $1 AND kind = $2
ORDER BY (status = 'sent') DESC, last_attempt DESC, id DESC
LIMIT 1`, logColumns, s.table), day, string(kind))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// List returns entries newest first.
func (s *LogStore) List(ctx context.Context, filter delivery.LogFilter) ([]delivery.LogEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("delivery log: nil db")
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.From != "" {
		add("day >= $%d", filter.From)
	}
	if filter.To != "" {
		add("day <= $%d", filter.To)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf("SELECT %s FROM %s", logColumns, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY last_attempt DESC, id DESC LIMIT $%d", len(args))
	return s.query(ctx, query, args...)
}

func (s *LogStore) query(ctx context.Context, query string, args ...any) ([]delivery.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []delivery.LogEntry
	for rows.Next() {
		var (
			entry   delivery.LogEntry
			kind    string
			status  string
			subject sql.NullString
			errText sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Day, &kind, &entry.JobID, &subject, &status,
			&entry.RetryCount, &errText, &entry.LastAttempt); err != nil {
			return nil, err
		}
		entry.Kind = delivery.Kind(kind)
		entry.Status = delivery.LogStatus(status)
		entry.Subject = subject.String
		entry.Error = errText.String
		entry.LastAttempt = entry.LastAttempt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func insertLogEntry(ctx context.Context, db execer, table string, entry delivery.LogEntry) error {
	if entry.Day == "" || entry.Kind == "" || entry.Status == "" {
		return errors.New("delivery log: incomplete entry")
	}
	if entry.LastAttempt.IsZero() {
		entry.LastAttempt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	day, kind, job_id, subject, status, retry_count, error, last_attempt
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, table), entry.Day, string(entry.Kind), entry.JobID, entry.Subject, string(entry.Status),
		entry.RetryCount, entry.Error, entry.LastAttempt.UTC())
	return err
}
