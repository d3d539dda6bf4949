package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	delivery "plantwatch/internal/delivery/domain"
)

const (
	defaultJobsTable = "notification_jobs"
	defaultLogTable  = "delivery_log"
)

// JobStore is a Postgres implementation of the delivery queue.
type JobStore struct {
	db       *sql.DB
	table    string
	logTable string
}

// JobStoreOption configures the job store.
type JobStoreOption func(*JobStore)

// WithJobsTable overrides the queue table name.
func WithJobsTable(table string) JobStoreOption {
	return func(s *JobStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewJobStore constructs a job store.
func NewJobStore(db *sql.DB, opts ...JobStoreOption) *JobStore {
	store := &JobStore{db: db, table: defaultJobsTable, logTable: defaultLogTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

const jobColumns = `id, kind, payload, status, retry_count, last_attempt, created_at, day`

// Enqueue inserts a pending job. Existing ids are left untouched.
func (s *JobStore) Enqueue(ctx context.Context, job delivery.Job) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("job store: nil db")
	}
	if job.ID == "" {
		return false, errors.New("job store: empty id")
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, kind, payload, status, retry_count, last_attempt, created_at, day
) VALUES (
	$1, $2, $3, 'pending', 0, NULL, $4, $5
)
ON CONFLICT (id)
DO NOTHING`, s.table), job.ID, string(job.Kind), payload, job.CreatedAt.UTC(), job.Day)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListDue returns pending jobs and failed jobs due under the window, oldest
// first. Jobs still waiting out a retry delay or cool-down never fill the batch.
func (s *JobStore) ListDue(ctx context.Context, due delivery.DueWindow, limit int) ([]delivery.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("job store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE status = 'pending'
	OR (status = 'failed' AND retry_count < $1 AND (last_attempt IS NULL OR last_attempt < $2))
	OR (status = 'failed' AND retry_count >= $1 AND (last_attempt IS NULL OR last_attempt < $3))
ORDER BY created_at ASC, id ASC
LIMIT $4`, jobColumns, s.table), due.MaxRetries, due.RetryBefore.UTC(), due.ResetBefore.UTC(), limit)
}

// MarkSending claims a job with a compare-and-swap on its status.
func (s *JobStore) MarkSending(ctx context.Context, id string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("job store: nil db")
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = 'sending', last_attempt = $2
WHERE id = $1 AND status IN ('pending', 'failed')`, s.table), id, at.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkFailed records a failed attempt of a claimed job.
func (s *JobStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("job store: nil db")
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = 'failed', retry_count = retry_count + 1
WHERE id = $1 AND status = 'sending'`, s.table), id)
	return err
}

// ResetRetries zeroes the retry count of a failed job.
func (s *JobStore) ResetRetries(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("job store: nil db")
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET retry_count = 0
WHERE id = $1 AND status = 'failed'`, s.table), id)
	return err
}

// MarkSent deletes the job and appends entry to the delivery log in one transaction.
// A job that is already gone leaves the log untouched.
func (s *JobStore) MarkSent(ctx context.Context, id string, entry delivery.LogEntry) (err error) {
	if s == nil || s.db == nil {
		return errors.New("job store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return tx.Rollback()
	}
	if err = insertLogEntry(ctx, tx, s.logTable, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// RecoverStale fails jobs stuck in sending since before cutoff.
func (s *JobStore) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("job store: nil db")
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = 'failed', retry_count = retry_count + 1
WHERE status = 'sending' AND last_attempt < $1`, s.table), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Get returns a job by id, or nil.
func (s *JobStore) Get(ctx context.Context, id string) (*delivery.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("job store: nil db")
	}
	jobs, err := s.query(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, jobColumns, s.table), id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// List returns queued jobs in any status, oldest first.
func (s *JobStore) List(ctx context.Context, limit int) ([]delivery.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("job store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY created_at ASC, id ASC
LIMIT $1`, jobColumns, s.table), limit)
}

func (s *JobStore) query(ctx context.Context, query string, args ...any) ([]delivery.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []delivery.Job
	for rows.Next() {
		var (
			job         delivery.Job
			kind        string
			status      string
			payload     []byte
			lastAttempt sql.NullTime
		)
		if err := rows.Scan(&job.ID, &kind, &payload, &status, &job.RetryCount, &lastAttempt, &job.CreatedAt, &job.Day); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("job store: decode payload of %s: %w", job.ID, err)
		}
		job.Kind = delivery.Kind(kind)
		job.Status = delivery.Status(status)
		if lastAttempt.Valid {
			job.LastAttempt = lastAttempt.Time.UTC()
		}
		job.CreatedAt = job.CreatedAt.UTC()
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
