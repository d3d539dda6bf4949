package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const insertEntry = `
INSERT INTO audit_logs (id, actor, role, action, resource_type, resource_id, metadata, payload_digest, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

// Repository stores audit entries in audit_logs. Rewriting the same id is a no-op.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Log implements Logger.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit: repository has no database")
	}
	if entry.Action == "" {
		return errors.New("audit: entry without action")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var metadata []byte
	if len(entry.Metadata) > 0 {
		metadata = entry.Metadata
		if entry.PayloadDigest == "" {
			entry.PayloadDigest = DigestJSON(metadata)
		}
	}
	if _, err := r.db.ExecContext(ctx, insertEntry,
		entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		metadata, entry.PayloadDigest, entry.CreatedAt); err != nil {
		return fmt.Errorf("audit: insert %s: %w", entry.Action, err)
	}
	return nil
}
