package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plantwatch/internal/auth"
)

// Actions recorded by the pipeline.
const (
	ActionRuleSaved       = "rule.saved"
	ActionRuleDeleted     = "rule.deleted"
	ActionRuleToggled     = "rule.toggled"
	ActionAlarmAcked      = "alarm.acknowledged"
	ActionAlarmCleared    = "alarm.cleared"
	ActionNotificationNow = "notification.send_now"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewEntry builds an entry with actor and role taken from the request identity.
func NewEntry(ctx context.Context, action, resourceType, resourceID string, metadata any) Entry {
	entry := Entry{
		ID:           NewID(),
		Actor:        auth.Actor(ctx),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    time.Now().UTC(),
	}
	if id, ok := auth.IdentityFrom(ctx); ok {
		entry.Role = string(id.Role)
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
			entry.PayloadDigest = DigestJSON(raw)
		}
	}
	return entry
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ZapLogger writes audit entries to the structured log. Used without a database.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger constructs a ZapLogger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("audit")}
}

// Log implements Logger.
func (l *ZapLogger) Log(_ context.Context, entry Entry) error {
	l.logger.Info(entry.Action,
		zap.String("audit_id", entry.ID),
		zap.String("actor", entry.Actor),
		zap.String("role", entry.Role),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.ByteString("metadata", entry.Metadata),
	)
	return nil
}

// Record logs an entry and reports failures to logger without failing the caller.
func Record(ctx context.Context, sink Logger, logger *zap.Logger, entry Entry) {
	if sink == nil {
		return
	}
	if err := sink.Log(ctx, entry); err != nil && logger != nil {
		logger.Warn("audit log failed", zap.String("action", entry.Action), zap.Error(err))
	}
}
