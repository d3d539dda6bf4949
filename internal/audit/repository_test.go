package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch/internal/auth"
)

func TestRepository_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := auth.WithIdentity(context.Background(), auth.Identity{Subject: "user-7", Role: auth.RoleOperator})
	entry := NewEntry(ctx, ActionAlarmAcked, "alarm", "alarm-1", map[string]string{"rule_id": "r1"})
	assert.Equal(t, "user-7", entry.Actor)
	assert.Equal(t, "operator", entry.Role)
	assert.NotEmpty(t, entry.PayloadDigest)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(entry.ID, "user-7", "operator", ActionAlarmAcked, "alarm", "alarm-1",
			[]byte(entry.Metadata), entry.PayloadDigest, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewRepository(db).Log(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEntry_DefaultsToSystemActor(t *testing.T) {
	entry := NewEntry(context.Background(), ActionRuleSaved, "rule", "r1", nil)
	assert.Equal(t, "system", entry.Actor)
	assert.Empty(t, entry.Metadata)
}

func TestRepository_RejectsEntryWithoutAction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, NewRepository(db).Log(context.Background(), Entry{ResourceID: "r1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
