package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarmrepo "plantwatch/internal/alarms/infrastructure/postgres"
	alarmnotify "plantwatch/internal/alarms/notify"
	deliveryapp "plantwatch/internal/delivery/application"
	delivery "plantwatch/internal/delivery/domain"
	deliveryrepo "plantwatch/internal/delivery/infrastructure/postgres"
	ruleapp "plantwatch/internal/rules/application"
	rules "plantwatch/internal/rules/domain"
	rulerepo "plantwatch/internal/rules/infrastructure/postgres"
	storage "plantwatch/internal/storage/postgres"
	telemetry "plantwatch/internal/telemetry/domain"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads []delivery.Payload
}

func (s *recordingSender) Send(_ context.Context, payload delivery.Payload) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// openDatabase connects to PG_DSN, or starts a throwaway postgres when
// PLANTWATCH_TESTCONTAINERS=1.
func openDatabase(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" && os.Getenv("PLANTWATCH_TESTCONTAINERS") == "1" {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:16-alpine",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "test",
					"POSTGRES_PASSWORD": "test",
					"POSTGRES_DB":       "plantwatch",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "5432")
		require.NoError(t, err)
		dsn = fmt.Sprintf("postgres://test:test@%s:%s/plantwatch?sslmode=disable", host, port.Port())
	}
	if dsn == "" {
		t.Skip("PG_DSN not set and PLANTWATCH_TESTCONTAINERS != 1")
	}

	db, err := storage.Open(ctx, dsn, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = storage.Migrate(ctx, db, zap.NewNop())
	require.NoError(t, err)
	for _, table := range []string{"delivery_log", "notification_jobs", "active_alarms", "notification_rules"} {
		_, err := db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return db
}

func TestAlarmDeliveryClosedLoop_Postgres(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, ctx)

	ruleService, err := ruleapp.NewService(rulerepo.NewRuleRepository(db))
	require.NoError(t, err)
	_, err = ruleService.SaveRule(ctx, rules.Rule{
		ID:          "rule-boiler",
		Name:        "Boiler Temp",
		DataPointID: "boiler.temp",
		Condition:   rules.ConditionGreater,
		Threshold:   telemetry.Number(40),
		Severity:    rules.SeverityCritical,
		Enabled:     true,
		SendEmail:   true,
	})
	require.NoError(t, err)

	jobs := deliveryrepo.NewJobStore(db)
	log := deliveryrepo.NewLogStore(db)
	queue, err := deliveryapp.NewQueue(jobs, log)
	require.NoError(t, err)
	dispatcher, err := alarmnotify.NewJobDispatcher(queue)
	require.NoError(t, err)

	alarmRepo := alarmrepo.NewAlarmRepository(db)
	alarmService, err := alarmapp.NewService(ruleService, alarmRepo, alarmapp.WithDispatcher(dispatcher))
	require.NoError(t, err)

	require.NoError(t, alarmService.HandleUpdate(ctx, telemetry.Update{
		DataPointID: "boiler.temp",
		Value:       telemetry.Number(45),
		Timestamp:   time.Now(),
	}))

	alarm, err := alarmRepo.GetByRule(ctx, "rule-boiler")
	require.NoError(t, err)
	require.NotNil(t, alarm)
	assert.False(t, alarm.NotificationOwed())

	queued, err := queue.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, delivery.KindAlarm, queued[0].Kind)
	assert.True(t, queued[0].Payload.Channels.Email)

	sender := &recordingSender{}
	cfg := deliveryapp.DefaultWorkerConfig()
	worker, err := deliveryapp.NewWorker(jobs, log, sender, cfg)
	require.NoError(t, err)
	result, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, sender.count())

	queued, err = queue.Jobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
	entries, err := queue.Log(ctx, delivery.LogFilter{Kind: delivery.KindAlarm})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, delivery.LogSent, entries[0].Status)

	acked, err := alarmService.Acknowledge(ctx, alarm.ID, "operator")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	_, err = alarmService.Acknowledge(ctx, alarm.ID, "operator")
	assert.Error(t, err)

	require.NoError(t, alarmService.HandleUpdate(ctx, telemetry.Update{
		DataPointID: "boiler.temp",
		Value:       telemetry.Number(39),
		Timestamp:   time.Now(),
	}))
	alarm, err = alarmRepo.GetByRule(ctx, "rule-boiler")
	require.NoError(t, err)
	assert.Nil(t, alarm)
}
