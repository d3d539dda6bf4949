package taskstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	delivery "plantwatch/internal/delivery/domain"
)

func TestMemoryStoreTTLAndBound(t *testing.T) {
	store := NewMemoryStore(time.Minute, 2)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, Status{Name: "a", State: StateSucceeded}))
	now = now.Add(time.Second)
	require.NoError(t, store.Set(ctx, Status{Name: "b", State: StateSucceeded}))
	now = now.Add(time.Second)
	require.NoError(t, store.Set(ctx, Status{Name: "c", State: StateFailed}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Name)
	assert.Equal(t, "c", list[1].Name)

	now = now.Add(2 * time.Minute)
	got, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisStore(client, "test:task:", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, Status{Name: "sunset_report", State: StateSucceeded, Runs: 2}))
	require.NoError(t, store.Set(ctx, Status{Name: "renotify_sweep", State: StateFailed, Error: "db down"}))

	got, err := store.Get(ctx, "sunset_report")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Runs)

	mr.FastForward(2 * time.Minute)
	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, err := client.SMembers(ctx, "test:task:index").Result()
	require.NoError(t, err)
	assert.Empty(t, members)

	missing, err := store.Get(ctx, "sunset_report")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceClassifiesOutcomes(t *testing.T) {
	service := NewService(NewMemoryStore(time.Hour, 10), nil)
	ctx := context.Background()

	started := service.Start(ctx, "digest")
	assert.Equal(t, StateSucceeded, service.Finish(ctx, "digest", started, nil))
	started = service.Start(ctx, "sunset")
	cfgErr := &delivery.ConfigurationError{Component: "sunset", Reason: "no api key"}
	assert.Equal(t, StateSkipped, service.Finish(ctx, "sunset", started, fmt.Errorf("refresh: %w", cfgErr)))
	started = service.Start(ctx, "sweep")
	assert.Equal(t, StateFailed, service.Finish(ctx, "sweep", started, errors.New("boom")))

	rec := httptest.NewRecorder()
	NewHandler(service).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, "digest", list[0].Name)
	assert.Equal(t, StateSkipped, list[1].State)
	assert.Equal(t, "boom", list[2].Error)
}
