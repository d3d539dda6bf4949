package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Update is a single data point reading from the live feed.
type Update struct {
	DataPointID string    `json:"dataPointId"`
	Value       Value     `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validate checks required fields.
func (u Update) Validate() error {
	if u.DataPointID == "" {
		return errors.New("telemetry update: empty data point id")
	}
	if u.Value.IsZero() {
		return errors.New("telemetry update: missing value")
	}
	return nil
}

// Handler consumes telemetry updates.
type Handler interface {
	HandleUpdate(ctx context.Context, update Update) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, update Update) error

// HandleUpdate calls f.
func (f HandlerFunc) HandleUpdate(ctx context.Context, update Update) error {
	return f(ctx, update)
}

// Fanout delivers each update to every handler and joins their errors.
type Fanout []Handler

// HandleUpdate implements Handler.
func (f Fanout) HandleUpdate(ctx context.Context, update Update) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.HandleUpdate(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LatestCache keeps the most recent update per data point.
type LatestCache struct {
	mu     sync.RWMutex
	values map[string]Update
}

// NewLatestCache constructs an empty cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{values: make(map[string]Update)}
}

// HandleUpdate stores the update unless an older timestamp arrives late.
func (c *LatestCache) HandleUpdate(_ context.Context, update Update) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.values[update.DataPointID]; ok && update.Timestamp.Before(prev.Timestamp) {
		return nil
	}
	c.values[update.DataPointID] = update
	return nil
}

// Latest returns the last update for a data point.
func (c *LatestCache) Latest(dataPointID string) (Update, bool) {
	if c == nil {
		return Update{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.values[dataPointID]
	return u, ok
}
