package sunset

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	delivery "plantwatch/internal/delivery/domain"
)

// Tracker holds the sunset computed for the current day.
type Tracker struct {
	provider Provider
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.RWMutex
	day    string
	sunset time.Time
}

// NewTracker constructs a tracker over provider.
func NewTracker(provider Provider, loc *time.Location, logger *zap.Logger) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{provider: provider, location: loc, now: time.Now, logger: logger}
}

// Refresh recomputes today's sunset. On failure the day has no sunset until the
// next refresh.
func (t *Tracker) Refresh(ctx context.Context) error {
	now := t.now()
	day := delivery.DayKey(now, t.location)
	sunset, err := t.provider.Sunset(ctx, now)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if t.day != day {
			t.day, t.sunset = "", time.Time{}
		}
		t.logger.Warn("sunset unavailable", zap.String("day", day), zap.Error(err))
		return err
	}
	if got := delivery.DayKey(sunset, t.location); got != day {
		t.logger.Warn("sunset belongs to another day", zap.String("day", day), zap.String("sunset_day", got))
	}
	t.day, t.sunset = day, sunset
	t.logger.Info("sunset scheduled", zap.String("day", day), zap.Time("at", sunset.In(t.location)))
	return nil
}

// Today returns today's sunset when it is known.
func (t *Tracker) Today() (string, time.Time, bool) {
	day := delivery.DayKey(t.now(), t.location)
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.day != day || t.sunset.IsZero() {
		return day, time.Time{}, false
	}
	return day, t.sunset, true
}
