package taskstatus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	delivery "plantwatch/internal/delivery/domain"
)

// Service tracks task runs on top of a Store.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	runs map[string]int64
}

// NewService wraps store. A nil logger is replaced by a no-op logger.
func NewService(store Store, logger *zap.Logger) *Service {
	if store == nil {
		store = NewMemoryStore(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now, runs: make(map[string]int64)}
}

// Start records a running task and returns its start time.
func (s *Service) Start(ctx context.Context, name string) time.Time {
	if s == nil {
		return time.Now().UTC()
	}
	started := s.now().UTC()
	s.mu.Lock()
	s.runs[name]++
	runs := s.runs[name]
	s.mu.Unlock()
	s.set(ctx, Status{Name: name, State: StateRunning, StartedAt: started, Runs: runs})
	return started
}

// Finish records the outcome of a run started at started.
func (s *Service) Finish(ctx context.Context, name string, started time.Time, err error) State {
	state := Classify(err)
	if s == nil {
		return state
	}
	s.mu.Lock()
	runs := s.runs[name]
	s.mu.Unlock()
	status := Status{
		Name:       name,
		State:      state,
		StartedAt:  started,
		FinishedAt: s.now().UTC(),
		Runs:       runs,
	}
	if err != nil {
		status.Error = err.Error()
	}
	s.set(ctx, status)
	return state
}

// List returns all known statuses.
func (s *Service) List(ctx context.Context) ([]Status, error) {
	return s.store.List(ctx)
}

func (s *Service) set(ctx context.Context, status Status) {
	if err := s.store.Set(ctx, status); err != nil {
		s.logger.Warn("task status write failed", zap.String("task", status.Name), zap.Error(err))
	}
}

// Classify maps a task error to a state.
func Classify(err error) State {
	switch {
	case err == nil:
		return StateSucceeded
	case errors.Is(err, ErrSkipped), delivery.IsConfigurationError(err):
		return StateSkipped
	default:
		return StateFailed
	}
}

// Handler serves GET /api/v1/tasks.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	list, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}
