package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/auth"
)

// AlarmService is the alarm surface used by the HTTP layer.
type AlarmService interface {
	ListActive(ctx context.Context) ([]alarms.Alarm, error)
	Banner(ctx context.Context) (*alarms.Alarm, error)
	Acknowledge(ctx context.Context, alarmID, userID string) (*alarms.Alarm, error)
	Clear(ctx context.Context, alarmID string) (*alarms.Alarm, error)
}

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service AlarmService
	stream  http.Handler
}

// NewHandler constructs a handler. stream may be nil.
func NewHandler(service AlarmService, stream http.Handler) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service, stream: stream}, nil
}

type ackRequest struct {
	UserID string `json:"userId"`
}

type bannerResponse struct {
	Active bool          `json:"active"`
	Alarm  *alarms.Alarm `json:"alarm,omitempty"`
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/alarms/banner":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleBanner(w, r)
	case r.URL.Path == "/api/v1/alarms/stream":
		if h.stream == nil {
			http.Error(w, "stream not ready", http.StatusServiceUnavailable)
			return
		}
		h.stream.ServeHTTP(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListActive(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.Alarm{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleBanner(w http.ResponseWriter, r *http.Request) {
	alarm, err := h.service.Banner(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bannerResponse{Active: alarm != nil, Alarm: alarm})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	var (
		alarm *alarms.Alarm
		err   error
	)
	switch action {
	case "ack":
		userID, decodeErr := ackUser(r)
		if decodeErr != nil {
			http.Error(w, decodeErr.Error(), http.StatusBadRequest)
			return
		}
		alarm, err = h.service.Acknowledge(r.Context(), id, userID)
	case "clear":
		alarm, err = h.service.Clear(r.Context(), id)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case errors.Is(err, alarms.ErrNotFound):
		http.Error(w, "alarm not found", http.StatusNotFound)
	case errors.Is(err, alarms.ErrAlreadyAcknowledged):
		writeJSON(w, http.StatusConflict, alarm)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, alarm)
	}
}

// ackUser prefers the authenticated subject over the body.
func ackUser(r *http.Request) (string, error) {
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		return id.Subject, nil
	}
	var req ackRequest
	if r.Body == nil {
		return "", nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", errors.New("invalid json body")
	}
	return strings.TrimSpace(req.UserID), nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
