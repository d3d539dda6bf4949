package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	delivery "plantwatch/internal/delivery/domain"
	"plantwatch/internal/observability/metrics"
)

const maxListLimit = 1000

// DeliveryService is the queue surface used by the HTTP layer.
type DeliveryService interface {
	SendNow(ctx context.Context, subject, message string, channels delivery.Channels) (string, error)
	Jobs(ctx context.Context, limit int) ([]delivery.Job, error)
	Log(ctx context.Context, filter delivery.LogFilter) ([]delivery.LogEntry, error)
}

type sendRequest struct {
	Subject  string `json:"subject" validate:"required,max=300"`
	Message  string `json:"message" validate:"required,max=10000"`
	Channels struct {
		Email bool `json:"email"`
		SMS   bool `json:"sms"`
	} `json:"channels"`
}

type sendResponse struct {
	JobID string `json:"job_id"`
}

// Handler serves manual sends and delivery queue inspection.
type Handler struct {
	service  DeliveryService
	validate *validator.Validate
}

// NewHandler constructs a handler.
func NewHandler(service DeliveryService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("delivery handler: nil service")
	}
	return &Handler{service: service, validate: validator.New()}, nil
}

// ServeHTTP routes /api/v1/notifications/send and /api/v1/delivery/*.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/notifications/send":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSend(w, r)
	case "/api/v1/delivery/jobs":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleJobs(w, r)
	case "/api/v1/delivery/log":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleLog(w, r)
	case "/api/v1/delivery/log/export":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "subject and message are required", http.StatusBadRequest)
		return
	}
	channels := delivery.Channels{Email: req.Channels.Email, SMS: req.Channels.SMS}
	if !channels.Any() {
		http.Error(w, "at least one channel is required", http.StatusBadRequest)
		return
	}
	jobID, err := h.service.SendNow(r.Context(), req.Subject, req.Message, channels)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, sendResponse{JobID: jobID})
}

func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jobs, err := h.service.Jobs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []delivery.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.service.Log(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []delivery.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.service.Log(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var (
		body        []byte
		contentType string
	)
	switch format {
	case "pdf":
		body, err = BuildLogPDF(filter, entries)
		contentType = "application/pdf"
	default:
		body, err = BuildLogXLSX(filter, entries)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(filter, format)))
	_, _ = w.Write(body)
}

func parseFilter(r *http.Request) (delivery.LogFilter, error) {
	q := r.URL.Query()
	filter := delivery.LogFilter{
		From:   q.Get("from"),
		To:     q.Get("to"),
		Kind:   delivery.Kind(q.Get("kind")),
		Status: delivery.LogStatus(q.Get("status")),
	}
	for key, day := range map[string]string{"from": filter.From, "to": filter.To} {
		if day == "" {
			continue
		}
		if _, err := time.Parse(delivery.DayLayout, day); err != nil {
			return filter, fmt.Errorf("%s must be YYYY-MM-DD", key)
		}
	}
	if filter.From != "" && filter.To != "" && filter.To < filter.From {
		return filter, errors.New("to must not be before from")
	}
	limit, err := parseLimit(r, 0)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func exportName(filter delivery.LogFilter, format string) string {
	name := "delivery-log"
	if filter.From != "" {
		name += "-" + filter.From
	}
	if filter.To != "" {
		name += "-" + filter.To
	}
	return name + "." + format
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
