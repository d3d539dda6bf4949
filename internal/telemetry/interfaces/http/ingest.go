package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"plantwatch/internal/observability/metrics"
	telemetry "plantwatch/internal/telemetry/domain"
)

const maxIngestBody = 1 << 20

// IngestHandler accepts telemetry pushed over HTTP.
type IngestHandler struct {
	handler telemetry.Handler
	logger  *zap.Logger
	now     func() time.Time
}

// NewIngestHandler constructs an ingest handler feeding handler.
func NewIngestHandler(handler telemetry.Handler, logger *zap.Logger) (*IngestHandler, error) {
	if handler == nil {
		return nil, errors.New("telemetry ingest: nil handler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{handler: handler, logger: logger, now: time.Now}, nil
}

// ServeHTTP ingests telemetry data.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		h.reject(w, "read_body", "read body error", err)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(w, "decode", "invalid json", err)
		return
	}
	updates, err := req.toUpdates(h.now())
	if err != nil {
		h.reject(w, "invalid_payload", "invalid payload", err)
		return
	}

	var failed int
	for _, update := range updates {
		if err := h.handler.HandleUpdate(r.Context(), update); err != nil {
			failed++
			h.logger.Error("telemetry handle error",
				zap.String("data_point_id", update.DataPointID),
				zap.Error(err))
		}
	}
	if failed > 0 {
		metrics.IncIngestError("handle")
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(started))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"accepted": len(updates) - failed, "failed": failed})
		return
	}
	metrics.ObserveIngest("http", metrics.ResultSuccess, time.Since(started))
	writeJSON(w, http.StatusOK, map[string]any{"accepted": len(updates)})
}

func (h *IngestHandler) reject(w http.ResponseWriter, reason, message string, err error) {
	h.logger.Warn("telemetry ingest rejected", zap.String("reason", reason), zap.Error(err))
	metrics.IncIngestError(reason)
	http.Error(w, message, http.StatusBadRequest)
}

type ingestRequest struct {
	ingestPoint
	Points []ingestPoint `json:"points"`
}

// ingestPoint is either one data point reading or a ts plus a values map.
type ingestPoint struct {
	DataPointID string                     `json:"dataPointId"`
	Value       telemetry.Value            `json:"value"`
	TS          int64                      `json:"ts"`
	Values      map[string]telemetry.Value `json:"values"`
}

func (r ingestRequest) toUpdates(now time.Time) ([]telemetry.Update, error) {
	points := r.Points
	if len(points) == 0 {
		points = []ingestPoint{r.ingestPoint}
	}
	var updates []telemetry.Update
	for _, point := range points {
		ts, err := parseTimestamp(point.TS, now)
		if err != nil {
			return nil, err
		}
		if point.DataPointID != "" {
			updates = append(updates, telemetry.Update{DataPointID: point.DataPointID, Value: point.Value, Timestamp: ts})
		}
		for key, value := range point.Values {
			updates = append(updates, telemetry.Update{DataPointID: key, Value: value, Timestamp: ts})
		}
	}
	if len(updates) == 0 {
		return nil, errors.New("no telemetry points")
	}
	for _, update := range updates {
		if err := update.Validate(); err != nil {
			return nil, err
		}
	}
	return updates, nil
}

// parseTimestamp accepts unix seconds or milliseconds; zero means now.
func parseTimestamp(value int64, now time.Time) (time.Time, error) {
	switch {
	case value == 0:
		return now.UTC(), nil
	case value < 0:
		return time.Time{}, errors.New("invalid ts")
	case value > 1_000_000_000_000:
		return time.UnixMilli(value).UTC(), nil
	default:
		return time.Unix(value, 0).UTC(), nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
