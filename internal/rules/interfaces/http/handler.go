package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

// RuleService is the admin surface of the rule store.
type RuleService interface {
	ListRules(ctx context.Context) ([]rules.Rule, error)
	GetRule(ctx context.Context, id string) (*rules.Rule, error)
	SaveRule(ctx context.Context, rule rules.Rule) (*rules.Rule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*rules.Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// ruleRequest is the body of create and update calls.
type ruleRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	DataPointID string          `json:"data_point_id" validate:"required,max=200"`
	Condition   string          `json:"condition" validate:"required,oneof=== != < <= > >= contains not_contains is_true is_false"`
	Threshold   telemetry.Value `json:"threshold"`
	Severity    string          `json:"severity" validate:"required,oneof=info low warning medium critical high"`
	Enabled     *bool           `json:"enabled"`
	SendEmail   bool            `json:"send_email"`
	SendSMS     bool            `json:"send_sms"`
	Message     string          `json:"message" validate:"max=2000"`
}

// Handler serves /api/v1/rules.
type Handler struct {
	service  RuleService
	validate *validator.Validate
}

// NewHandler constructs a handler.
func NewHandler(service RuleService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("rules handler: nil service")
	}
	return &Handler{service: service, validate: validator.New()}, nil
}

// ServeHTTP routes rule requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/rules" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleSave(w, r, "")
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	if rest == r.URL.Path || rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch parts[1] {
		case "enable":
			h.handleToggle(w, r, id, true)
		case "disable":
			h.handleToggle(w, r, id, false)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, id)
	case http.MethodPut:
		h.handleSave(w, r, id)
	case http.MethodDelete:
		h.handleDelete(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListRules(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, id string) {
	var req ruleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}
	severity, err := rules.ParseSeverity(req.Severity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rule := rules.Rule{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		DataPointID: strings.TrimSpace(req.DataPointID),
		Condition:   rules.Condition(req.Condition),
		Threshold:   req.Threshold,
		Severity:    severity,
		Enabled:     true,
		SendEmail:   req.SendEmail,
		SendSMS:     req.SendSMS,
		Message:     req.Message,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	status := http.StatusCreated
	if id != "" {
		if _, err := h.service.GetRule(r.Context(), id); err != nil {
			respondError(w, err)
			return
		}
		status = http.StatusOK
	}
	saved, err := h.service.SaveRule(r.Context(), rule)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, status, saved)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, id string, enabled bool) {
	rule, err := h.service.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.DeleteRule(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		http.Error(w, "rule not found", http.StatusNotFound)
	case errors.Is(err, rules.ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
