package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/auth"
	rules "plantwatch/internal/rules/domain"
)

type stubService struct {
	active  []alarms.Alarm
	ackedBy string
	acked   map[string]bool
}

func (s *stubService) ListActive(context.Context) ([]alarms.Alarm, error) { return s.active, nil }

func (s *stubService) Banner(context.Context) (*alarms.Alarm, error) {
	if best, ok := alarms.MostSevere(s.active); ok {
		return &best, nil
	}
	return nil, nil
}

func (s *stubService) Acknowledge(_ context.Context, id, userID string) (*alarms.Alarm, error) {
	for _, alarm := range s.active {
		if alarm.ID != id {
			continue
		}
		if s.acked[id] {
			return &alarm, alarms.ErrAlreadyAcknowledged
		}
		s.acked[id] = true
		s.ackedBy = userID
		alarm.Acknowledged = true
		alarm.AcknowledgedBy = userID
		return &alarm, nil
	}
	return nil, alarms.ErrNotFound
}

func (s *stubService) Clear(_ context.Context, id string) (*alarms.Alarm, error) {
	for _, alarm := range s.active {
		if alarm.ID == id {
			return &alarm, nil
		}
	}
	return nil, alarms.ErrNotFound
}

func newStub() *stubService {
	return &stubService{
		acked: make(map[string]bool),
		active: []alarms.Alarm{{
			ID:          "alarm-1",
			RuleID:      "rule-1",
			TriggeredAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
			Rule:        alarms.RuleSnapshot{Name: "Boiler Temp", Severity: rules.SeverityCritical},
		}},
	}
}

func TestListAndBanner(t *testing.T) {
	handler, _ := NewHandler(newStub(), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var list []alarms.Alarm
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/banner", nil))
	var banner bannerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &banner); err != nil || !banner.Active || banner.Alarm.ID != "alarm-1" {
		t.Fatalf("unexpected banner %s", rec.Body.String())
	}
}

func TestAckUsesSubjectThenBody(t *testing.T) {
	stub := newStub()
	handler, _ := NewHandler(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-1/ack", strings.NewReader(`{"userId":"body-user"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Subject: "token-user", Role: auth.RoleOperator}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || stub.ackedBy != "token-user" {
		t.Fatalf("status %d acked by %q", rec.Code, stub.ackedBy)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-1/ack", strings.NewReader(`{"userId":"body-user"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second ack status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/missing/ack", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing ack status %d", rec.Code)
	}
}

func TestAckBodyUser(t *testing.T) {
	stub := newStub()
	handler, _ := NewHandler(stub, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-1/ack", strings.NewReader(`{"userId":"user-9"}`)))
	if rec.Code != http.StatusOK || stub.ackedBy != "user-9" {
		t.Fatalf("status %d acked by %q", rec.Code, stub.ackedBy)
	}
}

func TestClearAndUnknownRoutes(t *testing.T) {
	handler, _ := NewHandler(newStub(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-1/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/alarm-1/explode", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/alarm-1/ack", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET ack status %d", rec.Code)
	}
}

func readEvent(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	var event string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return event
		}
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
	}
}

func waitForClients(t *testing.T, broker *SSEBroker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for broker.Clients() < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if broker.Clients() < n {
		t.Fatalf("expected %d stream clients, got %d", n, broker.Clients())
	}
}

func transitionAt(kind alarms.TransitionKind, id string, severity rules.Severity) alarms.Transition {
	return alarms.Transition{Kind: kind, Alarm: alarms.Alarm{ID: id, Rule: alarms.RuleSnapshot{Severity: severity}}}
}

func TestStreamDeliversTransitions(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	if got := readEvent(t, reader); got != "ready" {
		t.Fatalf("expected ready event, got %q", got)
	}
	waitForClients(t, broker, 1)
	broker.Notify(context.Background(), transitionAt(alarms.TransitionRaised, "alarm-1", rules.SeverityLow))
	if got := readEvent(t, reader); got != "raised" {
		t.Fatalf("expected raised event, got %q", got)
	}
}

func TestStreamFiltersBySeverity(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	resp, err := http.Get(server.URL + "?min_severity=warning")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader)
	waitForClients(t, broker, 1)

	broker.Notify(context.Background(), transitionAt(alarms.TransitionRaised, "low-1", rules.SeverityLow))
	broker.Notify(context.Background(), transitionAt(alarms.TransitionCleared, "crit-1", rules.SeverityCritical))
	if got := readEvent(t, reader); got != "cleared" {
		t.Fatalf("expected only the critical transition, got %q", got)
	}

	bad := httptest.NewRecorder()
	NewStreamHandler(broker).ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/stream?min_severity=loud", nil))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown severity, got %d", bad.Code)
	}
}
