package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
	rules "plantwatch/internal/rules/domain"
)

const (
	keepAliveInterval = 25 * time.Second
	subscriberBuffer  = 16
)

type streamEvent struct {
	id       uint64
	kind     alarms.TransitionKind
	severity rules.Severity
	data     []byte
}

type subscriber struct {
	events      chan streamEvent
	minSeverity rules.Severity
}

// SSEBroker publishes alarm transitions to dashboard subscribers. A
// subscriber whose buffer is full misses the event.
type SSEBroker struct {
	mu      sync.Mutex
	seq     uint64
	dropped uint64
	subs    map[*subscriber]struct{}
}

func NewSSEBroker() *SSEBroker {
	return &SSEBroker{subs: make(map[*subscriber]struct{})}
}

// Notify implements the alarm notifier hook.
func (b *SSEBroker) Notify(_ context.Context, transition alarms.Transition) {
	if b == nil {
		return
	}
	data, err := json.Marshal(transition)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev := streamEvent{id: b.seq, kind: transition.Kind, severity: transition.Alarm.Severity(), data: data}
	for sub := range b.subs {
		if ev.severity < sub.minSeverity {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			b.dropped++
		}
	}
}

// Clients is the number of open streams.
func (b *SSEBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped counts events lost to full subscriber buffers.
func (b *SSEBroker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *SSEBroker) subscribe(min rules.Severity) *subscriber {
	sub := &subscriber{events: make(chan streamEvent, subscriberBuffer), minSeverity: min}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	metrics.AddStreamClients(1)
	return sub
}

func (b *SSEBroker) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		metrics.AddStreamClients(-1)
	}
}

// StreamHandler serves GET /api/v1/alarms/stream as server-sent events.
// Each transition is written with its kind as the event name;
// ?min_severity=warning narrows the feed.
type StreamHandler struct {
	broker *SSEBroker
}

func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	var min rules.Severity
	if raw := r.URL.Query().Get("min_severity"); raw != "" {
		parsed, err := rules.ParseSeverity(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		min = parsed
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	sub := h.broker.subscribe(min)
	defer h.broker.unsubscribe(sub)

	fmt.Fprintf(w, "event: ready\ndata: {\"min_severity\":%q}\n\n", min.String())
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-sub.events:
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.id, ev.kind, ev.data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
