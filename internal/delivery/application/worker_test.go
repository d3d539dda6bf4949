package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	delivery "plantwatch/internal/delivery/domain"
	"plantwatch/internal/delivery/infrastructure/memory"
)

type stubSender struct {
	mu    sync.Mutex
	calls int
	fail  bool
	block time.Duration
}

func (s *stubSender) Send(ctx context.Context, _ delivery.Payload) error {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	block := s.block
	s.mu.Unlock()
	if block > 0 {
		select {
		case <-time.After(block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return &delivery.TransientDeliveryError{Channel: "email", Err: errors.New("smtp down")}
	}
	return nil
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSender) SetFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func newTestWorker(t *testing.T, store *memory.Store, sender delivery.Sender, clock Clock, cfg WorkerConfig) *Worker {
	t.Helper()
	worker, err := NewWorker(store, store.Log(), sender, cfg, WithWorkerClock(clock))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return worker
}

func TestWorkerSendsAndLogs(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	queue, _ := NewQueue(store, store.Log(), WithQueueClock(clock))
	sender := &stubSender{}
	worker := newTestWorker(t, store, sender, clock, WorkerConfig{})
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, delivery.KindAlarm, emailPayload("[CRITICAL] Alert: Boiler"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	result, err := worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if result.Sent != 1 || sender.Calls() != 1 {
		t.Fatalf("expected one send, got %+v calls=%d", result, sender.Calls())
	}
	if got, _ := store.Get(ctx, job.ID); got != nil {
		t.Fatalf("sent job should leave the queue")
	}
	entries, _ := store.ListLog(ctx, delivery.LogFilter{})
	if len(entries) != 1 || entries[0].Status != delivery.LogSent || entries[0].JobID != job.ID {
		t.Fatalf("unexpected log %+v", entries)
	}
}

func TestWorkerRetryScheduleAndCooldownReset(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	queue, _ := NewQueue(store, store.Log(), WithQueueClock(clock))
	sender := &stubSender{fail: true}
	worker := newTestWorker(t, store, sender, clock, WorkerConfig{})
	ctx := context.Background()

	job, _ := queue.Enqueue(ctx, delivery.KindManual, emailPayload("Test"))

	if _, err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Too early for a retry.
	clock.Advance(30 * time.Second)
	worker.RunOnce(ctx)
	if sender.Calls() != 1 {
		t.Fatalf("retry before delay: calls=%d", sender.Calls())
	}
	for i := 0; i < 2; i++ {
		clock.Advance(61 * time.Second)
		worker.RunOnce(ctx)
	}
	if sender.Calls() != 3 {
		t.Fatalf("expected three attempts, got %d", sender.Calls())
	}
	got, _ := store.Get(ctx, job.ID)
	if got == nil || got.Status != delivery.StatusFailed || got.RetryCount != 3 {
		t.Fatalf("unexpected job after retries %+v", got)
	}

	// Exhausted: no attempt inside the cool-down.
	clock.Advance(61 * time.Second)
	worker.RunOnce(ctx)
	if sender.Calls() != 3 {
		t.Fatalf("attempt during cool-down: calls=%d", sender.Calls())
	}

	clock.Advance(3601*time.Second - 61*time.Second)
	sender.SetFail(false)
	result, _ := worker.RunOnce(ctx)
	if result.Reset != 1 || result.Sent != 1 {
		t.Fatalf("expected reset and send, got %+v", result)
	}
	if got, _ := store.Get(ctx, job.ID); got != nil {
		t.Fatalf("job should be delivered, got %+v", got)
	}
	failed, _ := store.ListLog(ctx, delivery.LogFilter{Status: delivery.LogFailed})
	if len(failed) != 3 {
		t.Fatalf("expected three failed log entries, got %d", len(failed))
	}
}

func TestWorkerReachesNewJobsPastCoolingBatch(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	queue, _ := NewQueue(store, store.Log(), WithQueueClock(clock))
	var attempts sync.Map
	sender := senderFunc(func(_ context.Context, payload delivery.Payload) error {
		attempts.Store(payload.Subject, true)
		if payload.Subject == "[WARNING] Alert: Inverter offline" {
			return &delivery.TransientDeliveryError{Channel: "sms", Err: errors.New("gateway down")}
		}
		return nil
	})
	worker := newTestWorker(t, store, sender, clock, WorkerConfig{BatchSize: 2})
	ctx := context.Background()

	queue.Enqueue(ctx, delivery.KindAlarm, emailPayload("[WARNING] Alert: Inverter offline"))
	queue.Enqueue(ctx, delivery.KindAlarm, emailPayload("[WARNING] Alert: Inverter offline"))
	worker.RunOnce(ctx)
	for i := 0; i < 2; i++ {
		clock.Advance(61 * time.Second)
		worker.RunOnce(ctx)
	}
	jobs, _ := store.List(ctx, 0)
	for _, job := range jobs {
		if job.RetryCount != 3 {
			t.Fatalf("expected exhausted jobs, got %+v", job)
		}
	}

	clock.Advance(61 * time.Second)
	fresh, _ := queue.Enqueue(ctx, delivery.KindAlarm, emailPayload("[CRITICAL] Alert: Boiler"))
	result, err := worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if result.Attempted != 1 || result.Sent != 1 {
		t.Fatalf("expected the new job to be sent, got %+v", result)
	}
	if _, ok := attempts.Load("[CRITICAL] Alert: Boiler"); !ok {
		t.Fatalf("new job never attempted")
	}
	if got, _ := store.Get(ctx, fresh.ID); got != nil {
		t.Fatalf("new job still queued: %+v", got)
	}
}

func TestWorkerTimeoutCountsAsFailure(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	queue, _ := NewQueue(store, store.Log(), WithQueueClock(clock))
	sender := &stubSender{block: time.Second}
	worker := newTestWorker(t, store, sender, clock, WorkerConfig{SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	job, _ := queue.Enqueue(ctx, delivery.KindManual, emailPayload("Slow"))
	result, _ := worker.RunOnce(ctx)
	if result.Failed != 1 {
		t.Fatalf("expected timeout failure, got %+v", result)
	}
	got, _ := store.Get(ctx, job.ID)
	if got == nil || got.Status != delivery.StatusFailed || got.RetryCount != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestWorkerSkipsClaimedJob(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	queue, _ := NewQueue(store, store.Log(), WithQueueClock(clock))
	sender := &stubSender{}
	worker := newTestWorker(t, store, sender, clock, WorkerConfig{})
	ctx := context.Background()

	job, _ := queue.Enqueue(ctx, delivery.KindManual, emailPayload("Claimed"))
	if ok, _ := store.MarkSending(ctx, job.ID, clock.Now()); !ok {
		t.Fatalf("claim failed")
	}
	worker.RunOnce(ctx)
	if sender.Calls() != 0 {
		t.Fatalf("claimed job sent twice")
	}

	// A claim older than the stale window is recovered as a failed attempt.
	clock.Advance(6 * time.Minute)
	result, _ := worker.RunOnce(ctx)
	if result.Recovered != 1 || sender.Calls() != 1 {
		t.Fatalf("expected recovery and resend, got %+v calls=%d", result, sender.Calls())
	}
}

func TestConcurrentWorkersDeliverOnce(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	queue, _ := NewQueue(store, store.Log(), WithQueueClock(clock))
	var sends int32
	sender := senderFunc(func(context.Context, delivery.Payload) error {
		atomic.AddInt32(&sends, 1)
		return nil
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		queue.Enqueue(ctx, delivery.KindManual, emailPayload("Bulk"))
	}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		worker := newTestWorker(t, store, sender, clock, WorkerConfig{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.RunOnce(ctx)
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&sends); got != 10 {
		t.Fatalf("expected 10 sends, got %d", got)
	}
}

type senderFunc func(context.Context, delivery.Payload) error

func (f senderFunc) Send(ctx context.Context, payload delivery.Payload) error { return f(ctx, payload) }
