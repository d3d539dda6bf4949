package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	delivery "plantwatch/internal/delivery/domain"
	"plantwatch/internal/observability/metrics"
)

// WorkerConfig tunes the delivery worker.
type WorkerConfig struct {
	PollInterval time.Duration
	SendTimeout  time.Duration
	StaleAfter   time.Duration
	BatchSize    int
	Concurrency  int
	Policy       delivery.RetryPolicy
	Location     *time.Location
}

// DefaultWorkerConfig polls every 30s with a 5s sender timeout.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 30 * time.Second,
		SendTimeout:  5 * time.Second,
		StaleAfter:   5 * time.Minute,
		BatchSize:    50,
		Concurrency:  4,
		Policy:       delivery.DefaultRetryPolicy(),
		Location:     time.UTC,
	}
}

// PollResult summarizes one poll cycle.
type PollResult struct {
	Recovered int
	Attempted int
	Sent      int
	Failed    int
	Reset     int
}

// Worker drains the delivery queue through a Sender.
type Worker struct {
	jobs   delivery.JobStore
	log    delivery.LogStore
	sender delivery.Sender
	cfg    WorkerConfig
	clock  Clock
	logger *zap.Logger
}

// WorkerOption customizes the worker.
type WorkerOption func(*Worker)

// WithWorkerClock assigns a clock.
func WithWorkerClock(clock Clock) WorkerOption {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithWorkerLogger assigns a logger.
func WithWorkerLogger(logger *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker constructs a worker. Zero config fields take defaults.
func NewWorker(jobs delivery.JobStore, log delivery.LogStore, sender delivery.Sender, cfg WorkerConfig, opts ...WorkerOption) (*Worker, error) {
	if jobs == nil || log == nil {
		return nil, errors.New("delivery worker: nil store")
	}
	if sender == nil {
		return nil, errors.New("delivery worker: nil sender")
	}
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.StaleAfter <= cfg.SendTimeout {
		cfg.StaleAfter = cfg.SendTimeout * 2
		if cfg.StaleAfter < def.StaleAfter {
			cfg.StaleAfter = def.StaleAfter
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	w := &Worker{jobs: jobs, log: log, sender: sender, cfg: cfg, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start polls until ctx is cancelled. The in-flight cycle finishes first.
func (w *Worker) Start(ctx context.Context) {
	if w == nil {
		return
	}
	w.poll(ctx)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopped")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	result, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("delivery poll failed", zap.Error(err))
		return
	}
	if result.Attempted > 0 || result.Recovered > 0 {
		w.logger.Info("delivery poll",
			zap.Int("attempted", result.Attempted),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("reset", result.Reset),
			zap.Int("recovered", result.Recovered))
	}
}

// RunOnce performs a single poll cycle and waits for its sends.
func (w *Worker) RunOnce(ctx context.Context) (PollResult, error) {
	var result PollResult
	now := w.clock.Now()

	recovered, err := w.jobs.RecoverStale(ctx, now.Add(-w.cfg.StaleAfter))
	if err != nil {
		w.logger.Warn("stale job recovery failed", zap.Error(err))
	}
	result.Recovered = recovered
	metrics.AddStaleRecovered(recovered)

	jobs, err := w.jobs.ListDue(ctx, w.cfg.Policy.DueAt(now), w.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.cfg.Concurrency)
	)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		decision := w.cfg.Policy.Decide(job, now)
		if decision == delivery.DecisionSkip {
			continue
		}
		if decision == delivery.DecisionResetAndAttempt {
			if err := w.jobs.ResetRetries(ctx, job.ID); err != nil {
				w.logger.Warn("retry reset failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			metrics.IncDeliveryRetryReset()
			job.RetryCount = 0
			result.Reset++
		}
		claimed, err := w.jobs.MarkSending(ctx, job.ID, now)
		if err != nil {
			w.logger.Warn("claim failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		result.Attempted++

		sem <- struct{}{}
		wg.Add(1)
		go func(job delivery.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			sent := w.deliver(ctx, job, now)
			mu.Lock()
			if sent {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(job)
	}
	wg.Wait()
	return result, nil
}

// deliver runs one send. Shutdown does not cut an in-flight send short; the
// sender timeout does.
func (w *Worker) deliver(parent context.Context, job delivery.Job, attemptAt time.Time) bool {
	ctx := context.WithoutCancel(parent)
	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	started := time.Now()
	err := w.send(sendCtx, job)
	elapsed := time.Since(started)
	day := job.LogDay(attemptAt, w.cfg.Location)
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Int("retry_count", job.RetryCount))

	if err == nil {
		metrics.ObserveDelivery("sent", elapsed)
		entry := delivery.LogEntry{
			Day:         day,
			Kind:        job.Kind,
			JobID:       job.ID,
			Subject:     job.Payload.Subject,
			Status:      delivery.LogSent,
			RetryCount:  job.RetryCount,
			LastAttempt: attemptAt,
		}
		if err := w.jobs.MarkSent(ctx, job.ID, entry); err != nil {
			// The job stays claimed; stale recovery requeues it.
			logger.Error("mark sent failed", zap.Error(err))
		} else {
			logger.Info("notification sent", zap.Duration("elapsed", elapsed))
		}
		return true
	}

	result := "failed"
	switch {
	case errors.Is(sendCtx.Err(), context.DeadlineExceeded):
		result = "timeout"
	case delivery.IsConfigurationError(err):
		result = "config_error"
	}
	metrics.ObserveDelivery(result, elapsed)
	if markErr := w.jobs.MarkFailed(ctx, job.ID); markErr != nil {
		logger.Error("mark failed failed", zap.Error(markErr))
	}
	if logErr := w.log.Append(ctx, delivery.LogEntry{
		Day:         day,
		Kind:        job.Kind,
		JobID:       job.ID,
		Subject:     job.Payload.Subject,
		Status:      delivery.LogFailed,
		RetryCount:  job.RetryCount + 1,
		Error:       err.Error(),
		LastAttempt: attemptAt,
	}); logErr != nil {
		logger.Warn("delivery log append failed", zap.Error(logErr))
	}
	if result == "config_error" {
		logger.Error("notification not sent, sender misconfigured", zap.Error(err))
	} else {
		logger.Warn("notification attempt failed", zap.String("result", result), zap.Error(err))
	}
	return false
}

func (w *Worker) send(ctx context.Context, job delivery.Job) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &delivery.TransientDeliveryError{Channel: job.Payload.Channels.String(), Err: fmt.Errorf("sender panic: %v", r)}
			}
		}()
		done <- w.sender.Send(ctx, job.Payload)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &delivery.TransientDeliveryError{Channel: job.Payload.Channels.String(), Err: ctx.Err()}
	}
}
