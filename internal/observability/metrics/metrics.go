package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "plantwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	ruleEvaluations  *prometheus.CounterVec
	alarmTransitions *prometheus.CounterVec

	jobsEnqueued      *prometheus.CounterVec
	deliveryTotal     *prometheus.CounterVec
	deliveryLatency   *prometheus.HistogramVec
	deliveryResets    prometheus.Counter
	deliveryRecovered prometheus.Counter

	schedulerRuns    *prometheus.CounterVec
	schedulerLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	streamClients prometheus.Gauge
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total telemetry ingest requests by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		ruleEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Total rule evaluations by outcome",
			},
			[]string{"outcome"},
		)
		alarmTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_transitions_total",
				Help: "Total alarm lifecycle transitions by kind",
			},
			[]string{"kind"},
		)

		jobsEnqueued = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_jobs_enqueued_total",
				Help: "Total notification jobs enqueued by kind",
			},
			[]string{"kind"},
		)
		deliveryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_attempts_total",
				Help: "Total delivery attempts by result",
			},
			[]string{"result"},
		)
		deliveryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_latency_seconds",
				Help:    "Delivery attempt latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"result"},
		)
		deliveryResets = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_retry_resets_total",
				Help: "Total retry counter resets after cool-down",
			},
		)
		deliveryRecovered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_stale_recovered_total",
				Help: "Total stale sending jobs returned to the queue",
			},
		)

		schedulerRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_runs_total",
				Help: "Total scheduled task runs by task and result",
			},
			[]string{"task", "result"},
		)
		schedulerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scheduler_run_seconds",
				Help:    "Scheduled task duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_log_export_total",
				Help: "Total delivery log exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_log_export_latency_seconds",
				Help:    "Delivery log export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		streamClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alarm_stream_clients",
				Help: "Connected alarm stream subscribers",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ruleEvaluations,
			alarmTransitions,
			jobsEnqueued,
			deliveryTotal,
			deliveryLatency,
			deliveryResets,
			deliveryRecovered,
			schedulerRuns,
			schedulerLatency,
			exportTotal,
			exportLatency,
			streamClients,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest duration and result per source.
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncRuleEvaluation counts one rule evaluation.
func IncRuleEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if ruleEvaluations != nil {
		ruleEvaluations.WithLabelValues(outcome).Inc()
	}
}

// IncAlarmTransition increments alarm lifecycle counters.
func IncAlarmTransition(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if alarmTransitions != nil {
		alarmTransitions.WithLabelValues(kind).Inc()
	}
}

func IncJobEnqueued(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if jobsEnqueued != nil {
		jobsEnqueued.WithLabelValues(kind).Inc()
	}
}

// ObserveDelivery records one send attempt.
func ObserveDelivery(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if deliveryTotal != nil {
		deliveryTotal.WithLabelValues(result).Inc()
	}
	if deliveryLatency != nil {
		deliveryLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func IncDeliveryRetryReset() {
	if deliveryResets != nil {
		deliveryResets.Inc()
	}
}

// AddStaleRecovered adds count recovered jobs.
func AddStaleRecovered(count int) {
	if count <= 0 {
		return
	}
	if deliveryRecovered != nil {
		deliveryRecovered.Add(float64(count))
	}
}

// ObserveSchedulerRun records a scheduled task run.
func ObserveSchedulerRun(task, result string, duration time.Duration) {
	if task == "" {
		task = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if schedulerRuns != nil {
		schedulerRuns.WithLabelValues(task, result).Inc()
	}
	if schedulerLatency != nil {
		schedulerLatency.WithLabelValues(task).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// AddStreamClients moves the subscriber gauge by delta.
func AddStreamClients(delta int) {
	if streamClients != nil {
		streamClients.Add(float64(delta))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
