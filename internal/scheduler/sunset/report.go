package sunset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	delivery "plantwatch/internal/delivery/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

const (
	DefaultSubject = "Daily Generation Report"
	DefaultMessage = "Today's generation: {{.GenerationValue}} kWh. Estimated earnings: {{.Earnings}} {{.Currency}}."
)

// DailyEnqueuer queues at most one job of a kind per day.
type DailyEnqueuer interface {
	EnqueueDaily(ctx context.Context, kind delivery.Kind, day string, payload delivery.Payload) (bool, error)
}

// Reading returns the latest value of a data point.
type Reading interface {
	Latest(dataPointID string) (telemetry.Update, bool)
}

// ReportConfig configures the after-sunset report.
type ReportConfig struct {
	Subject           string
	Message           string
	GenerationPointID string
	Rate              decimal.Decimal
	Currency          string
	Channels          delivery.Channels
}

// ReportData is exposed to the message template.
type ReportData struct {
	Day             string
	Sunset          string
	GenerationValue string
	Earnings        string
	Currency        string
}

// ReportTask enqueues the daily generation report once today's sunset has passed.
type ReportTask struct {
	tracker  *Tracker
	queue    DailyEnqueuer
	readings Reading
	cfg      ReportConfig
	message  *template.Template
	logger   *zap.Logger
}

// NewReportTask parses cfg.Message.
func NewReportTask(tracker *Tracker, queue DailyEnqueuer, readings Reading, cfg ReportConfig, logger *zap.Logger) (*ReportTask, error) {
	if tracker == nil || queue == nil {
		return nil, errors.New("sunset report: tracker and queue required")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = DefaultSubject
	}
	if strings.TrimSpace(cfg.Message) == "" {
		cfg.Message = DefaultMessage
	}
	if !cfg.Channels.Any() {
		cfg.Channels = delivery.Channels{Email: true}
	}
	tmpl, err := template.New("sunset").Option("missingkey=error").Parse(cfg.Message)
	if err != nil {
		return nil, fmt.Errorf("sunset report: message template: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportTask{tracker: tracker, queue: queue, readings: readings, cfg: cfg, message: tmpl, logger: logger}, nil
}

// Run is the scheduler entry point.
func (r *ReportTask) Run(ctx context.Context) error {
	day, sunset, ok := r.tracker.Today()
	if !ok {
		r.logger.Debug("no sunset for today", zap.String("day", day))
		return nil
	}
	if r.tracker.now().Before(sunset) {
		return nil
	}
	data := r.data(day, sunset)
	var body bytes.Buffer
	if err := r.message.Execute(&body, data); err != nil {
		return fmt.Errorf("sunset report: render: %w", err)
	}
	created, err := r.queue.EnqueueDaily(ctx, delivery.KindSunsetReport, day, delivery.Payload{
		Subject:  r.cfg.Subject,
		Message:  body.String(),
		Channels: r.cfg.Channels,
	})
	if err != nil {
		return fmt.Errorf("sunset report: enqueue: %w", err)
	}
	if created {
		r.logger.Info("sunset report enqueued",
			zap.String("day", day),
			zap.String("generation", data.GenerationValue),
			zap.String("earnings", data.Earnings))
	}
	return nil
}

func (r *ReportTask) data(day string, sunset time.Time) ReportData {
	generation := decimal.Zero
	if r.readings != nil && r.cfg.GenerationPointID != "" {
		update, ok := r.readings.Latest(r.cfg.GenerationPointID)
		if !ok {
			r.logger.Warn("no generation reading", zap.String("data_point_id", r.cfg.GenerationPointID))
		} else if f, numeric := update.Value.Float(); !numeric {
			r.logger.Warn("generation reading not numeric", zap.String("data_point_id", r.cfg.GenerationPointID))
		} else {
			generation = decimal.NewFromFloat(f)
		}
	}
	return ReportData{
		Day:             day,
		Sunset:          sunset.In(r.tracker.location).Format("15:04"),
		GenerationValue: generation.Round(2).String(),
		Earnings:        generation.Mul(r.cfg.Rate).StringFixed(2),
		Currency:        r.cfg.Currency,
	}
}
