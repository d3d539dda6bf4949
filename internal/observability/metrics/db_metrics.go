package metrics

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// retryLimit mirrors the delivery retry policy for the exhausted gauge.
var retryLimit atomic.Int64

func init() { retryLimit.Store(3) }

// SetRetryLimit aligns the exhausted-jobs gauge with the configured policy.
func SetRetryLimit(n int) {
	if n > 0 {
		retryLimit.Store(int64(n))
	}
}

type dbGauge struct {
	name  string
	help  string
	query string
	args  func() []any
}

var dbGauges = []dbGauge{
	{
		name:  "delivery_queue_pending",
		help:  "Queued notification jobs awaiting delivery",
		query: "SELECT COUNT(*) FROM notification_jobs WHERE status IN ('pending', 'failed')",
	},
	{
		name:  "delivery_queue_exhausted",
		help:  "Failed jobs waiting out the retry cool-down",
		query: "SELECT COUNT(*) FROM notification_jobs WHERE status = 'failed' AND retry_count >= $1",
		args:  func() []any { return []any{retryLimit.Load()} },
	},
	{
		name:  "alarms_active",
		help:  "Currently active alarms",
		query: "SELECT COUNT(*) FROM active_alarms",
	},
	{
		name:  "alarms_unacknowledged",
		help:  "Active alarms nobody has acknowledged",
		query: "SELECT COUNT(*) FROM active_alarms WHERE NOT acknowledged",
	},
}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, g := range dbGauges {
		g := g
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return g.count(db, logger) },
		))
	}
}

// count runs on every scrape; a failing query reports zero.
func (g dbGauge) count(db *sql.DB, logger *zap.Logger) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var args []any
	if g.args != nil {
		args = g.args()
	}
	var n int64
	if err := db.QueryRowContext(ctx, g.query, args...).Scan(&n); err != nil {
		logger.Warn("metrics query failed", zap.String("gauge", g.name), zap.Error(err))
		return 0
	}
	return float64(max(n, 0))
}
