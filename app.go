package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	alarmmemory "plantwatch/internal/alarms/infrastructure/memory"
	alarmrepo "plantwatch/internal/alarms/infrastructure/postgres"
	alarmhttp "plantwatch/internal/alarms/interfaces/http"
	alarmnotify "plantwatch/internal/alarms/notify"
	apihttp "plantwatch/internal/api/http"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
	"plantwatch/internal/config"
	deliveryapp "plantwatch/internal/delivery/application"
	delivery "plantwatch/internal/delivery/domain"
	deliverymemory "plantwatch/internal/delivery/infrastructure/memory"
	deliveryrepo "plantwatch/internal/delivery/infrastructure/postgres"
	deliveryhttp "plantwatch/internal/delivery/interfaces/http"
	"plantwatch/internal/delivery/sender"
	"plantwatch/internal/logging"
	"plantwatch/internal/observability/metrics"
	ruleapp "plantwatch/internal/rules/application"
	rules "plantwatch/internal/rules/domain"
	rulememory "plantwatch/internal/rules/infrastructure/memory"
	rulerepo "plantwatch/internal/rules/infrastructure/postgres"
	rulehttp "plantwatch/internal/rules/interfaces/http"
	"plantwatch/internal/scheduler"
	"plantwatch/internal/scheduler/digest"
	"plantwatch/internal/scheduler/sunset"
	storage "plantwatch/internal/storage/postgres"
	"plantwatch/internal/taskstatus"
	telemetry "plantwatch/internal/telemetry/domain"
	telemetryhttp "plantwatch/internal/telemetry/interfaces/http"
	telemetrymqtt "plantwatch/internal/telemetry/interfaces/mqtt"
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	location *time.Location
	db       *sql.DB
	redis    *redis.Client

	jobs     delivery.JobStore
	log      delivery.LogStore
	rules    *ruleapp.Service
	alarms   *alarmapp.Service
	queue    *deliveryapp.Queue
	worker   *deliveryapp.Worker
	latest   *telemetry.LatestCache
	feed     telemetry.Handler
	broker   *alarmhttp.SSEBroker
	tasks    *taskstatus.Service
	schedule *scheduler.Scheduler
}

func loadBase(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Service:    "plantwatch",
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func buildApp(ctx context.Context, path string) (*app, error) {
	cfg, logger, err := loadBase(path)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, location: loc, latest: telemetry.NewLatestCache()}

	var (
		ruleRepo  rules.Repository
		alarmRepo alarms.Repository
		auditSink audit.Logger
	)
	if cfg.Database.URL != "" {
		db, err := storage.Open(ctx, cfg.Database.URL, storage.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		a.db = db
		if cfg.Database.Migrate {
			if _, err := storage.Migrate(ctx, db, logger); err != nil {
				a.Close()
				return nil, err
			}
		}
		ruleRepo = rulerepo.NewRuleRepository(db)
		alarmRepo = alarmrepo.NewAlarmRepository(db)
		a.jobs = deliveryrepo.NewJobStore(db)
		a.log = deliveryrepo.NewLogStore(db)
		auditSink = audit.NewRepository(db)
	} else {
		logger.Warn("database.url not set; state is kept in memory and lost on exit")
		ruleRepo = rulememory.NewRuleRepository()
		alarmRepo = alarmmemory.NewAlarmRepository()
		store := deliverymemory.NewStore()
		a.jobs = store
		a.log = store.Log()
		auditSink = audit.NewZapLogger(logger)
	}
	metrics.SetRetryLimit(cfg.Delivery.MaxRetries)
	metrics.Init(a.db, logger)

	a.rules, err = ruleapp.NewService(ruleRepo, ruleapp.WithAudit(auditSink), ruleapp.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Rules.SeedFile != "" && a.db == nil {
		if err := a.seedRules(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.queue, err = deliveryapp.NewQueue(a.jobs, a.log,
		deliveryapp.WithLocation(loc),
		deliveryapp.WithQueueLogger(logger),
		deliveryapp.WithQueueAudit(auditSink))
	if err != nil {
		a.Close()
		return nil, err
	}

	template, err := alarmnotify.NewTemplate(cfg.Alarms.SubjectTemplate, cfg.Alarms.BodyTemplate)
	if err != nil {
		a.Close()
		return nil, err
	}
	dispatcher, err := alarmnotify.NewJobDispatcher(a.queue,
		alarmnotify.WithTemplate(template),
		alarmnotify.WithFallbackChannels(channelsFrom(cfg.Alarms.FallbackChannels)),
		alarmnotify.WithLocation(loc),
		alarmnotify.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.broker = alarmhttp.NewSSEBroker()
	a.alarms, err = alarmapp.NewService(a.rules, alarmRepo,
		alarmapp.WithDispatcher(dispatcher),
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(a.broker, alarmnotify.NewLogNotifier(logger))),
		alarmapp.WithRenotifyInterval(cfg.Alarms.RenotifyInterval),
		alarmapp.WithRenotifyAcknowledged(cfg.Alarms.RenotifyAcknowledged),
		alarmapp.WithAudit(auditSink),
		alarmapp.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.feed = telemetry.Fanout{a.latest, a.alarms}

	a.worker, err = deliveryapp.NewWorker(a.jobs, a.log, buildRouter(cfg, logger), deliveryapp.WorkerConfig{
		PollInterval: cfg.Delivery.PollInterval,
		SendTimeout:  cfg.Delivery.SendTimeout,
		StaleAfter:   cfg.Delivery.StaleSending,
		BatchSize:    cfg.Delivery.BatchSize,
		Concurrency:  cfg.Delivery.Workers,
		Policy: delivery.RetryPolicy{
			RetryDelay: cfg.Delivery.RetryDelay,
			MaxRetries: cfg.Delivery.MaxRetries,
			Cooldown:   cfg.Delivery.Cooldown,
		},
		Location: loc,
	}, deliveryapp.WithWorkerLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	var statusStore taskstatus.Store = taskstatus.NewMemoryStore(cfg.TaskStatus.TTL, cfg.TaskStatus.MaxEntries)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		store, err := taskstatus.NewRedisStore(a.redis, cfg.TaskStatus.KeyPrefix, cfg.TaskStatus.TTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		statusStore = store
	}
	a.tasks = taskstatus.NewService(statusStore, logger)

	if err := a.buildScheduler(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) seedRules(ctx context.Context) error {
	list, err := ruleapp.LoadSeedFile(a.cfg.Rules.SeedFile)
	if err != nil {
		return err
	}
	saved, err := a.rules.Import(ctx, list)
	a.logger.Info("rules seeded", zap.Int("saved", saved), zap.Int("total", len(list)))
	return err
}

func buildRouter(cfg *config.Config, logger *zap.Logger) *sender.Router {
	opts := []sender.RouterOption{sender.WithLogger(logger)}
	simulated := sender.NewLogTransport(logger)

	switch cfg.Email.Provider {
	case "smtp":
		smtp, err := sender.NewSMTPSender(sender.SMTPConfig{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		})
		if err != nil {
			logger.Warn("email channel unavailable", zap.Error(err))
		} else {
			opts = append(opts, sender.WithEmail(smtp))
		}
	case "resend":
		resendSender, err := sender.NewResendSender(sender.ResendConfig{
			APIKey:   cfg.Email.Resend.APIKey,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		})
		if err != nil {
			logger.Warn("email channel unavailable", zap.Error(err))
		} else {
			opts = append(opts, sender.WithEmail(resendSender))
		}
	default:
		opts = append(opts, sender.WithEmail(simulated))
	}

	switch cfg.SMS.Provider {
	case "gateway":
		gateway, err := sender.NewSMSGateway(sender.SMSConfig{
			URL:     cfg.SMS.URL,
			APIKey:  cfg.SMS.APIKey,
			From:    cfg.SMS.From,
			Timeout: cfg.SMS.Timeout,
		})
		if err != nil {
			logger.Warn("sms channel unavailable", zap.Error(err))
		} else {
			opts = append(opts, sender.WithSMS(gateway))
		}
	default:
		opts = append(opts, sender.WithSMS(simulated))
	}

	return sender.NewRouter(sender.Recipients{Emails: cfg.Email.Recipients, Phones: cfg.SMS.Recipients}, opts...)
}

func (a *app) buildScheduler() error {
	cfg := a.cfg
	a.schedule = scheduler.New(
		scheduler.WithLocation(a.location),
		scheduler.WithStatus(a.tasks),
		scheduler.WithLogger(a.logger))

	if err := a.schedule.ScheduleRecurring("renotify_sweep", cfg.Scheduler.RenotifySweepInterval, func(ctx context.Context) error {
		_, err := a.alarms.Sweep(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := a.schedule.ScheduleRecurring("rules_refresh", cfg.Scheduler.RulesRefreshInterval, a.rules.Refresh); err != nil {
		return err
	}

	if cfg.Sunset.Enabled {
		if err := a.scheduleSunset(); err != nil {
			return err
		}
	}

	if cfg.Scheduler.DigestEnabled {
		task, err := digest.NewTask(a.alarms, a.queue, delivery.Channels{Email: true}, a.location, a.logger)
		if err != nil {
			return err
		}
		if err := a.schedule.ScheduleDaily("daily_digest", cfg.Scheduler.DigestAt, task.Run); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) scheduleSunset() error {
	cfg := a.cfg
	var provider sunset.Provider
	switch cfg.Sunset.Provider {
	case "fixed":
		fixed, err := sunset.ParseFixed(cfg.Sunset.FixedTime, a.location)
		if err != nil {
			return err
		}
		provider = fixed
	default:
		weather, err := sunset.NewOpenWeather(sunset.OpenWeatherConfig{
			BaseURL: cfg.Sunset.BaseURL,
			APIKey:  cfg.Sunset.APIKey,
			City:    cfg.Sunset.City,
		})
		if delivery.IsConfigurationError(err) {
			a.logger.Warn("sunset report disabled", zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		provider = weather
	}

	rate, err := cfg.Sunset.RateValue()
	if err != nil {
		return err
	}
	tracker := sunset.NewTracker(provider, a.location, a.logger)
	report, err := sunset.NewReportTask(tracker, a.queue, a.latest, sunset.ReportConfig{
		Subject:           cfg.Sunset.Subject,
		Message:           cfg.Sunset.Message,
		GenerationPointID: cfg.Sunset.GenerationPoint,
		Rate:              rate,
		Currency:          cfg.Sunset.Currency,
		Channels:          channelsFrom(cfg.Sunset.Channels),
	}, a.logger)
	if err != nil {
		return err
	}
	if err := a.schedule.ScheduleDaily("sunset_refresh", cfg.Scheduler.SunsetRefreshAt, tracker.Refresh, scheduler.RunAtStart()); err != nil {
		return err
	}
	return a.schedule.ScheduleRecurring("sunset_report", cfg.Scheduler.SunsetCheckInterval, report.Run)
}

func (a *app) handler() (http.Handler, error) {
	mux := http.NewServeMux()

	ingest, err := telemetryhttp.NewIngestHandler(a.feed, a.logger)
	if err != nil {
		return nil, err
	}
	ruleHandler, err := rulehttp.NewHandler(a.rules)
	if err != nil {
		return nil, err
	}
	alarmHandler, err := alarmhttp.NewHandler(a.alarms, alarmhttp.NewStreamHandler(a.broker))
	if err != nil {
		return nil, err
	}
	deliveryHandler, err := deliveryhttp.NewHandler(a.queue)
	if err != nil {
		return nil, err
	}

	mux.Handle("/ingest/telemetry", ingest)
	mux.Handle("/api/v1/rules", ruleHandler)
	mux.Handle("/api/v1/rules/", ruleHandler)
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/notifications/send", deliveryHandler)
	mux.Handle("/api/v1/delivery/", deliveryHandler)
	mux.Handle("/api/v1/tasks", taskstatus.NewHandler(a.tasks))
	if a.db != nil {
		mux.Handle("/api/v1/stats/delivery", apihttp.NewDeliveryStatsHandler(a.db))
		mux.Handle("/api/v1/stats/alarms", apihttp.NewAlarmSummaryHandler(a.db))
		mux.Handle("/api/v1/exports/delivery_stats.csv", apihttp.NewExportDeliveryStatsCSVHandler(a.db))
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.db != nil {
			if err := a.db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewPolicy(auth.DefaultRoutes, "/healthz", "/metrics")
	authMiddleware := auth.NewMiddleware(a.cfg.Auth.JWTSecret, policy, a.logger)
	if authMiddleware == nil {
		a.logger.Warn("auth.jwt_secret not set; API is unauthenticated")
	}
	return loggingMiddleware(authMiddleware.Wrap(mux), a.logger), nil
}

// Serve runs every component until ctx is cancelled, then drains them.
func (a *app) Serve(ctx context.Context) error {
	handler, err := a.handler()
	if err != nil {
		return err
	}

	var subscriber *telemetrymqtt.Subscriber
	if a.cfg.MQTT.Broker != "" {
		subscriber, err = telemetrymqtt.NewSubscriber(telemetrymqtt.Config{
			Broker:   a.cfg.MQTT.Broker,
			ClientID: a.cfg.MQTT.ClientID,
			Username: a.cfg.MQTT.Username,
			Password: a.cfg.MQTT.Password,
			Topic:    a.cfg.MQTT.Topic,
			QoS:      byte(a.cfg.MQTT.QoS),
		}, a.feed, a.logger)
		if err != nil {
			return err
		}
		if err := subscriber.Connect(ctx); err != nil {
			return err
		}
		defer subscriber.Close()
	}

	if err := a.rules.Refresh(ctx); err != nil {
		a.logger.Warn("initial rule load failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker.Start(ctx)
	}()
	a.schedule.Start(ctx)

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Warn("http shutdown", zap.Error(shutdownErr))
	}
	wg.Wait()
	a.schedule.Wait()
	return err
}

// Close releases connections.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

func channelsFrom(names []string) delivery.Channels {
	var channels delivery.Channels
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "email":
			channels.Email = true
		case "sms":
			channels.SMS = true
		}
	}
	return channels
}
