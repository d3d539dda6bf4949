package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"plantwatch/internal/auth"
	delivery "plantwatch/internal/delivery/domain"
	ruleapp "plantwatch/internal/rules/application"
	storage "plantwatch/internal/storage/postgres"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "plantwatch",
		Short:         "Plant monitoring alarms and notification delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to plantwatch.yaml (default: ./plantwatch.yaml or $PLANTWATCH_CONFIG)")
	root.AddCommand(newServeCmd(), newSendCmd(), newRulesCmd(), newMigrateCmd(), newTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, telemetry feed, delivery worker and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func newSendCmd() *cobra.Command {
	var (
		subject string
		message string
		email   bool
		sms     bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Queue an ad-hoc notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return errors.New("send needs database.url; the in-memory queue does not outlive this command")
			}
			jobID, err := a.queue.SendNow(cmd.Context(), subject, message, delivery.Channels{Email: email, SMS: sms})
			if err != nil {
				return err
			}
			fmt.Println(jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "notification subject")
	cmd.Flags().StringVar(&message, "message", "", "notification body")
	cmd.Flags().BoolVar(&email, "email", true, "deliver by email")
	cmd.Flags().BoolVar(&sms, "sms", false, "deliver by SMS")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Manage notification rules",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Upsert rules from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return errors.New("rules import needs database.url")
			}
			list, err := ruleapp.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			saved, err := a.rules.Import(cmd.Context(), list)
			fmt.Printf("imported %d of %d rules\n", saved, len(list))
			return err
		},
	})
	return rules
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadBase(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			db, err := storage.Open(cmd.Context(), cfg.Database.URL, storage.Options{})
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := storage.Migrate(cmd.Context(), db, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Int("applied", applied))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadBase(configPath)
			if err != nil {
				return err
			}
			parsed, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			token, err := auth.Issue([]byte(cfg.Auth.JWTSecret), auth.Identity{Subject: subject, Role: parsed}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user or device name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "device, viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the alarm event stream working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
