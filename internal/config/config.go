// Package config loads plantwatch settings from a YAML file, .env and PLANTWATCH_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Timezone   string           `mapstructure:"timezone"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Alarms     AlarmsConfig     `mapstructure:"alarms"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Email      EmailConfig      `mapstructure:"email"`
	SMS        SMSConfig        `mapstructure:"sms"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Sunset     SunsetConfig     `mapstructure:"sunset"`
	TaskStatus TaskStatusConfig `mapstructure:"taskstatus"`
	Rules      RulesConfig      `mapstructure:"rules"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// RedisConfig enables the shared task status store when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// AuthConfig disables authentication when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type AlarmsConfig struct {
	RenotifyInterval     time.Duration `mapstructure:"renotify_interval"`
	RenotifyAcknowledged bool          `mapstructure:"renotify_acknowledged"`
	FallbackChannels     []string      `mapstructure:"fallback_channels"`
	SubjectTemplate      string        `mapstructure:"subject_template"`
	BodyTemplate         string        `mapstructure:"body_template"`
}

type DeliveryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	StaleSending time.Duration `mapstructure:"stale_sending"`
	BatchSize    int           `mapstructure:"batch_size"`
	Workers      int           `mapstructure:"workers"`
}

// EmailConfig selects the email transport: smtp, resend or log.
type EmailConfig struct {
	Provider   string       `mapstructure:"provider"`
	Recipients []string     `mapstructure:"recipients"`
	From       string       `mapstructure:"from"`
	FromName   string       `mapstructure:"from_name"`
	SMTP       SMTPConfig   `mapstructure:"smtp"`
	Resend     ResendConfig `mapstructure:"resend"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ResendConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SMSConfig selects the SMS transport: gateway or log.
type SMSConfig struct {
	Provider   string        `mapstructure:"provider"`
	Recipients []string      `mapstructure:"recipients"`
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	From       string        `mapstructure:"from"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// MQTTConfig enables the telemetry subscriber when Broker is set.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

type SchedulerConfig struct {
	SunsetRefreshAt       string        `mapstructure:"sunset_refresh_at"`
	SunsetCheckInterval   time.Duration `mapstructure:"sunset_check_interval"`
	RenotifySweepInterval time.Duration `mapstructure:"renotify_sweep_interval"`
	RulesRefreshInterval  time.Duration `mapstructure:"rules_refresh_interval"`
	DigestAt              string        `mapstructure:"digest_at"`
	DigestEnabled         bool          `mapstructure:"digest_enabled"`
}

// SunsetConfig configures the after-sunset generation report.
type SunsetConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Provider        string   `mapstructure:"provider"`
	APIKey          string   `mapstructure:"api_key"`
	City            string   `mapstructure:"city"`
	BaseURL         string   `mapstructure:"base_url"`
	FixedTime       string   `mapstructure:"fixed_time"`
	Subject         string   `mapstructure:"subject"`
	Message         string   `mapstructure:"message"`
	GenerationPoint string   `mapstructure:"generation_point"`
	Rate            string   `mapstructure:"rate"`
	Currency        string   `mapstructure:"currency"`
	Channels        []string `mapstructure:"channels"`
}

// RateValue parses Rate.
func (s SunsetConfig) RateValue() (decimal.Decimal, error) {
	if strings.TrimSpace(s.Rate) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s.Rate))
}

type TaskStatusConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
}

type RulesConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Timezone)
	}
}

// Load reads .env, then path (or plantwatch.yaml in the working directory or
// /etc/plantwatch), then the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	applyDefaults(v)
	v.SetEnvPrefix("PLANTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("PLANTWATCH_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plantwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/plantwatch")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Email.Recipients = splitList(cfg.Email.Recipients)
	cfg.SMS.Recipients = splitList(cfg.SMS.Recipients)
	cfg.Alarms.FallbackChannels = splitList(cfg.Alarms.FallbackChannels)
	cfg.Sunset.Channels = splitList(cfg.Sunset.Channels)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("timezone", "Local")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("alarms.renotify_interval", 30*time.Minute)
	v.SetDefault("alarms.renotify_acknowledged", true)
	v.SetDefault("alarms.fallback_channels", []string{"email"})
	v.SetDefault("alarms.subject_template", "")
	v.SetDefault("alarms.body_template", "")

	v.SetDefault("delivery.poll_interval", 30*time.Second)
	v.SetDefault("delivery.retry_delay", 60*time.Second)
	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.cooldown", time.Hour)
	v.SetDefault("delivery.send_timeout", 5*time.Second)
	v.SetDefault("delivery.stale_sending", 5*time.Minute)
	v.SetDefault("delivery.batch_size", 50)
	v.SetDefault("delivery.workers", 4)

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.recipients", []string{})
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "Plant Monitor")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.resend.api_key", "")

	v.SetDefault("sms.provider", "log")
	v.SetDefault("sms.recipients", []string{})
	v.SetDefault("sms.url", "")
	v.SetDefault("sms.api_key", "")
	v.SetDefault("sms.from", "")
	v.SetDefault("sms.timeout", 10*time.Second)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "plantwatch")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "plantwatch/telemetry/#")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("scheduler.sunset_refresh_at", "01:00")
	v.SetDefault("scheduler.sunset_check_interval", time.Minute)
	v.SetDefault("scheduler.renotify_sweep_interval", time.Minute)
	v.SetDefault("scheduler.rules_refresh_interval", 5*time.Minute)
	v.SetDefault("scheduler.digest_at", "07:00")
	v.SetDefault("scheduler.digest_enabled", false)

	v.SetDefault("sunset.enabled", false)
	v.SetDefault("sunset.provider", "openweather")
	v.SetDefault("sunset.api_key", "")
	v.SetDefault("sunset.city", "")
	v.SetDefault("sunset.base_url", "")
	v.SetDefault("sunset.fixed_time", "18:30")
	v.SetDefault("sunset.subject", "Daily Generation Report")
	v.SetDefault("sunset.message", "")
	v.SetDefault("sunset.generation_point", "")
	v.SetDefault("sunset.rate", "0")
	v.SetDefault("sunset.currency", "")
	v.SetDefault("sunset.channels", []string{"email"})

	v.SetDefault("taskstatus.ttl", 24*time.Hour)
	v.SetDefault("taskstatus.max_entries", 1024)
	v.SetDefault("taskstatus.key_prefix", "plantwatch:task:")

	v.SetDefault("rules.seed_file", "")
}

// Validate rejects settings the process cannot start with.
func Validate(cfg *Config) error {
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("config: timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.Alarms.RenotifyInterval <= 0 {
		return errors.New("config: alarms.renotify_interval must be positive")
	}
	d := cfg.Delivery
	if d.PollInterval <= 0 || d.RetryDelay <= 0 || d.Cooldown <= 0 || d.SendTimeout <= 0 {
		return errors.New("config: delivery intervals must be positive")
	}
	if d.MaxRetries < 1 || d.BatchSize < 1 || d.Workers < 1 {
		return errors.New("config: delivery.max_retries, batch_size and workers must be >= 1")
	}
	if d.StaleSending != 0 && d.StaleSending <= d.SendTimeout {
		return fmt.Errorf("config: delivery.stale_sending (%s) must exceed send_timeout (%s)", d.StaleSending, d.SendTimeout)
	}
	if !oneOf(cfg.Email.Provider, "smtp", "resend", "log") {
		return fmt.Errorf("config: email.provider must be smtp, resend or log, got %q", cfg.Email.Provider)
	}
	if !oneOf(cfg.SMS.Provider, "gateway", "log") {
		return fmt.Errorf("config: sms.provider must be gateway or log, got %q", cfg.SMS.Provider)
	}
	for _, at := range []string{cfg.Scheduler.SunsetRefreshAt, cfg.Scheduler.DigestAt} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("config: scheduler time %q must be HH:MM", at)
		}
	}
	if cfg.Scheduler.SunsetCheckInterval <= 0 || cfg.Scheduler.RenotifySweepInterval <= 0 {
		return errors.New("config: scheduler intervals must be positive")
	}
	if !oneOf(cfg.Sunset.Provider, "openweather", "fixed") {
		return fmt.Errorf("config: sunset.provider must be openweather or fixed, got %q", cfg.Sunset.Provider)
	}
	if _, err := cfg.Sunset.RateValue(); err != nil {
		return fmt.Errorf("config: sunset.rate: %w", err)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return nil
}

func oneOf(value string, options ...string) bool {
	for _, option := range options {
		if value == option {
			return true
		}
	}
	return false
}

// splitList flattens comma separated entries, as delivered by env variables.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
