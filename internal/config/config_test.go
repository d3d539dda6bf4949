package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Alarms.RenotifyInterval)
	assert.True(t, cfg.Alarms.RenotifyAcknowledged)
	assert.Equal(t, []string{"email"}, cfg.Alarms.FallbackChannels)
	assert.Equal(t, 30*time.Second, cfg.Delivery.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Delivery.RetryDelay)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Delivery.Cooldown)
	assert.Equal(t, 5*time.Second, cfg.Delivery.SendTimeout)
	assert.Equal(t, "01:00", cfg.Scheduler.SunsetRefreshAt)
	assert.Equal(t, "log", cfg.Email.Provider)
	assert.Equal(t, 24*time.Hour, cfg.TaskStatus.TTL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "plantwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: UTC
email:
  provider: smtp
  recipients: [ops@example.com]
  smtp:
    host: smtp.example.com
sunset:
  enabled: true
  rate: "0.15"
  currency: LKR
`), 0o600))
	t.Setenv("PLANTWATCH_DELIVERY_WORKERS", "8")
	t.Setenv("PLANTWATCH_SMS_RECIPIENTS", "+94770000001, +94770000002")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "smtp", cfg.Email.Provider)
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	assert.Equal(t, 587, cfg.Email.SMTP.Port)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Email.Recipients)
	assert.Equal(t, 8, cfg.Delivery.Workers)
	assert.Equal(t, []string{"+94770000001", "+94770000002"}, cfg.SMS.Recipients)
	rate, err := cfg.Sunset.RateValue()
	require.NoError(t, err)
	assert.Equal(t, "0.15", rate.String())
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidateRejects(t *testing.T) {
	chdir(t, t.TempDir())
	cases := map[string]string{
		"PLANTWATCH_EMAIL_PROVIDER":           "carrier-pigeon",
		"PLANTWATCH_SCHEDULER_DIGEST_AT":      "7am",
		"PLANTWATCH_SUNSET_RATE":              "cheap",
		"PLANTWATCH_DELIVERY_STALE_SENDING":   "1s",
		"PLANTWATCH_TIMEZONE":                 "Mars/Olympus",
		"PLANTWATCH_ALARMS_RENOTIFY_INTERVAL": "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
