// Package sunset computes the daily sunset and sends the generation report after it.
package sunset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	delivery "plantwatch/internal/delivery/domain"
)

// Provider returns the sunset for the calendar day containing day.
type Provider interface {
	Sunset(ctx context.Context, day time.Time) (time.Time, error)
}

// Fixed reports the same local clock time every day.
type Fixed struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseFixed builds a Fixed provider from "HH:MM".
func ParseFixed(value string, loc *time.Location) (Fixed, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return Fixed{}, fmt.Errorf("sunset: fixed time %q: %w", value, err)
	}
	return Fixed{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

func (f Fixed) Sunset(_ context.Context, day time.Time) (time.Time, error) {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), f.Hour, f.Minute, 0, 0, loc), nil
}

// OpenWeatherConfig configures the OpenWeatherMap lookup.
type OpenWeatherConfig struct {
	BaseURL string
	APIKey  string
	City    string
	Timeout time.Duration
}

// OpenWeather geocodes the configured city once and reads today's sunset from
// the current weather endpoint.
type OpenWeather struct {
	client *resty.Client
	apiKey string
	city   string

	mu     sync.Mutex
	coords *coordinates
}

type coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type weatherResponse struct {
	Sys struct {
		Sunset int64 `json:"sunset"`
	} `json:"sys"`
}

// NewOpenWeather validates cfg. Missing key or city is a ConfigurationError.
func NewOpenWeather(cfg OpenWeatherConfig) (*OpenWeather, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &delivery.ConfigurationError{Component: "sunset", Reason: "openweather api key missing"}
	}
	if strings.TrimSpace(cfg.City) == "" {
		return nil, &delivery.ConfigurationError{Component: "sunset", Reason: "city missing"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openweathermap.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &OpenWeather{client: client, apiKey: cfg.APIKey, city: cfg.City}, nil
}

// Sunset ignores day: the weather endpoint only knows the current day's sunset.
func (o *OpenWeather) Sunset(ctx context.Context, _ time.Time) (time.Time, error) {
	coords, err := o.locate(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var weather weatherResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   fmt.Sprintf("%f", coords.Lat),
			"lon":   fmt.Sprintf("%f", coords.Lon),
			"appid": o.apiKey,
			"units": "metric",
		}).
		SetResult(&weather).
		Get("/data/2.5/weather")
	if err != nil {
		return time.Time{}, fmt.Errorf("sunset: weather: %w", err)
	}
	if err := checkStatus(resp, "weather"); err != nil {
		return time.Time{}, err
	}
	if weather.Sys.Sunset == 0 {
		return time.Time{}, errors.New("sunset: weather response without sunset")
	}
	return time.Unix(weather.Sys.Sunset, 0).UTC(), nil
}

func (o *OpenWeather) locate(ctx context.Context) (coordinates, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.coords != nil {
		return *o.coords, nil
	}
	var found []coordinates
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     o.city,
			"limit": "1",
			"appid": o.apiKey,
		}).
		SetResult(&found).
		Get("/geo/1.0/direct")
	if err != nil {
		return coordinates{}, fmt.Errorf("sunset: geocode: %w", err)
	}
	if err := checkStatus(resp, "geocode"); err != nil {
		return coordinates{}, err
	}
	if len(found) == 0 {
		return coordinates{}, &delivery.ConfigurationError{Component: "sunset", Reason: fmt.Sprintf("city %q not found", o.city)}
	}
	o.coords = &found[0]
	return found[0], nil
}

func checkStatus(resp *resty.Response, step string) error {
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return &delivery.ConfigurationError{Component: "sunset", Reason: "openweather rejected api key"}
	case resp.IsError():
		return fmt.Errorf("sunset: %s: status %d", step, resp.StatusCode())
	}
	return nil
}
