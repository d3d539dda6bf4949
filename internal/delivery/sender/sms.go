package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	delivery "plantwatch/internal/delivery/domain"
)

// SMSConfig describes a JSON-over-HTTP SMS gateway.
type SMSConfig struct {
	URL     string
	APIKey  string
	From    string
	Timeout time.Duration
}

type smsRequest struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Message string   `json:"message"`
}

type smsResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SMSGateway posts messages to an SMS gateway.
type SMSGateway struct {
	client *resty.Client
	url    string
	from   string
}

// NewSMSGateway requires the gateway URL.
func NewSMSGateway(cfg SMSConfig) (*SMSGateway, error) {
	if cfg.URL == "" {
		return nil, &delivery.ConfigurationError{Component: "sms", Reason: "gateway url is required"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &SMSGateway{client: client, url: cfg.URL, from: cfg.From}, nil
}

// SendSMS implements SMSTransport.
func (g *SMSGateway) SendSMS(ctx context.Context, to []string, text string) error {
	var result smsResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(smsRequest{From: g.from, To: to, Message: text}).
		SetResult(&result).
		SetError(&result).
		Post(g.url)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return &delivery.ConfigurationError{Component: "sms", Reason: fmt.Sprintf("gateway rejected credentials (status %d)", resp.StatusCode())}
	}
	if resp.IsError() {
		if result.Error != "" {
			return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode(), result.Error)
		}
		return fmt.Errorf("sms gateway status %d", resp.StatusCode())
	}
	return nil
}
