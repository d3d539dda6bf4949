// Package mqtt feeds telemetry published on an MQTT broker into the evaluator.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"plantwatch/internal/observability/metrics"
	telemetry "plantwatch/internal/telemetry/domain"
)

// DefaultTopic is the subscription filter; the data point id follows the prefix.
const DefaultTopic = "plantwatch/telemetry/#"

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber consumes telemetry messages.
type Subscriber struct {
	cfg     Config
	prefix  string
	handler telemetry.Handler
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
	client  paho.Client
}

// NewSubscriber validates cfg. Connect must be called to start consuming.
func NewSubscriber(cfg Config, handler telemetry.Handler, logger *zap.Logger) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker required")
	}
	if handler == nil {
		return nil, errors.New("mqtt: nil handler")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "plantwatch"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:     cfg,
		prefix:  topicPrefix(cfg.Topic),
		handler: handler,
		logger:  logger,
		now:     time.Now,
		timeout: 10 * time.Second,
	}, nil
}

// Connect dials the broker and subscribes. The subscription is renewed on reconnect.
func (s *Subscriber) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
			s.handleMessage(ctx, msg)
		})
		if token.WaitTimeout(s.timeout) && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
			return
		}
		s.logger.Info("mqtt subscribed", zap.String("topic", s.cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt: connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, msg paho.Message) {
	started := time.Now()
	updates, err := Decode(msg.Topic(), s.prefix, msg.Payload(), s.now())
	if err != nil {
		metrics.IncIngestError("decode")
		s.logger.Warn("mqtt message rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	result := metrics.ResultSuccess
	for _, update := range updates {
		if err := s.handler.HandleUpdate(ctx, update); err != nil {
			result = metrics.ResultError
			s.logger.Error("telemetry handle error",
				zap.String("data_point_id", update.DataPointID),
				zap.Error(err))
		}
	}
	metrics.ObserveIngest("mqtt", result, time.Since(started))
}

type message struct {
	DataPointID string          `json:"dataPointId"`
	Value       telemetry.Value `json:"value"`
	TS          int64           `json:"ts"`
}

// Decode turns a message into updates. The payload is a JSON object
// {"dataPointId","value","ts"} or a bare scalar; the data point id defaults to
// the topic suffix after prefix.
func Decode(topic, prefix string, payload []byte, now time.Time) ([]telemetry.Update, error) {
	id := strings.TrimPrefix(topic, prefix)
	if id == topic && prefix != "" {
		id = ""
	}
	id = strings.ReplaceAll(strings.Trim(id, "/"), "/", ".")

	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}
	update := telemetry.Update{DataPointID: id, Timestamp: now.UTC()}
	if strings.HasPrefix(trimmed, "{") {
		var msg message
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if msg.DataPointID != "" {
			update.DataPointID = msg.DataPointID
		}
		update.Value = msg.Value
		switch {
		case msg.TS > 1_000_000_000_000:
			update.Timestamp = time.UnixMilli(msg.TS).UTC()
		case msg.TS > 0:
			update.Timestamp = time.Unix(msg.TS, 0).UTC()
		}
	} else {
		update.Value = telemetry.ParseValue(trimmed)
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return []telemetry.Update{update}, nil
}

func topicPrefix(filter string) string {
	return strings.TrimSuffix(strings.TrimSuffix(filter, "#"), "+")
}
