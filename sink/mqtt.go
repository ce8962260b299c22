package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/pkg/retry"
)

// MQTTConfig configures the MQTT result publisher.
type MQTTConfig struct {
	Broker         string        `json:"broker" yaml:"broker"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	Username       string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty"`
	QoS            byte          `json:"qos" yaml:"qos"`
	Retained       bool          `json:"retained" yaml:"retained"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultMQTTConfig returns the standard connection settings.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "ctcgw",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks the broker address and QoS.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// MQTTPublisher publishes raw payloads to an MQTT broker.
type MQTTPublisher struct {
	client   mqtt.Client
	qos      byte
	retained bool
	logger   *slog.Logger
}

// ConnectMQTT connects to the broker, retrying quickly while it comes up.
// The client reconnects on its own afterwards.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "MQTTPublisher", "ConnectMQTT", "validate config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt-sink")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", "broker", cfg.Broker)
	})

	var client mqtt.Client
	err := retry.Do(ctx, retry.Quick(), func() error {
		client = mqtt.NewClient(opts)
		return wait(ctx, client.Connect())
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "MQTTPublisher", "ConnectMQTT", fmt.Sprintf("connect to %s", cfg.Broker))
	}

	return &MQTTPublisher{client: client, qos: cfg.QoS, retained: cfg.Retained, logger: logger}, nil
}

// Publish sends data to topic and waits for the broker acknowledgement
// required by the configured QoS.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	return wait(ctx, p.client.Publish(topic, p.qos, p.retained, data))
}

// Close disconnects after letting in-flight work finish.
func (p *MQTTPublisher) Close(context.Context) error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("MQTT client disconnected")
	}
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
