package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/metric"
)

// Sink types accepted in Config.Type.
const (
	TypeLog  = "log"
	TypeNATS = "nats"
	TypeMQTT = "mqtt"
)

// DefaultSubject prefixes every published result.
const DefaultSubject = "ctcgw.readings"

// Config describes one result sink.
type Config struct {
	Type string `json:"type" yaml:"type"`
	// Subject is the NATS subject or MQTT topic prefix. The sensor serial is
	// appended.
	Subject string        `json:"subject,omitempty" yaml:"subject,omitempty"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	MQTT    MQTTConfig    `json:"mqtt" yaml:"mqtt"`
}

// ApplyDefaults fills the zero fields for the configured type.
func (c *Config) ApplyDefaults() {
	if c.Breaker == (BreakerConfig{}) {
		c.Breaker = DefaultBreakerConfig()
	}
	switch c.Type {
	case TypeNATS:
		if c.Subject == "" {
			c.Subject = DefaultSubject
		}
		d := DefaultNATSConfig()
		if c.NATS.URL == "" {
			c.NATS.URL = d.URL
		}
		if c.NATS.Name == "" {
			c.NATS.Name = d.Name
		}
		if c.NATS.Timeout == 0 {
			c.NATS.Timeout = d.Timeout
		}
		if c.NATS.MaxReconnects == 0 {
			c.NATS.MaxReconnects = d.MaxReconnects
		}
		if c.NATS.ReconnectWait == 0 {
			c.NATS.ReconnectWait = d.ReconnectWait
		}
	case TypeMQTT:
		if c.Subject == "" {
			c.Subject = "ctcgw/readings"
		}
		d := DefaultMQTTConfig()
		if c.MQTT.Broker == "" {
			c.MQTT.Broker = d.Broker
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = d.ClientID
		}
		if c.MQTT.ConnectTimeout == 0 {
			c.MQTT.ConnectTimeout = d.ConnectTimeout
		}
	}
}

// Validate checks the type and its transport settings.
func (c Config) Validate() error {
	switch c.Type {
	case TypeLog:
		return nil
	case TypeNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required")
		}
		return nil
	case TypeMQTT:
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown sink type %q", c.Type)
	}
}

// Build connects every configured sink and returns them as one Fanout.
// Sinks already connected are closed when a later one fails.
func Build(ctx context.Context, cfgs []Config, logger *slog.Logger, registry *metric.MetricsRegistry) (Fanout, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out Fanout
	for i, cfg := range cfgs {
		s, err := build(ctx, cfg, logger, registry)
		if err != nil {
			_ = out.Close(ctx)
			return nil, errors.Wrap(err, "sink", "Build", fmt.Sprintf("build sink %d (%s)", i, cfg.Type))
		}
		out = append(out, s)
	}
	return out, nil
}

func build(ctx context.Context, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (Sink, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "sink", "build", "validate config")
	}

	opts := []ResultOption{WithLogger(logger), WithMetrics(registry)}
	switch cfg.Type {
	case TypeNATS:
		p, err := ConnectNATS(ctx, cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		return NewResultSink(TypeNATS, p, cfg.Subject, cfg.Breaker, opts...), nil
	case TypeMQTT:
		p, err := ConnectMQTT(ctx, cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSeparator("/"))
		return NewResultSink(TypeMQTT, p, cfg.Subject, cfg.Breaker, opts...), nil
	default:
		return NewLogSink(logger), nil
	}
}
