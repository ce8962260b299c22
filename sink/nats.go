package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/pkg/retry"
)

// NATSConfig configures the NATS result publisher.
type NATSConfig struct {
	URL           string        `json:"url" yaml:"url"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
}

// DefaultNATSConfig returns the standard connection settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "ctcgw",
		Timeout:       5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes raw payloads over a NATS core connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// ConnectNATS dials the server, retrying quickly while it comes up.
func ConnectNATS(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSPublisher", "ConnectNATS", "read url")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-sink")

	p := &NATSPublisher{logger: logger}
	conn, err := retry.DoWithResult(ctx, retry.Quick(), func() (*nats.Conn, error) {
		return nats.Connect(cfg.URL, p.options(cfg)...)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSPublisher", "ConnectNATS", fmt.Sprintf("connect to %s", cfg.URL))
	}
	p.conn = conn
	logger.Info("Connected to NATS", "url", conn.ConnectedUrl())
	return p, nil
}

func (p *NATSPublisher) options(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			p.logger.Debug("NATS connection closed")
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	return opts
}

// Publish sends data and flushes so the server has acknowledged receipt
// before returning.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
