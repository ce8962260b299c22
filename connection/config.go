package connection

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/ctcgateway/pkg/retry"
	"github.com/c360/ctcgateway/pkg/security"
)

// Config holds the transport tunables.
type Config struct {
	URL string `json:"url" yaml:"url"`

	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval     time.Duration `json:"ping_interval" yaml:"ping_interval"`
	PongTimeout      time.Duration `json:"pong_timeout" yaml:"pong_timeout"`

	ReconnectBase time.Duration `json:"reconnect_base" yaml:"reconnect_base"`
	ReconnectMax  time.Duration `json:"reconnect_max" yaml:"reconnect_max"`
	// StableAfter is how long a connection must stay up before the backoff
	// attempt counter is reset.
	StableAfter time.Duration `json:"stable_after" yaml:"stable_after"`
	// MaxReconnectAttempts bounds consecutive failed attempts. Zero is unlimited.
	MaxReconnectAttempts int `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`

	// ReadLimit caps a single inbound frame. Waveform notifications are large.
	ReadLimit int64 `json:"read_limit" yaml:"read_limit"`

	TLS security.ClientTLSConfig `json:"tls" yaml:"tls"`
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		ReconnectBase:    retry.DefaultBase,
		ReconnectMax:     retry.DefaultMax,
		StableAfter:      30 * time.Second,
		ReadLimit:        32 << 20,
	}
}

// Validate checks the endpoint and timings.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", c.URL)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("url %q must not have a path", c.URL)
	}
	if c.PingInterval <= 0 || c.PongTimeout <= 0 {
		return fmt.Errorf("ping_interval and pong_timeout must be positive")
	}
	if c.PongTimeout >= c.PingInterval {
		return fmt.Errorf("pong_timeout %s must be shorter than ping_interval %s", c.PongTimeout, c.PingInterval)
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("reconnect_base must be positive and not above reconnect_max")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts cannot be negative")
	}
	return nil
}

// IsTLS reports whether the endpoint is wss://.
func (c Config) IsTLS() bool {
	u, err := url.Parse(c.URL)
	return err == nil && u.Scheme == "wss"
}
