package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"

	"github.com/c360/ctcgateway/gateway"
	"github.com/c360/ctcgateway/pkg/security"
	"github.com/c360/ctcgateway/sink"
)

// Config is the complete process configuration.
type Config struct {
	Gateway  gateway.Config  `json:"gateway" yaml:"gateway"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	Security security.Config `json:"security,omitempty" yaml:"security,omitempty"`
	Sinks    []sink.Config   `json:"sinks,omitempty" yaml:"sinks,omitempty"`
}

// MetricsConfig controls the /metrics and /health listener.
type MetricsConfig struct {
	// Port 0 disables the listener.
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"`
}

// Default returns a configuration with every tunable at its standard value.
// Endpoint and credentials are left empty.
func Default() *Config {
	return &Config{
		Gateway: gateway.DefaultConfig(),
		Metrics: MetricsConfig{Path: "/metrics"},
		Sinks:   []sink.Config{{Type: sink.TypeLog}},
	}
}

// ApplyDefaults fills zero values that a file may have cleared explicitly.
func (c *Config) ApplyDefaults() {
	d := Default()

	conn := &c.Gateway.Connection
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = d.Gateway.Connection.HandshakeTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = d.Gateway.Connection.WriteTimeout
	}
	if conn.PingInterval == 0 {
		conn.PingInterval = d.Gateway.Connection.PingInterval
	}
	if conn.PongTimeout == 0 {
		conn.PongTimeout = d.Gateway.Connection.PongTimeout
	}
	if conn.ReconnectBase == 0 {
		conn.ReconnectBase = d.Gateway.Connection.ReconnectBase
	}
	if conn.ReconnectMax == 0 {
		conn.ReconnectMax = d.Gateway.Connection.ReconnectMax
	}
	if conn.StableAfter == 0 {
		conn.StableAfter = d.Gateway.Connection.StableAfter
	}
	if conn.ReadLimit == 0 {
		conn.ReadLimit = d.Gateway.Connection.ReadLimit
	}

	acq := &c.Gateway.Acquisition
	if acq.DataTimeout == 0 {
		acq.DataTimeout = d.Gateway.Acquisition.DataTimeout
	}
	if acq.TemperatureTimeout == 0 {
		acq.TemperatureTimeout = d.Gateway.Acquisition.TemperatureTimeout
	}
	if acq.DedupWindow == 0 {
		acq.DedupWindow = d.Gateway.Acquisition.DedupWindow
	}
	if acq.Decoder.MinSamples == 0 {
		acq.Decoder.MinSamples = d.Gateway.Acquisition.Decoder.MinSamples
	}
	if acq.Decoder.MinValue == 0 && acq.Decoder.MaxValue == 0 {
		acq.Decoder.MinValue = d.Gateway.Acquisition.Decoder.MinValue
		acq.Decoder.MaxValue = d.Gateway.Acquisition.Decoder.MaxValue
	}

	if c.Gateway.CommandTimeout == 0 {
		c.Gateway.CommandTimeout = d.Gateway.CommandTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	for i := range c.Sinks {
		c.Sinks[i].ApplyDefaults()
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}
	if c.Metrics.Port > 0 && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("metrics.path must start with /"))
	}
	if err := c.validateSecurity(); err != nil {
		errs = append(errs, err)
	}
	for i, s := range c.Sinks {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d]: %w", i, err))
		}
	}
	return stderrors.Join(errs...)
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled && (server.CertFile == "" || server.KeyFile == "") {
		return fmt.Errorf("security.tls.server requires cert_file and key_file when enabled")
	}
	if err := validateTLSVersion(server.MinVersion); err != nil {
		return fmt.Errorf("security.tls.server: %w", err)
	}

	client := c.Gateway.Connection.TLS
	if client.MTLS.Enabled && (client.MTLS.CertFile == "" || client.MTLS.KeyFile == "") {
		return fmt.Errorf("gateway.connection.tls.mtls requires cert_file and key_file when enabled")
	}
	if err := validateTLSVersion(client.MinVersion); err != nil {
		return fmt.Errorf("gateway.connection.tls: %w", err)
	}
	return nil
}

func validateTLSVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("unsupported TLS min_version %q (want 1.2 or 1.3)", version)
	}
}

// Freeze returns a deep copy for components to keep. Later changes to c do
// not reach it.
func (c *Config) Freeze() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

var secretPattern = regexp.MustCompile(`("(?:password|token)"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// String renders the configuration as JSON with secrets masked.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return secretPattern.ReplaceAllString(string(data), `$1"***"`)
}
