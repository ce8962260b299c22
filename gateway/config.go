package gateway

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/ctcgateway/acquisition"
	"github.com/c360/ctcgateway/auth"
	"github.com/c360/ctcgateway/connection"
)

// Config is everything a Client needs for one gateway.
type Config struct {
	Connection  connection.Config  `json:"connection" yaml:"connection"`
	Credentials auth.Credentials   `json:"credentials" yaml:"credentials"`
	Acquisition acquisition.Config `json:"acquisition" yaml:"acquisition"`

	// PreferredSerial selects a sensor when it is connected. Empty picks the
	// first connected sensor.
	PreferredSerial string `json:"preferred_serial,omitempty" yaml:"preferred_serial,omitempty"`

	// CommandTimeout is the default round-trip deadline for every command.
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout"`

	// RateLimit caps outbound commands per second. Zero disables it.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RateBurst int     `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`

	// ReauthOnReconnect logs in again, and re-subscribes when a
	// subscription was active, after every automatic reconnect.
	ReauthOnReconnect bool `json:"reauth_on_reconnect" yaml:"reauth_on_reconnect"`
}

// DefaultConfig returns the standard settings without endpoint or
// credentials.
func DefaultConfig() Config {
	return Config{
		Connection:        connection.DefaultConfig(),
		Acquisition:       acquisition.DefaultConfig(),
		CommandTimeout:    30 * time.Second,
		ReauthOnReconnect: true,
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Connection.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connection: %w", err))
	}
	if err := c.Credentials.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("credentials: %w", err))
	}
	if err := c.Acquisition.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("acquisition: %w", err))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("command_timeout cannot be negative"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit and rate_burst cannot be negative"))
	}
	return stderrors.Join(errs...)
}
