// Package auth performs the gateway login and gates the connection's
// Authenticated state on its outcome.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/ctcgateway/command"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/protocol"
)

// Commander sends correlated commands. command.Router satisfies it.
type Commander interface {
	Send(ctx context.Context, cmd protocol.MessageType, payload any, opts ...command.Option) (*protocol.Message, error)
}

// StateMarker records a successful login. connection.Manager satisfies it.
type StateMarker interface {
	MarkAuthenticated() error
}

// Credentials for POST_LOGIN.
type Credentials struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password" yaml:"password"`
}

// Validate checks that both fields are present.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "email")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// String never prints the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email: %s, Password: ***}", c.Email)
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("email", c.Email))
}

// Authenticator runs the login flow.
type Authenticator struct {
	commander Commander
	marker    StateMarker
	logger    *slog.Logger
	timeout   time.Duration
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTimeout bounds the POST_LOGIN round trip. Zero uses the router default.
func WithTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		a.timeout = d
	}
}

// New creates an Authenticator.
func New(commander Commander, marker StateMarker, opts ...Option) *Authenticator {
	a := &Authenticator{
		commander: commander,
		marker:    marker,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "auth")
	return a
}

// Authenticate sends POST_LOGIN and, only on a correlated RTN_LOGIN that
// does not report failure, marks the connection Authenticated. Every other
// outcome is an *errors.AuthenticationError; nothing is retried here.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return &errors.AuthenticationError{Reason: "incomplete credentials", Err: err}
	}

	var opts []command.Option
	if a.timeout > 0 {
		opts = append(opts, command.WithTimeout(a.timeout))
	}

	a.logger.Debug("Logging in", "credentials", creds)
	msg, err := a.commander.Send(ctx, protocol.TypeLogin,
		protocol.LoginPayload{Email: creds.Email, Password: creds.Password}, opts...)
	if err != nil {
		if rejected, ok := errors.IsRejected(err); ok {
			return &errors.AuthenticationError{Reason: "gateway refused login", Err: rejected}
		}
		return &errors.AuthenticationError{Reason: "login did not complete", Err: err}
	}

	if msg.Type != protocol.TypeLoginResponse {
		return &errors.AuthenticationError{
			Reason: "malformed login response",
			Err:    fmt.Errorf("%w: %s", errors.ErrUnexpectedResponse, msg.Type),
		}
	}
	if reason, refused := loginRefused(msg); refused {
		return &errors.AuthenticationError{Reason: "gateway refused login", Err: fmt.Errorf("%s", reason)}
	}

	if err := a.marker.MarkAuthenticated(); err != nil {
		return &errors.AuthenticationError{Reason: "connection changed during login", Err: err}
	}

	a.logger.Info("Authenticated with gateway", "email", creds.Email)
	return nil
}

// loginRefused inspects an optional Success flag in RTN_LOGIN.
func loginRefused(msg *protocol.Message) (string, bool) {
	if len(msg.Data) == 0 {
		return "", false
	}
	var status protocol.StatusPayload
	if err := msg.DecodeData(&status); err != nil {
		return "", false
	}
	if status.Success != nil && !*status.Success {
		if status.Message == "" {
			return "login reported Success=false", true
		}
		return status.Message, true
	}
	return "", false
}
