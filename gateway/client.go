package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/ctcgateway/acquisition"
	"github.com/c360/ctcgateway/auth"
	"github.com/c360/ctcgateway/command"
	"github.com/c360/ctcgateway/connection"
	"github.com/c360/ctcgateway/discovery"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/health"
	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/notification"
	"github.com/c360/ctcgateway/protocol"
)

// Health component names reported by a Client.
const (
	HealthConnection   = "connection"
	HealthSubscription = "subscription"
	HealthAcquisition  = "acquisition"
)

// restoreTimeout bounds re-authentication after a reconnect.
const restoreTimeout = 30 * time.Second

// Client drives one gateway: a single connection shared by the command
// router, the notification bus and the flows built on them.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	health   *health.Monitor
	connOpts []connection.Option

	conn      *connection.Manager
	router    *command.Router
	bus       *notification.Bus
	auth      *auth.Authenticator
	discovery *discovery.Discoverer
	acquirer  *acquisition.Orchestrator

	// authenticated is set after the first successful login; reconnects
	// restore the session only once it is.
	authenticated atomic.Bool
	// wantSubscribed tracks what the caller asked for, independent of the
	// per-connection flag on the bus.
	wantSubscribed atomic.Bool

	mu      sync.Mutex
	closing bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger passed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics registers every component's metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Client) {
		c.registry = registry
	}
}

// WithHealthMonitor reports component health to monitor instead of a
// private one.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(c *Client) {
		if monitor != nil {
			c.health = monitor
		}
	}
}

// WithConnectionOption forwards an option to the connection manager, for
// example a custom dialer or backoff policy.
func WithConnectionOption(opt connection.Option) Option {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, opt)
	}
}

// New wires the components. Nothing touches the network until Connect.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "gateway", "New", "validate config")
	}

	c := &Client{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.health == nil {
		var recorder health.Recorder
		if c.registry != nil {
			recorder = c.registry.CoreMetrics()
		}
		c.health = health.NewMonitor(recorder)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	connOpts := append([]connection.Option{
		connection.WithLogger(c.logger),
		connection.WithMetrics(c.registry, "connection"),
	}, c.connOpts...)
	conn, err := connection.NewManager(cfg.Connection, connOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	routerOpts := []command.RouterOption{
		command.WithLogger(c.logger),
		command.WithMetrics(c.registry, "router"),
		command.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	}
	if cfg.CommandTimeout > 0 {
		routerOpts = append(routerOpts, command.WithDefaultTimeout(cfg.CommandTimeout))
	}
	if c.router, err = command.NewRouter(conn, routerOpts...); err != nil {
		return nil, err
	}

	c.bus = notification.NewBus(c.router,
		notification.WithLogger(c.logger),
		notification.WithMetrics(c.registry, "notifications"))
	c.auth = auth.New(c.router, conn, auth.WithLogger(c.logger))
	c.discovery = discovery.New(c.router,
		discovery.WithLogger(c.logger),
		discovery.WithPreferredSerial(cfg.PreferredSerial))

	c.acquirer, err = acquisition.New(cfg.Acquisition, c.router, c.bus,
		acquisition.WithLogger(c.logger),
		acquisition.WithMetrics(c.registry, "acquisition"))
	if err != nil {
		return nil, err
	}

	conn.OnMessage(c.route)
	conn.OnEvent(c.onConnectionEvent)
	c.health.UpdateUnhealthy(HealthConnection, "not connected")
	return c, nil
}

// Connect opens the socket and logs in. It blocks through reconnection
// backoff until connected, ctx is done or the attempt limit is reached.
// An authentication failure leaves the socket open; call Close.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	if err := c.auth.Authenticate(ctx, c.cfg.Credentials); err != nil {
		c.health.UpdateError(HealthConnection, err)
		return err
	}
	c.authenticated.Store(true)
	c.health.UpdateHealthy(HealthConnection, "authenticated")
	return nil
}

// Discover lists the sensors and applies the selection policy.
func (c *Client) Discover(ctx context.Context) (discovery.Selection, []protocol.SensorMetadata, error) {
	return c.discovery.Run(ctx)
}

// Subscribe enables notifications on the current connection and, with
// ReauthOnReconnect, on every later one.
func (c *Client) Subscribe(ctx context.Context) error {
	c.wantSubscribed.Store(true)
	if err := c.bus.Subscribe(ctx); err != nil {
		c.health.UpdateError(HealthSubscription, err)
		return err
	}
	c.health.UpdateHealthy(HealthSubscription, "subscribed")
	return nil
}

// Unsubscribe is best effort; the error is informational.
func (c *Client) Unsubscribe(ctx context.Context) error {
	c.wantSubscribed.Store(false)
	err := c.bus.Unsubscribe(ctx)
	c.health.UpdateDegraded(HealthSubscription, "unsubscribed")
	return err
}

// AcquireReading runs one acquisition on serial.
func (c *Client) AcquireReading(ctx context.Context, serial protocol.Serial) (*acquisition.Result, error) {
	res, err := c.acquirer.AcquireReading(ctx, serial)
	if err != nil {
		c.health.UpdateDegraded(HealthAcquisition, err.Error())
		return nil, err
	}
	c.health.UpdateHealthy(HealthAcquisition, fmt.Sprintf("reading %s from %s", res.Metadata.ReadingID, res.Metadata.Serial))
	return res, nil
}

// Close ends an acquisition in progress, fails outstanding commands, closes
// the socket and waits for background work. Further calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.cancel()
	c.acquirer.Shutdown()
	c.router.Shutdown()
	err := c.conn.Close(ctx)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "gateway", "Close", "wait for session restore")
	}

	c.health.UpdateUnhealthy(HealthConnection, "closed")
	return err
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.conn.State()
}

// Subscribed reports whether notifications are enabled on the current
// connection.
func (c *Client) Subscribed() bool {
	return c.bus.Subscribed()
}

// Health returns the monitor the client reports to.
func (c *Client) Health() *health.Monitor {
	return c.health
}

// Notifications exposes the bus for callers that want raw events.
func (c *Client) Notifications() *notification.Bus {
	return c.bus
}

// route classifies one inbound frame: responses go to the router and
// everything else to the bus.
func (c *Client) route(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		if msg != nil && msg.Event != nil {
			c.logger.Warn("Notification failed validation", "type", msg.Type, "error", err)
			c.bus.Dispatch(msg)
			return
		}
		c.logger.Warn("Discarding undecodable frame", "error", err, "frame", protocol.Redact(raw))
		return
	}

	if msg.Kind == protocol.KindResponse {
		c.router.HandleResponse(msg)
		return
	}
	c.bus.Dispatch(msg)
}

func (c *Client) onConnectionEvent(ev connection.Event) {
	switch e := ev.(type) {
	case connection.Opened:
		c.health.UpdateDegraded(HealthConnection, "connected, not authenticated")
		if e.Reconnect && c.cfg.ReauthOnReconnect && c.authenticated.Load() {
			c.startRestore()
		}
	case connection.Closed:
		c.bus.ResetSubscription()
		if c.wantSubscribed.Load() {
			c.health.UpdateDegraded(HealthSubscription, "lost with connection")
		}
		c.health.UpdateUnhealthy(HealthConnection, fmt.Sprintf("closed (%d %s)", e.Code, e.Reason))
	case connection.TransportError:
		c.logger.Debug("Transport error", "error", e.Err)
	}
}

func (c *Client) startRestore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	c.wg.Add(1)
	go c.restore()
}

// restore logs in again on a fresh socket and re-subscribes if the caller
// had subscribed. A failed login is logged and leaves the state Connected.
func (c *Client) restore() {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, restoreTimeout)
	defer cancel()

	if err := c.auth.Authenticate(ctx, c.cfg.Credentials); err != nil {
		c.logger.Error("Re-authentication after reconnect failed", "error", err)
		c.health.UpdateError(HealthConnection, err)
		return
	}
	c.health.UpdateHealthy(HealthConnection, "re-authenticated")

	if !c.wantSubscribed.Load() {
		return
	}
	if err := c.bus.Subscribe(ctx); err != nil {
		c.logger.Error("Re-subscribe after reconnect failed", "error", err)
		c.health.UpdateError(HealthSubscription, err)
		return
	}
	c.health.UpdateHealthy(HealthSubscription, "re-subscribed")
}
