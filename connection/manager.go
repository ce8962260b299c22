// Package connection owns the single websocket to the gateway: its lifecycle
// state machine, reconnection with backoff, and the ping/pong heartbeat.
package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/pkg/retry"
	"github.com/c360/ctcgateway/pkg/tlsutil"
)

// Option configures a Manager
type Option func(*Manager) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics registers connection metrics under name
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(m *Manager) error {
		m.metrics = newMetrics(registry, name)
		return nil
	}
}

// WithBackOff replaces the reconnection policy
func WithBackOff(b backoff.BackOff) Option {
	return func(m *Manager) error {
		if b == nil {
			return fmt.Errorf("nil backoff")
		}
		m.backoff = b
		return nil
	}
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) error {
		if d == nil {
			return fmt.Errorf("nil dialer")
		}
		m.dialer = d
		return nil
	}
}

// session is one established socket and the goroutines serving it.
type session struct {
	conn     *websocket.Conn
	done     chan struct{}
	pong     chan struct{}
	once     sync.Once
	openedAt time.Time
}

// shutdown tears the socket down and reports whether this call did it.
func (s *session) shutdown() bool {
	fired := false
	s.once.Do(func() {
		fired = true
		close(s.done)
		_ = s.conn.Close()
	})
	return fired
}

// Manager is the connection lifecycle state machine. Frames are delivered
// to OnMessage handlers in arrival order from a single read goroutine.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *managerMetrics
	dialer  *websocket.Dialer
	backoff backoff.BackOff

	mu      sync.RWMutex
	state   State
	session *session

	writeMu    sync.Mutex
	connecting atomic.Bool

	// ctx lives until Close and bounds dials and backoff waits.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlersMu      sync.RWMutex
	messageHandlers []func([]byte)
	eventHandlers   []func(Event)
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"connection", "NewManager", "validate config")
	}

	policy := retry.NewBackoff(cfg.ReconnectBase, cfg.ReconnectMax)
	policy.MaxAttempts = cfg.MaxReconnectAttempts

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		backoff: policy,
		state:   StateDisconnected,
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			cancel()
			return nil, errors.WrapInvalid(err, "connection", "NewManager", "apply option")
		}
	}

	if cfg.IsTLS() && m.dialer.TLSClientConfig == nil {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
		if err != nil {
			cancel()
			return nil, err
		}
		m.dialer.TLSClientConfig = tlsConfig
	}

	m.logger = m.logger.With("component", "connection")
	m.metrics.setState(StateDisconnected)
	return m, nil
}

// OnMessage registers a handler for every inbound text frame. Handlers run
// on the read goroutine and must not block.
func (m *Manager) OnMessage(fn func([]byte)) {
	m.handlersMu.Lock()
	m.messageHandlers = append(m.messageHandlers, fn)
	m.handlersMu.Unlock()
}

// OnEvent registers a lifecycle event handler.
func (m *Manager) OnEvent(fn func(Event)) {
	m.handlersMu.Lock()
	m.eventHandlers = append(m.eventHandlers, fn)
	m.handlersMu.Unlock()
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// URL returns the gateway endpoint
func (m *Manager) URL() string {
	return m.cfg.URL
}

// Connect dials the gateway and keeps retrying with backoff until a socket
// is up, ctx ends, Close is called, or the attempt limit is reached.
func (m *Manager) Connect(ctx context.Context) error {
	switch s := m.State(); s {
	case StateConnected, StateAuthenticated:
		return nil
	case StateClosing, StateClosed:
		return errors.ErrClosed
	case StateDisconnected:
	default:
		return errors.ErrConnectInProgress
	}
	if !m.connecting.CompareAndSwap(false, true) {
		return errors.ErrConnectInProgress
	}
	defer m.connecting.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	for {
		if !m.setState(StateConnecting) {
			return errors.ErrClosed
		}

		conn, err := m.dial(ctx)
		if err == nil {
			if m.attach(conn, false) {
				return nil
			}
			return errors.ErrClosed
		}

		if ctx.Err() != nil {
			return m.abortConnect(ctx)
		}

		delay := m.backoff.NextBackOff()
		if delay == backoff.Stop {
			// The next Connect starts with a fresh attempt budget.
			m.backoff.Reset()
			m.setState(StateDisconnected)
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrMaxRetriesExceeded, err),
				"connection", "Connect", "dial gateway")
		}

		m.setState(StateReconnecting)
		m.metrics.reconnectAttempt()
		m.logger.Warn("Gateway connect failed, retrying", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.abortConnect(ctx)
		case <-timer.C:
		}
	}
}

func (m *Manager) abortConnect(ctx context.Context) error {
	if m.ctx.Err() != nil {
		return errors.ErrClosed
	}
	m.setState(StateDisconnected)
	return ctx.Err()
}

// MarkAuthenticated records a successful login on the current socket.
func (m *Manager) MarkAuthenticated() error {
	m.mu.Lock()
	if m.state != StateConnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot authenticate in state %s", errors.ErrNotConnected, state)
	}
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.metrics.setState(StateAuthenticated)
	m.emit(StateChanged{From: StateConnected, To: StateAuthenticated})
	return nil
}

// Send writes one text frame. It fails fast with ErrNotConnected unless the
// state is Connected or Authenticated. Writes are serialized.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.RLock()
	state, s := m.state, m.session
	m.mu.RUnlock()

	if !state.CanSend() || s == nil {
		return fmt.Errorf("%w (state %s)", errors.ErrNotConnected, state)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.write(ctx, s, data)
	if err != nil {
		m.drop(s, "write", err)
		return &errors.TransportError{Op: "write", URL: m.cfg.URL, Err: err}
	}
	m.metrics.sent(len(data))
	return nil
}

func (m *Manager) write(ctx context.Context, s *session, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var deadline time.Time
	if m.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(m.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the connection down for good: reconnection is disabled, the
// socket is closed with a normal-closure frame and every goroutine and timer
// is released before it returns.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	from := m.state
	m.state = StateClosing
	s := m.session
	m.session = nil
	m.mu.Unlock()

	m.metrics.setState(StateClosing)
	m.emit(StateChanged{From: from, To: StateClosing})
	m.cancel()

	if s != nil {
		m.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		s.shutdown()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = errors.WrapTransient(ctx.Err(), "connection", "Close", "wait for goroutines")
	}

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()

	m.metrics.setState(StateClosed)
	m.emit(StateChanged{From: StateClosing, To: StateClosed})
	m.emit(Closed{Code: websocket.CloseNormalClosure, Reason: "client closed"})
	m.logger.Info("Gateway connection closed")
	return waitErr
}

// setState moves to a new state unless shutdown has begun.
func (m *Manager) setState(to State) bool {
	m.mu.Lock()
	from := m.state
	if from == StateClosing || from == StateClosed {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	if from != to {
		m.metrics.setState(to)
		m.emit(StateChanged{From: from, To: to})
	}
	return true
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		terr := &errors.TransportError{Op: "dial", URL: m.cfg.URL, Err: err}
		m.metrics.transportError("dial")
		m.emit(TransportError{Err: terr})
		return nil, terr
	}
	if m.cfg.ReadLimit > 0 {
		conn.SetReadLimit(m.cfg.ReadLimit)
	}
	return conn, nil
}

// attach installs a fresh socket and starts its read and heartbeat loops.
func (m *Manager) attach(conn *websocket.Conn, reconnect bool) bool {
	s := &session{
		conn:     conn,
		done:     make(chan struct{}),
		pong:     make(chan struct{}, 1),
		openedAt: time.Now(),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case s.pong <- struct{}{}:
		default:
		}
		return nil
	})

	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	from := m.state
	m.session = s
	m.state = StateConnected
	m.wg.Add(2)
	m.mu.Unlock()

	go m.readLoop(s)
	go m.heartbeat(s)

	m.metrics.setState(StateConnected)
	m.metrics.connected()
	m.logger.Info("Connected to gateway", "url", m.cfg.URL, "reconnect", reconnect)
	m.emit(StateChanged{From: from, To: StateConnected})
	m.emit(Opened{URL: m.cfg.URL, Reconnect: reconnect})
	return true
}

func (m *Manager) readLoop(s *session) {
	defer m.wg.Done()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			m.drop(s, "read", err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m.metrics.received(len(data))
		m.deliver(data)
	}
}

// heartbeat pings on every interval and drops the socket when a pong does
// not arrive within the grace window.
func (m *Manager) heartbeat(s *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		select {
		case <-s.pong:
		default:
		}

		if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.PongTimeout)); err != nil {
			m.drop(s, "ping", err)
			return
		}

		timer := time.NewTimer(m.cfg.PongTimeout)
		select {
		case <-s.pong:
			timer.Stop()
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
			m.metrics.heartbeatFailure()
			m.drop(s, "heartbeat", fmt.Errorf("%w: no pong within %s", errors.ErrHeartbeatTimeout, m.cfg.PongTimeout))
			return
		}
	}
}

// drop handles the loss of a socket that Close did not initiate.
func (m *Manager) drop(s *session, op string, cause error) {
	if !s.shutdown() {
		return
	}

	m.mu.Lock()
	if m.session != s || m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.session = nil
	m.state = StateReconnecting
	m.wg.Add(1)
	m.mu.Unlock()

	uptime := time.Since(s.openedAt)
	if uptime >= m.cfg.StableAfter {
		m.backoff.Reset()
	}

	code, reason := closeDetails(cause)
	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.metrics.transportError(op)
		m.emit(TransportError{Err: &errors.TransportError{Op: op, URL: m.cfg.URL, Err: cause}})
	}
	m.logger.Warn("Gateway connection lost", "op", op, "error", cause, "uptime", uptime)

	m.metrics.setState(StateReconnecting)
	m.emit(Closed{Code: code, Reason: reason})
	m.emit(StateChanged{From: from, To: StateReconnecting})

	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	m.connecting.Store(true)
	defer m.connecting.Store(false)

	for {
		delay := m.backoff.NextBackOff()
		if delay == backoff.Stop {
			m.logger.Error("Giving up on gateway reconnection")
			m.backoff.Reset()
			m.setState(StateDisconnected)
			m.emit(TransportError{Err: errors.WrapFatal(errors.ErrMaxRetriesExceeded,
				"connection", "reconnect", "reconnect to gateway")})
			return
		}
		m.metrics.reconnectAttempt()
		m.logger.Info("Reconnecting to gateway", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !m.setState(StateConnecting) {
			return
		}
		conn, err := m.dial(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil || !m.setState(StateReconnecting) {
				return
			}
			continue
		}
		m.attach(conn, true)
		return
	}
}

func (m *Manager) deliver(data []byte) {
	m.handlersMu.RLock()
	handlers := m.messageHandlers
	m.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(data)
	}
}

func (m *Manager) emit(ev Event) {
	m.handlersMu.RLock()
	handlers := m.eventHandlers
	m.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
