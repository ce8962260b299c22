package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ctcgateway/errors"
)

// gatewayStub is a websocket server whose per-connection behaviour is set by
// the test.
type gatewayStub struct {
	server  *httptest.Server
	accepts atomic.Int32
	stop    chan struct{}
}

func newGatewayStub(t *testing.T, serve func(n int32, conn *websocket.Conn, stop <-chan struct{})) *gatewayStub {
	t.Helper()

	stub := &gatewayStub{stop: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(stub.accepts.Add(1), conn, stub.stop)
	}))

	t.Cleanup(stub.server.Close)
	t.Cleanup(func() { close(stub.stop) })
	return stub
}

func (s *gatewayStub) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// echo reads frames and writes them back until the client goes away.
func echo(_ int32, conn *websocket.Conn, _ <-chan struct{}) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.PingInterval = 200 * time.Millisecond
	cfg.PongTimeout = 100 * time.Millisecond
	cfg.ReconnectBase = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond
	cfg.StableAfter = time.Hour
	return cfg
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type countingBackOff struct {
	delay  time.Duration
	resets atomic.Int32
	calls  atomic.Int32
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.calls.Add(1)
	return b.delay
}

func (b *countingBackOff) Reset() { b.resets.Add(1) }

func TestNewManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(Config{URL: "http://localhost:8080"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsInvalid(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid ws", func(*Config) {}, false},
		{"valid wss", func(c *Config) { c.URL = "wss://gateway.example:5000" }, false},
		{"http scheme", func(c *Config) { c.URL = "http://gateway:5000" }, true},
		{"missing host", func(c *Config) { c.URL = "ws://" }, true},
		{"with path", func(c *Config) { c.URL = "ws://gateway:5000/socket" }, true},
		{"pong longer than ping", func(c *Config) { c.PongTimeout = time.Minute }, true},
		{"zero base", func(c *Config) { c.ReconnectBase = 0 }, true},
		{"max below base", func(c *Config) { c.ReconnectMax = time.Millisecond }, true},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.URL = "ws://gateway:5000"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_SendFailsFastWhenNotConnected(t *testing.T) {
	mgr, err := NewManager(testConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)

	assert.Equal(t, StateDisconnected, mgr.State())
	err = mgr.Send(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	require.NoError(t, mgr.Close(context.Background()))
	err = mgr.Send(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestManager_ConnectSendReceive(t *testing.T) {
	stub := newGatewayStub(t, func(n int32, conn *websocket.Conn, stop <-chan struct{}) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		echo(n, conn, stop)
	})

	mgr, err := NewManager(testConfig(stub.URL()))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	frames := make(chan string, 10)
	mgr.OnMessage(func(data []byte) { frames <- string(data) })
	events := &eventLog{}
	mgr.OnEvent(events.record)

	require.NoError(t, mgr.Connect(context.Background()))
	assert.Equal(t, StateConnected, mgr.State())

	select {
	case got := <-frames:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no greeting received")
	}

	require.NoError(t, mgr.Send(context.Background(), []byte("ping-text")))
	select {
	case got := <-frames:
		assert.Equal(t, "ping-text", got)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	require.NoError(t, mgr.MarkAuthenticated())
	assert.Equal(t, StateAuthenticated, mgr.State())
	assert.NoError(t, mgr.Send(context.Background(), []byte("after-auth")))

	// Connect on a live socket is a no-op.
	assert.NoError(t, mgr.Connect(context.Background()))

	var opened []Opened
	for _, ev := range events.snapshot() {
		if o, ok := ev.(Opened); ok {
			opened = append(opened, o)
		}
	}
	require.Len(t, opened, 1)
	assert.False(t, opened[0].Reconnect)
}

func TestManager_MarkAuthenticatedRequiresConnection(t *testing.T) {
	mgr, err := NewManager(testConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	assert.ErrorIs(t, mgr.MarkAuthenticated(), errors.ErrNotConnected)
}

func TestManager_ReconnectsAfterServerClose(t *testing.T) {
	stub := newGatewayStub(t, func(n int32, conn *websocket.Conn, stop <-chan struct{}) {
		if n == 1 {
			time.Sleep(50 * time.Millisecond)
			return
		}
		echo(n, conn, stop)
	})

	mgr, err := NewManager(testConfig(stub.URL()))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	events := &eventLog{}
	mgr.OnEvent(events.record)

	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.MarkAuthenticated())

	require.Eventually(t, func() bool {
		return stub.accepts.Load() == 2 && mgr.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	var sawClosed, sawReconnect bool
	for _, ev := range events.snapshot() {
		switch e := ev.(type) {
		case Closed:
			sawClosed = true
		case Opened:
			if e.Reconnect {
				sawReconnect = true
			}
		}
	}
	assert.True(t, sawClosed, "expected a Closed event for the dropped socket")
	assert.True(t, sawReconnect, "expected an Opened event flagged as reconnect")

	// A new socket must be authenticated again before it counts as such.
	assert.Equal(t, StateConnected, mgr.State())
	assert.NoError(t, mgr.Send(context.Background(), []byte("x")))
}

func TestManager_HeartbeatTimeoutDropsSocket(t *testing.T) {
	// The stub never reads, so pings are never answered.
	stub := newGatewayStub(t, func(_ int32, _ *websocket.Conn, stop <-chan struct{}) {
		<-stop
	})

	mgr, err := NewManager(testConfig(stub.URL()))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	heartbeatFailed := make(chan struct{}, 1)
	mgr.OnEvent(func(ev Event) {
		if te, ok := ev.(TransportError); ok && errors.Is(te.Err, errors.ErrHeartbeatTimeout) {
			select {
			case heartbeatFailed <- struct{}{}:
			default:
			}
		}
	})

	require.NoError(t, mgr.Connect(context.Background()))

	select {
	case <-heartbeatFailed:
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat failure not reported")
	}

	require.Eventually(t, func() bool {
		return stub.accepts.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestManager_HeartbeatKeepsHealthySocket(t *testing.T) {
	stub := newGatewayStub(t, echo)

	mgr, err := NewManager(testConfig(stub.URL()))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	require.NoError(t, mgr.Connect(context.Background()))

	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, int32(1), stub.accepts.Load())
	assert.Equal(t, StateConnected, mgr.State())
}

func TestManager_CloseDisablesReconnect(t *testing.T) {
	stub := newGatewayStub(t, echo)

	mgr, err := NewManager(testConfig(stub.URL()))
	require.NoError(t, err)

	events := &eventLog{}
	mgr.OnEvent(events.record)

	require.NoError(t, mgr.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.Close(ctx))
	assert.Equal(t, StateClosed, mgr.State())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), stub.accepts.Load())

	assert.ErrorIs(t, mgr.Send(context.Background(), []byte("x")), errors.ErrNotConnected)
	assert.ErrorIs(t, mgr.Connect(context.Background()), errors.ErrClosed)
	assert.NoError(t, mgr.Close(context.Background()))

	evs := events.snapshot()
	require.NotEmpty(t, evs)
	last, ok := evs[len(evs)-1].(Closed)
	require.True(t, ok, "last event should be Closed, got %T", evs[len(evs)-1])
	assert.Equal(t, websocket.CloseNormalClosure, last.Code)
}

func TestManager_BackoffReset(t *testing.T) {
	tests := []struct {
		name       string
		upFor      time.Duration
		wantResets bool
	}{
		{"short-lived socket keeps attempt count", 0, false},
		{"stable socket resets attempt count", 150 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newGatewayStub(t, func(n int32, conn *websocket.Conn, stop <-chan struct{}) {
				if n == 1 {
					time.Sleep(tt.upFor)
					return
				}
				echo(n, conn, stop)
			})

			cfg := testConfig(stub.URL())
			cfg.StableAfter = 75 * time.Millisecond
			policy := &countingBackOff{delay: 10 * time.Millisecond}

			mgr, err := NewManager(cfg, WithBackOff(policy))
			require.NoError(t, err)
			defer mgr.Close(context.Background())

			require.NoError(t, mgr.Connect(context.Background()))
			require.Eventually(t, func() bool {
				return stub.accepts.Load() == 2 && mgr.State() == StateConnected
			}, 3*time.Second, 10*time.Millisecond)

			assert.Equal(t, tt.wantResets, policy.resets.Load() > 0)
		})
	}
}

func TestManager_ConnectGivesUp(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	cfg := testConfig(url)
	cfg.MaxReconnectAttempts = 2

	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	err = mgr.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, StateDisconnected, mgr.State())
}

func TestManager_ConnectAfterGivingUpGetsFullBudget(t *testing.T) {
	var dials atomic.Int32
	refusing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dials.Add(1)
		http.Error(w, "no upgrade", http.StatusServiceUnavailable)
	}))
	defer refusing.Close()

	cfg := testConfig("ws" + strings.TrimPrefix(refusing.URL, "http"))
	cfg.MaxReconnectAttempts = 2

	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	err = mgr.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
	assert.Equal(t, int32(3), dials.Load(), "one dial plus two retries")

	err = mgr.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
	assert.Equal(t, int32(6), dials.Load(), "second Connect retries as often as the first")
	assert.Equal(t, StateDisconnected, mgr.State())
}

func TestManager_ConnectHonorsContext(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	mgr, err := NewManager(testConfig(url))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = mgr.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, mgr.State())
}

func TestManager_CloseInterruptsConnect(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	mgr, err := NewManager(testConfig(url))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() { result <- mgr.Connect(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, mgr.Close(context.Background()))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, errors.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
}
