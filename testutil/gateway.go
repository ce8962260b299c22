package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/ctcgateway/protocol"
)

// Default credentials accepted by a FakeGateway.
const (
	FakeEmail    = "operator@example.com"
	FakePassword = "s3cret"
)

// DefaultSensors is the GET_DYN_CONNECTED reply of a FakeGateway: one
// connected sensor keyed by its serial.
const DefaultSensors = `{"1234": {"Serial": 1234, "PartNum": "CTC-VIB", "ReadRate": 20000, "Samples": 3, "GMode": "10g", "FreqMode": 1, "HwVer": "2", "FmVer": "3.1", "Connected": 1}}`

// Reading scripts the notifications pushed after TAKE_DYN_READING.
type Reading struct {
	ID      int
	Time    string
	X, Y, Z string
	// Temp is pushed as NOT_DYN_TEMP when set.
	Temp *float64
	// FailReason makes NOT_DYN_READING_STARTED report Success=false.
	FailReason string
	// Silent suppresses every notification after the acknowledgement.
	Silent bool
}

// DefaultReading decodes to three samples per axis.
func DefaultReading() Reading {
	temp := 21.5
	return Reading{
		ID:   77,
		Time: "2024-05-01T10:00:00Z",
		X:    "1.0,2.0,3.0",
		Y:    "0.5,1.5,2.5",
		Z:    "-1,0,1",
		Temp: &temp,
	}
}

// Handler answers one inbound command on a fake connection.
type Handler func(c *FakeConn, env protocol.Envelope)

// FakeGateway is a scripted gateway websocket server for tests. It checks
// credentials, gates commands on login, replies to the five client
// commands and pushes reading notifications to subscribed connections.
type FakeGateway struct {
	t        testing.TB
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	email         string
	password      string
	sensors       string
	reading       Reading
	correlate     bool
	ignorePings   bool
	handlers      map[protocol.MessageType]Handler
	conns         map[*FakeConn]struct{}
	received      []protocol.MessageType
	connects      int
	pushBeforeAck bool
}

// GatewayOption configures a FakeGateway
type GatewayOption func(*FakeGateway)

// WithCredentials sets the accepted login.
func WithCredentials(email, password string) GatewayOption {
	return func(g *FakeGateway) {
		g.email, g.password = email, password
	}
}

// WithSensors sets the raw GET_DYN_CONNECTED dictionary.
func WithSensors(raw string) GatewayOption {
	return func(g *FakeGateway) {
		g.sensors = raw
	}
}

// WithReading sets the notifications pushed for TAKE_DYN_READING.
func WithReading(r Reading) GatewayOption {
	return func(g *FakeGateway) {
		g.reading = r
	}
}

// WithoutCorrelation makes replies omit CorrelationId.
func WithoutCorrelation() GatewayOption {
	return func(g *FakeGateway) {
		g.correlate = false
	}
}

// WithNotificationsBeforeAck pushes reading notifications before the
// RTN_DYN_READING acknowledgement.
func WithNotificationsBeforeAck() GatewayOption {
	return func(g *FakeGateway) {
		g.pushBeforeAck = true
	}
}

// WithIgnoredPings stops the server from answering websocket pings.
func WithIgnoredPings() GatewayOption {
	return func(g *FakeGateway) {
		g.ignorePings = true
	}
}

// WithHandler overrides the reply for one command type.
func WithHandler(t protocol.MessageType, h Handler) GatewayOption {
	return func(g *FakeGateway) {
		g.handlers[t] = h
	}
}

// NewFakeGateway starts a gateway on a random local port. It is shut down
// when the test ends.
func NewFakeGateway(t testing.TB, opts ...GatewayOption) *FakeGateway {
	t.Helper()

	g := &FakeGateway{
		t:         t,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		email:     FakeEmail,
		password:  FakePassword,
		sensors:   DefaultSensors,
		reading:   DefaultReading(),
		correlate: true,
		handlers:  make(map[protocol.MessageType]Handler),
		conns:     make(map[*FakeConn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Close)
	return g
}

// URL returns the ws:// endpoint.
func (g *FakeGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// Close drops every connection and stops the server.
func (g *FakeGateway) Close() {
	g.DropConnections()
	g.server.Close()
}

// Connects returns how many sockets were accepted.
func (g *FakeGateway) Connects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects
}

// Received returns the command types received, in order, across all
// connections.
func (g *FakeGateway) Received() []protocol.MessageType {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]protocol.MessageType(nil), g.received...)
}

// Count returns how often t was received.
func (g *FakeGateway) Count(t protocol.MessageType) int {
	n := 0
	for _, r := range g.Received() {
		if r == t {
			n++
		}
	}
	return n
}

// DropConnections closes every open socket without a close handshake.
func (g *FakeGateway) DropConnections() {
	g.mu.Lock()
	conns := make([]*FakeConn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// Push sends a notification to every subscribed connection.
func (g *FakeGateway) Push(t protocol.MessageType, data any) {
	g.mu.Lock()
	conns := make([]*FakeConn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if c.Subscribed() {
			c.Send(t, "", data)
		}
	}
}

func (g *FakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &FakeConn{gateway: g, ws: ws}
	if g.ignorePings {
		ws.SetPingHandler(func(string) error { return nil })
	}

	g.mu.Lock()
	g.connects++
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.conns, c)
		g.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.t.Logf("fake gateway: undecodable frame: %v", err)
			continue
		}

		g.mu.Lock()
		g.received = append(g.received, env.Type)
		h, ok := g.handlers[env.Type]
		g.mu.Unlock()

		if ok {
			h(c, env)
			continue
		}
		g.handle(c, env)
	}
}

func (g *FakeGateway) handle(c *FakeConn, env protocol.Envelope) {
	if env.Type != protocol.TypeLogin && !c.Authenticated() {
		c.Reject(env, "not logged in")
		return
	}

	switch env.Type {
	case protocol.TypeLogin:
		var login protocol.LoginPayload
		_ = json.Unmarshal(env.Data, &login)
		g.mu.Lock()
		ok := login.Email == g.email && login.Password == g.password
		g.mu.Unlock()
		if !ok {
			c.Reject(env, "invalid credentials")
			return
		}
		c.mu.Lock()
		c.authenticated = true
		c.mu.Unlock()
		c.Reply(env, protocol.TypeLoginResponse, map[string]any{"Success": true})

	case protocol.TypeGetConnected:
		g.mu.Lock()
		sensors := json.RawMessage(g.sensors)
		g.mu.Unlock()
		c.Reply(env, protocol.TypeConnectedResponse, sensors)

	case protocol.TypeSubscribe:
		c.setSubscribed(true)
		c.Reply(env, protocol.TypeSubscribeResponse, map[string]any{"Success": true})

	case protocol.TypeUnsubscribe:
		c.setSubscribed(false)
		c.Reply(env, protocol.TypeUnsubscribeResponse, map[string]any{"Success": true})

	case protocol.TypeTakeDynReading:
		var req struct {
			Serial json.Number `json:"Serial"`
		}
		_ = json.Unmarshal(env.Data, &req)

		g.mu.Lock()
		reading, before := g.reading, g.pushBeforeAck
		g.mu.Unlock()

		if before {
			c.pushReading(req.Serial, reading)
			c.Reply(env, protocol.TypeReadingResponse, map[string]any{"Success": true})
			return
		}
		c.Reply(env, protocol.TypeReadingResponse, map[string]any{"Success": true})
		go func() {
			time.Sleep(5 * time.Millisecond)
			c.pushReading(req.Serial, reading)
		}()

	default:
		c.Reject(env, "unknown command")
	}
}

// FakeConn is one client socket on a FakeGateway.
type FakeConn struct {
	gateway *FakeGateway
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	subscribed    bool
}

// Authenticated reports whether POST_LOGIN succeeded on this socket.
func (c *FakeConn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Subscribed reports whether POST_SUB_CHANGES succeeded on this socket.
func (c *FakeConn) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *FakeConn) setSubscribed(v bool) {
	c.mu.Lock()
	c.subscribed = v
	c.mu.Unlock()
}

// Reply answers env with a response of type t.
func (c *FakeConn) Reply(env protocol.Envelope, t protocol.MessageType, data any) {
	id := env.CorrelationID
	c.gateway.mu.Lock()
	if !c.gateway.correlate {
		id = ""
	}
	c.gateway.mu.Unlock()
	c.Send(t, id, data)
}

// Reject answers env with RTN_ERR.
func (c *FakeConn) Reject(env protocol.Envelope, reason string) {
	c.Reply(env, protocol.TypeError, protocol.ErrorPayload{Attempt: string(env.Type), Error: reason})
}

// Send writes one frame from the gateway.
func (c *FakeConn) Send(t protocol.MessageType, correlationID string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.gateway.t.Errorf("fake gateway: marshal %s: %v", t, err)
		return
	}
	frame, err := json.Marshal(protocol.Envelope{
		Type:          t,
		From:          "SERV",
		To:            "UI",
		Data:          raw,
		CorrelationID: correlationID,
	})
	if err != nil {
		c.gateway.t.Errorf("fake gateway: marshal frame: %v", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *FakeConn) pushReading(serial json.Number, r Reading) {
	if r.Silent || !c.Subscribed() {
		return
	}
	if r.FailReason != "" {
		c.Send(protocol.TypeReadingStarted, "", map[string]any{"Serial": serial, "Success": false, "Reason": r.FailReason})
		return
	}
	c.Send(protocol.TypeReadingStarted, "", map[string]any{"Serial": serial, "Success": true})
	c.Send(protocol.TypeReading, "", map[string]any{
		"ID": r.ID, "Serial": serial, "Time": r.Time, "X": r.X, "Y": r.Y, "Z": r.Z,
	})
	if r.Temp != nil {
		c.Send(protocol.TypeTemperature, "", map[string]any{"Serial": serial, "Temp": *r.Temp, "Time": r.Time})
	}
}
