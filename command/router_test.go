package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/protocol"
)

// fakeConn records frames written by the router.
type fakeConn struct {
	mu   sync.Mutex
	sent chan protocol.Envelope
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{sent: make(chan protocol.Envelope, 16)}
}

func (f *fakeConn) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.sent <- env
	return nil
}

func (f *fakeConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-f.sent:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no command sent")
		return protocol.Envelope{}
	}
}

func response(t *testing.T, typ protocol.MessageType, correlationID, data string) *protocol.Message {
	t.Helper()
	frame := fmt.Sprintf(`{"Type":%q,"From":"SERV","To":"UI","Data":%s`, typ, data)
	if correlationID != "" {
		frame += fmt.Sprintf(`,"CorrelationId":%q`, correlationID)
	}
	frame += "}"
	msg, err := protocol.Decode([]byte(frame))
	require.NoError(t, err)
	return msg
}

type sendResult struct {
	msg *protocol.Message
	err error
}

func sendAsync(r *Router, cmd protocol.MessageType, payload any, opts ...Option) <-chan sendResult {
	out := make(chan sendResult, 1)
	go func() {
		msg, err := r.Send(context.Background(), cmd, payload, opts...)
		out <- sendResult{msg, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("Send did not return")
		return sendResult{}
	}
}

func TestNewRouter_RequiresSender(t *testing.T) {
	_, err := NewRouter(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	_, err = NewRouter(newFakeConn(), WithDefaultTimeout(-time.Second))
	assert.Error(t, err)
}

func TestRouter_CorrelatedResponse(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeGetConnected, nil)
	env := conn.next(t)

	assert.Equal(t, protocol.TypeGetConnected, env.Type)
	assert.Equal(t, protocol.DefaultFrom, env.From)
	assert.Equal(t, protocol.DefaultTo, env.To)
	assert.NotEmpty(t, env.CorrelationID)
	assert.JSONEq(t, `{}`, string(env.Data))
	assert.Equal(t, 1, r.Pending())

	assert.True(t, r.HandleResponse(response(t, protocol.TypeConnectedResponse, env.CorrelationID, `{}`)))

	res := await(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, protocol.TypeConnectedResponse, res.msg.Type)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_UniqueCorrelationIDs(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn, WithDefaultTimeout(time.Second))
	require.NoError(t, err)

	const n = 8
	results := make([]<-chan sendResult, n)
	for i := range results {
		results[i] = sendAsync(r, protocol.TypeGetConnected, nil)
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		env := conn.next(t)
		assert.False(t, seen[env.CorrelationID], "duplicate id %s", env.CorrelationID)
		seen[env.CorrelationID] = true
	}
	assert.Equal(t, n, r.Pending())

	for id := range seen {
		require.True(t, r.HandleResponse(response(t, protocol.TypeConnectedResponse, id, `{}`)))
	}
	for _, ch := range results {
		assert.NoError(t, await(t, ch).err)
	}
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_TimeoutAndLateResponse(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeTakeDynReading, protocol.ReadingRequest{Serial: "1234"}, WithTimeout(50*time.Millisecond))
	env := conn.next(t)

	res := await(t, ch)
	require.Error(t, res.err)
	var timeout *errors.CommandTimeoutError
	require.True(t, errors.As(res.err, &timeout))
	assert.Equal(t, string(protocol.TypeTakeDynReading), timeout.Command)
	assert.Equal(t, env.CorrelationID, timeout.CorrelationID)
	assert.True(t, errors.IsTransient(res.err))
	assert.Equal(t, 0, r.Pending())

	// A late reply for the expired id is discarded without effect.
	assert.False(t, r.HandleResponse(response(t, protocol.TypeReadingResponse, env.CorrelationID, `{}`)))
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_RejectedCommand(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeLogin, protocol.LoginPayload{Email: "a@b.c", Password: "secret"})
	env := conn.next(t)

	r.HandleResponse(response(t, protocol.TypeError, env.CorrelationID, `{"Attempt":"POST_LOGIN","Error":"bad credentials"}`))

	res := await(t, ch)
	rejected, ok := errors.IsRejected(res.err)
	require.True(t, ok, "expected rejection, got %v", res.err)
	assert.Equal(t, "POST_LOGIN", rejected.Attempt)
	assert.Equal(t, "bad credentials", rejected.Reason)
	assert.True(t, errors.IsInvalid(res.err))

	var timeout *errors.CommandTimeoutError
	assert.False(t, errors.As(res.err, &timeout))
}

func TestRouter_UnexpectedResponseType(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeSubscribe, nil)
	env := conn.next(t)
	r.HandleResponse(response(t, protocol.TypeConnectedResponse, env.CorrelationID, `{}`))

	res := await(t, ch)
	assert.ErrorIs(t, res.err, errors.ErrUnexpectedResponse)
}

func TestRouter_FallbackMatchWithoutCorrelationID(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	login := sendAsync(r, protocol.TypeLogin, protocol.LoginPayload{Email: "a", Password: "b"})
	conn.next(t)
	discoverFirst := sendAsync(r, protocol.TypeGetConnected, nil)
	conn.next(t)
	discoverSecond := sendAsync(r, protocol.TypeGetConnected, nil)
	conn.next(t)

	// Type match, oldest first.
	require.True(t, r.HandleResponse(response(t, protocol.TypeConnectedResponse, "", `{"marker":1}`)))
	res := await(t, discoverFirst)
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"marker":1}`, string(res.msg.Data))

	// RTN_ERR goes to the request named by Attempt.
	require.True(t, r.HandleResponse(response(t, protocol.TypeError, "", `{"Attempt":"POST_LOGIN","Error":"nope"}`)))
	res = await(t, login)
	_, ok := errors.IsRejected(res.err)
	assert.True(t, ok)

	require.True(t, r.HandleResponse(response(t, protocol.TypeConnectedResponse, "", `{}`)))
	assert.NoError(t, await(t, discoverSecond).err)

	// Nothing left to match.
	assert.False(t, r.HandleResponse(response(t, protocol.TypeConnectedResponse, "", `{}`)))
}

func TestRouter_UnknownCorrelationIDDiscarded(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeGetConnected, nil, WithTimeout(200*time.Millisecond))
	conn.next(t)

	assert.False(t, r.HandleResponse(response(t, protocol.TypeConnectedResponse, "not-ours", `{}`)))
	assert.Equal(t, 1, r.Pending())

	var timeout *errors.CommandTimeoutError
	assert.True(t, errors.As(await(t, ch).err, &timeout))
}

func TestRouter_SendFailureRemovesPending(t *testing.T) {
	conn := newFakeConn()
	conn.err = errors.ErrNotConnected
	r, err := NewRouter(conn)
	require.NoError(t, err)

	_, err = r.Send(context.Background(), protocol.TypeGetConnected, nil)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_ContextCancel(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Send(ctx, protocol.TypeGetConnected, nil)
		done <- err
	}()
	conn.next(t)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not observe cancellation")
	}
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_Shutdown(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn)
	require.NoError(t, err)

	first := sendAsync(r, protocol.TypeGetConnected, nil)
	second := sendAsync(r, protocol.TypeSubscribe, nil)
	conn.next(t)
	conn.next(t)

	r.Shutdown()

	assert.ErrorIs(t, await(t, first).err, errors.ErrShuttingDown)
	assert.ErrorIs(t, await(t, second).err, errors.ErrShuttingDown)
	assert.Equal(t, 0, r.Pending())

	_, err = r.Send(context.Background(), protocol.TypeGetConnected, nil)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestRouter_RateLimit(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn, WithRateLimit(1, 1), WithDefaultTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, _ = r.Send(context.Background(), protocol.TypeGetConnected, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Send(ctx, protocol.TypeGetConnected, nil)
	assert.ErrorIs(t, err, errors.ErrRateLimited)
}

func TestRouter_Metrics(t *testing.T) {
	conn := newFakeConn()
	registry := metric.NewMetricsRegistry()
	r, err := NewRouter(conn, WithMetrics(registry, "command"))
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeGetConnected, nil)
	env := conn.next(t)
	r.HandleResponse(response(t, protocol.TypeConnectedResponse, env.CorrelationID, `{}`))
	require.NoError(t, await(t, ch).err)

	r.HandleResponse(response(t, protocol.TypeConnectedResponse, "stray", `{}`))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.commandsSent.WithLabelValues("GET_DYN_CONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.outcomes.WithLabelValues("GET_DYN_CONNECTED", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.unmatched))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.pending))
}

func TestRouter_LoginPayloadOnWire(t *testing.T) {
	conn := newFakeConn()
	r, err := NewRouter(conn, WithDefaultTimeout(20*time.Millisecond))
	require.NoError(t, err)

	ch := sendAsync(r, protocol.TypeTakeDynReading, protocol.ReadingRequest{Serial: protocol.NormalizeSerial("01234")}, WithTarget("gw-1"))
	env := conn.next(t)
	assert.Equal(t, "gw-1", env.Target)
	assert.JSONEq(t, `{"Serial":1234}`, string(env.Data))
	await(t, ch)
}
