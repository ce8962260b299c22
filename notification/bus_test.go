package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ctcgateway/command"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/protocol"
)

type stubCommander struct {
	mu    sync.Mutex
	calls []protocol.MessageType
	reply func(cmd protocol.MessageType) (*protocol.Message, error)
}

func (s *stubCommander) Send(_ context.Context, cmd protocol.MessageType, _ any, _ ...command.Option) (*protocol.Message, error) {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()
	if s.reply == nil {
		return &protocol.Message{Envelope: protocol.Envelope{Type: protocol.ExpectedResponse(cmd)}}, nil
	}
	return s.reply(cmd)
}

func decode(t *testing.T, frame string) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode([]byte(frame))
	require.NoError(t, err)
	return msg
}

const (
	startedFrame = `{"Type":"NOT_DYN_READING_STARTED","From":"SERV","To":"UI","Data":{"Serial":1234,"Success":true}}`
	tempFrame    = `{"Type":"NOT_DYN_TEMP","From":"SERV","To":"UI","Data":{"Serial":"1234","Temp":21.5}}`
	otherFrame   = `{"Type":"NOT_SOMETHING_NEW","From":"SERV","To":"UI","Data":{"x":1}}`
)

func TestBus_SubscribeSetsFlagOnAck(t *testing.T) {
	cmdr := &stubCommander{}
	bus := NewBus(cmdr)

	assert.False(t, bus.Subscribed())
	require.NoError(t, bus.Subscribe(context.Background()))
	assert.True(t, bus.Subscribed())
	assert.Equal(t, []protocol.MessageType{protocol.TypeSubscribe}, cmdr.calls)

	bus.ResetSubscription()
	assert.False(t, bus.Subscribed())
}

func TestBus_SubscribeFailureLeavesFlagClear(t *testing.T) {
	tests := []struct {
		name  string
		reply func(protocol.MessageType) (*protocol.Message, error)
	}{
		{
			name: "rejected",
			reply: func(protocol.MessageType) (*protocol.Message, error) {
				return nil, &errors.CommandRejectedError{Attempt: "POST_SUB_CHANGES", Reason: "not logged in"}
			},
		},
		{
			name: "success false",
			reply: func(cmd protocol.MessageType) (*protocol.Message, error) {
				return &protocol.Message{Envelope: protocol.Envelope{
					Type: protocol.ExpectedResponse(cmd),
					Data: []byte(`{"Success":false,"Message":"denied"}`),
				}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(&stubCommander{reply: tt.reply})
			assert.Error(t, bus.Subscribe(context.Background()))
			assert.False(t, bus.Subscribed())
		})
	}
}

func TestBus_UnsubscribeIsBestEffort(t *testing.T) {
	cmdr := &stubCommander{reply: func(protocol.MessageType) (*protocol.Message, error) {
		return nil, errors.ErrNotConnected
	}}
	bus := NewBus(cmdr)
	bus.subscribed.Store(true)

	err := bus.Unsubscribe(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.False(t, bus.Subscribed())
}

func TestBus_OnReceivesEveryMatchingEvent(t *testing.T) {
	bus := NewBus(&stubCommander{})

	var got []protocol.Event
	cancel := bus.On(protocol.EventTemperature, func(ev protocol.Event) { got = append(got, ev) })

	bus.Dispatch(decode(t, tempFrame))
	bus.Dispatch(decode(t, startedFrame))
	bus.Dispatch(decode(t, tempFrame))

	require.Len(t, got, 2)
	temp, ok := got[0].(protocol.Temperature)
	require.True(t, ok)
	assert.Equal(t, 21.5, temp.Value)
	assert.Equal(t, protocol.Serial("1234"), temp.Serial)

	cancel()
	bus.Dispatch(decode(t, tempFrame))
	assert.Len(t, got, 2)
	assert.Equal(t, 0, bus.Listeners())
}

func TestBus_UnrecognizedIsDispatched(t *testing.T) {
	bus := NewBus(&stubCommander{})

	var got []protocol.Event
	bus.On(protocol.EventUnrecognized, func(ev protocol.Event) { got = append(got, ev) })

	bus.Dispatch(decode(t, otherFrame))

	require.Len(t, got, 1)
	u, ok := got[0].(protocol.Unrecognized)
	require.True(t, ok)
	assert.Equal(t, protocol.MessageType("NOT_SOMETHING_NEW"), u.Type)
}

func TestBus_AwaitOnceBuffersEarlyEvent(t *testing.T) {
	bus := NewBus(&stubCommander{})

	pending := bus.AwaitOnce(protocol.EventReadingStarted, nil)
	// Event arrives before anyone waits.
	bus.Dispatch(decode(t, startedFrame))
	bus.Dispatch(decode(t, startedFrame))

	ev, err := pending.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	started, ok := ev.(protocol.ReadingStarted)
	require.True(t, ok)
	assert.True(t, started.Success)
	assert.Equal(t, 0, bus.Listeners(), "one-shot listener must detach after firing")
}

func TestBus_AwaitOnceFilter(t *testing.T) {
	bus := NewBus(&stubCommander{})

	pending := bus.AwaitOnce(protocol.EventTemperature, func(ev protocol.Event) bool {
		return ev.SensorSerial() == "9999"
	})
	defer pending.Cancel()

	bus.Dispatch(decode(t, tempFrame))

	_, err := pending.Wait(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrNotificationTimeout)
}

func TestBus_AwaitOnceTimeoutDetaches(t *testing.T) {
	bus := NewBus(&stubCommander{})

	pending := bus.AwaitOnce(protocol.EventReadingData, nil)
	_, err := pending.Wait(context.Background(), 20*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotificationTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 0, bus.Listeners())
}

func TestBus_AwaitOnceContextCancel(t *testing.T) {
	bus := NewBus(&stubCommander{})

	ctx, cancel := context.WithCancel(context.Background())
	pending := bus.AwaitOnce(protocol.EventReadingData, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := pending.Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, bus.Listeners())
}

func TestBus_CancelDetachesPending(t *testing.T) {
	bus := NewBus(&stubCommander{})

	pending := bus.AwaitOnce(protocol.EventTemperature, nil)
	pending.Cancel()
	pending.Cancel()

	bus.Dispatch(decode(t, tempFrame))
	assert.Equal(t, 0, bus.Listeners())

	_, err := pending.Wait(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrNotificationTimeout)
}

func TestBus_ListenerPanicIsRecovered(t *testing.T) {
	bus := NewBus(&stubCommander{})

	bus.On(protocol.EventTemperature, func(protocol.Event) { panic("boom") })
	var delivered bool
	bus.On(protocol.EventTemperature, func(protocol.Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Dispatch(decode(t, tempFrame)) })
	assert.True(t, delivered, "later listeners still run after a panic")
}

func TestBus_ConcurrentDispatchResolvesOnce(t *testing.T) {
	bus := NewBus(&stubCommander{})
	pending := bus.AwaitOnce(protocol.EventTemperature, nil)

	msg := decode(t, tempFrame)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Dispatch(msg)
		}()
	}
	wg.Wait()

	_, err := pending.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, pending.ch)
}
