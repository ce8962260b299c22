package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/ctcgateway/command"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/protocol"
)

// Commander sends correlated commands. command.Router satisfies it.
type Commander interface {
	Send(ctx context.Context, cmd protocol.MessageType, payload any, opts ...command.Option) (*protocol.Message, error)
}

// Handler receives one event. Handlers run on the dispatching goroutine.
type Handler func(protocol.Event)

// Match filters events for AwaitOnce. A nil Match accepts everything.
type Match func(protocol.Event) bool

type listener struct {
	id     uint64
	match  Match
	handle Handler
	once   bool
}

// Bus is the typed notification registry.
type Bus struct {
	commander Commander
	logger    *slog.Logger
	metrics   *busMetrics

	mu        sync.Mutex
	listeners map[protocol.EventKind]map[uint64]*listener
	nextID    uint64

	subscribed atomic.Bool
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics registers bus metrics under name
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(b *Bus) {
		b.metrics = newMetrics(registry, name)
	}
}

// NewBus creates a bus that subscribes through commander.
func NewBus(commander Commander, opts ...Option) *Bus {
	b := &Bus{
		commander: commander,
		logger:    slog.Default(),
		listeners: make(map[protocol.EventKind]map[uint64]*listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "notification")
	return b
}

// Subscribe sends POST_SUB_CHANGES. The subscribed flag is set only once
// the gateway acknowledges.
func (b *Bus) Subscribe(ctx context.Context) error {
	msg, err := b.commander.Send(ctx, protocol.TypeSubscribe, nil)
	if err != nil {
		return errors.Wrap(err, "notification", "Subscribe", "send POST_SUB_CHANGES")
	}
	if err := checkStatus(msg); err != nil {
		return errors.WrapInvalid(err, "notification", "Subscribe", "acknowledge POST_SUB_CHANGES")
	}
	b.subscribed.Store(true)
	b.logger.Info("Subscribed to gateway notifications")
	return nil
}

// Unsubscribe sends POST_UNSUB_CHANGES. It is best effort: the flag is
// cleared regardless and a failure is only logged and returned.
func (b *Bus) Unsubscribe(ctx context.Context) error {
	b.subscribed.Store(false)
	if _, err := b.commander.Send(ctx, protocol.TypeUnsubscribe, nil); err != nil {
		b.logger.Warn("Unsubscribe failed", "error", err)
		return errors.Wrap(err, "notification", "Unsubscribe", "send POST_UNSUB_CHANGES")
	}
	b.logger.Info("Unsubscribed from gateway notifications")
	return nil
}

// Subscribed reports whether POST_SUB_CHANGES has been acknowledged on the
// current connection.
func (b *Bus) Subscribed() bool {
	return b.subscribed.Load()
}

// ResetSubscription clears the flag. The gateway forgets subscriptions when
// the socket drops.
func (b *Bus) ResetSubscription() {
	b.subscribed.Store(false)
}

func checkStatus(msg *protocol.Message) error {
	if msg == nil || len(msg.Data) == 0 {
		return nil
	}
	var status protocol.StatusPayload
	if err := msg.DecodeData(&status); err != nil {
		// Acknowledgements with non-object payloads carry no status.
		return nil
	}
	if status.Success != nil && !*status.Success {
		return fmt.Errorf("%w: gateway reported failure: %s", errors.ErrUnexpectedResponse, status.Message)
	}
	return nil
}

// On registers a persistent handler for kind. The returned func detaches it.
func (b *Bus) On(kind protocol.EventKind, handler Handler) (cancel func()) {
	id := b.add(kind, &listener{handle: handler})
	return func() { b.remove(kind, id) }
}

// AwaitOnce registers a one-shot listener for the next event of kind that
// satisfies match. Events arriving before Wait is called are kept.
func (b *Bus) AwaitOnce(kind protocol.EventKind, match Match) *Pending {
	p := &Pending{bus: b, kind: kind, ch: make(chan protocol.Event, 1)}
	p.id = b.add(kind, &listener{
		match:  match,
		once:   true,
		handle: func(ev protocol.Event) { p.ch <- ev },
	})
	return p
}

func (b *Bus) add(kind protocol.EventKind, l *listener) uint64 {
	b.mu.Lock()
	b.nextID++
	l.id = b.nextID
	set, ok := b.listeners[kind]
	if !ok {
		set = make(map[uint64]*listener)
		b.listeners[kind] = set
	}
	set[l.id] = l
	count := b.countLocked()
	b.mu.Unlock()

	b.metrics.setListeners(count)
	return l.id
}

// remove reports whether the listener was still registered.
func (b *Bus) remove(kind protocol.EventKind, id uint64) bool {
	b.mu.Lock()
	_, ok := b.listeners[kind][id]
	delete(b.listeners[kind], id)
	count := b.countLocked()
	b.mu.Unlock()

	if ok {
		b.metrics.setListeners(count)
	}
	return ok
}

func (b *Bus) countLocked() int {
	n := 0
	for _, set := range b.listeners {
		n += len(set)
	}
	return n
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countLocked()
}

// Dispatch delivers a non-correlated frame to every matching listener.
// One-shot listeners are claimed under the lock so each fires at most once.
func (b *Bus) Dispatch(msg *protocol.Message) {
	event := msg.Event
	if event == nil {
		event = protocol.Unrecognized{Type: msg.Type, Data: msg.Data}
	}
	kind := event.Kind()
	if u, ok := event.(protocol.Unrecognized); ok {
		b.metrics.unrecognizedEvent()
		b.logger.Warn("Unrecognized notification", "type", u.Type, "reason", u.Reason)
	}
	b.metrics.dispatched(kind)

	b.mu.Lock()
	set := b.listeners[kind]
	targets := make([]*listener, 0, len(set))
	for id, l := range set {
		if l.once {
			if l.match != nil && !b.safeMatch(l.match, event) {
				continue
			}
			delete(set, id)
		}
		targets = append(targets, l)
	}
	count := b.countLocked()
	b.mu.Unlock()
	b.metrics.setListeners(count)

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	if len(targets) == 0 {
		b.logger.Debug("No listener for notification", "kind", kind, "serial", event.SensorSerial())
	}
	for _, l := range targets {
		b.deliver(l, event)
	}
}

func (b *Bus) safeMatch(match Match, event protocol.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.listenerPanic()
			b.logger.Error("Notification filter panicked", "panic", r)
			ok = false
		}
	}()
	return match(event)
}

func (b *Bus) deliver(l *listener, event protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.listenerPanic()
			b.logger.Error("Notification listener panicked", "kind", event.Kind(), "panic", r)
		}
	}()
	l.handle(event)
}

// Pending is a one-shot wait registered with AwaitOnce.
type Pending struct {
	bus  *Bus
	kind protocol.EventKind
	id   uint64
	ch   chan protocol.Event
}

// Wait blocks until the event arrives, timeout elapses or ctx ends. The
// listener is detached on every failure path.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (protocol.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-p.ch:
		return ev, nil
	case <-timer.C:
		if ev, ok := p.settle(); ok {
			return ev, nil
		}
		return nil, errors.WrapTransient(fmt.Errorf("%w: %s after %s", errors.ErrNotificationTimeout, p.kind, timeout),
			"notification", "Wait", fmt.Sprintf("await %s", p.kind))
	case <-ctx.Done():
		if ev, ok := p.settle(); ok {
			return ev, nil
		}
		return nil, ctx.Err()
	}
}

// settle detaches the listener and picks up an event that raced the
// deadline.
func (p *Pending) settle() (protocol.Event, bool) {
	if p.bus.remove(p.kind, p.id) {
		return nil, false
	}
	select {
	case ev := <-p.ch:
		return ev, true
	default:
		return nil, false
	}
}

// Cancel detaches the listener. Safe to call more than once and after Wait.
func (p *Pending) Cancel() {
	p.bus.remove(p.kind, p.id)
}
