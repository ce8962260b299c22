// Package command correlates outgoing gateway commands with their direct
// responses.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/protocol"
)

// Sender writes a frame to the gateway. connection.Manager satisfies it.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

type result struct {
	msg *protocol.Message
	err error
}

// pendingRequest is removed from the table exactly once: by a response, a
// timeout, caller cancellation or Shutdown. Whoever removes it owns the
// right to resolve it.
type pendingRequest struct {
	correlationID string
	command       protocol.MessageType
	expected      protocol.MessageType
	deadline      time.Time
	sentAt        time.Time
	seq           uint64
	result        chan result
}

// Router assigns correlation ids and resolves callers when their response
// arrives.
type Router struct {
	conn           Sender
	logger         *slog.Logger
	metrics        *routerMetrics
	defaultTimeout time.Duration
	limiter        *rate.Limiter
	newID          func() string

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	seq      uint64
	shutdown bool
}

// NewRouter creates a router writing through conn.
func NewRouter(conn Sender, opts ...RouterOption) (*Router, error) {
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "command", "NewRouter", "sender required")
	}

	r := &Router{
		conn:           conn,
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeout,
		newID:          func() string { return uuid.New().String() },
		pending:        make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, errors.WrapInvalid(err, "command", "NewRouter", "apply option")
		}
	}
	r.logger = r.logger.With("component", "command")
	return r, nil
}

// Send writes a command and blocks until its correlated response, the
// deadline, ctx cancellation or Shutdown. RTN_ERR replies are returned as
// *errors.CommandRejectedError and missing replies as
// *errors.CommandTimeoutError.
func (r *Router) Send(ctx context.Context, cmd protocol.MessageType, payload any, opts ...Option) (*protocol.Message, error) {
	o := sendOptions{timeout: r.defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrRateLimited, err),
				"command", "Send", fmt.Sprintf("wait to send %s", cmd))
		}
	}

	id := r.newID()
	env, err := protocol.NewCommand(cmd, id, payload)
	if err != nil {
		return nil, err
	}
	env.Target = o.target
	frame, err := env.Encode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &pendingRequest{
		correlationID: id,
		command:       cmd,
		expected:      protocol.ExpectedResponse(cmd),
		deadline:      now.Add(o.timeout),
		sentAt:        now,
		result:        make(chan result, 1),
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil, errors.ErrShuttingDown
	}
	if _, dup := r.pending[id]; dup {
		r.mu.Unlock()
		return nil, errors.WrapFatal(fmt.Errorf("duplicate correlation id %s", id), "command", "Send", "register request")
	}
	r.seq++
	p.seq = r.seq
	r.pending[id] = p
	count := len(r.pending)
	r.mu.Unlock()
	r.metrics.setPending(count)

	r.logger.Debug("Sending command", "command", cmd, "correlation_id", id, "frame", protocol.Redact(frame))
	if err := r.conn.Send(ctx, frame); err != nil {
		if r.remove(id) {
			r.metrics.outcome(string(cmd), outcomeSendError, 0)
			return nil, errors.Wrap(err, "command", "Send", fmt.Sprintf("send %s", cmd))
		}
		res := <-p.result
		return res.msg, res.err
	}
	r.metrics.sent(string(cmd))

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case res := <-p.result:
		return res.msg, res.err
	case <-timer.C:
		if r.remove(id) {
			r.metrics.outcome(string(cmd), outcomeTimeout, o.timeout)
			r.logger.Warn("Command timed out", "command", cmd, "correlation_id", id, "timeout", o.timeout)
			return nil, &errors.CommandTimeoutError{Command: string(cmd), CorrelationID: id, Timeout: o.timeout}
		}
	case <-ctx.Done():
		if r.remove(id) {
			r.metrics.outcome(string(cmd), outcomeCancelled, time.Since(now))
			return nil, errors.WrapTransient(ctx.Err(), "command", "Send", fmt.Sprintf("await %s", cmd))
		}
	}

	// Resolved concurrently with the timer or ctx; the result is in flight.
	res := <-p.result
	return res.msg, res.err
}

// remove deletes a pending entry and reports whether this call removed it.
func (r *Router) remove(id string) bool {
	r.mu.Lock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	count := len(r.pending)
	r.mu.Unlock()

	if ok {
		r.metrics.setPending(count)
	}
	return ok
}

// HandleResponse resolves the pending request a response belongs to. It
// returns false when nothing matched; such responses are logged and dropped.
func (r *Router) HandleResponse(msg *protocol.Message) bool {
	var rejection protocol.ErrorPayload
	if msg.Type.IsError() {
		if err := msg.DecodeData(&rejection); err != nil {
			r.logger.Warn("Malformed RTN_ERR payload", "error", err)
		}
	}

	r.mu.Lock()
	p := r.match(msg, rejection.Attempt)
	if p != nil {
		delete(r.pending, p.correlationID)
	}
	count := len(r.pending)
	r.mu.Unlock()

	r.logger.Debug("Received response", "type", msg.Type, "correlation_id", msg.CorrelationID,
		"data", protocol.Redact(msg.Data))

	if p == nil {
		r.metrics.unmatchedResponse()
		r.logger.Info("Discarding unmatched response", "type", msg.Type, "correlation_id", msg.CorrelationID)
		return false
	}
	r.metrics.setPending(count)

	elapsed := time.Since(p.sentAt)
	switch {
	case msg.Type.IsError():
		r.metrics.outcome(string(p.command), outcomeRejected, elapsed)
		p.result <- result{msg: msg, err: &errors.CommandRejectedError{
			Command: string(p.command),
			Attempt: rejection.Attempt,
			Reason:  rejection.Error,
		}}
	case msg.Type != p.expected:
		r.metrics.outcome(string(p.command), outcomeRejected, elapsed)
		p.result <- result{msg: msg, err: errors.WrapInvalid(
			fmt.Errorf("%w: got %s, want %s", errors.ErrUnexpectedResponse, msg.Type, p.expected),
			"command", "HandleResponse", fmt.Sprintf("match %s", p.command))}
	default:
		r.metrics.outcome(string(p.command), outcomeOK, elapsed)
		p.result <- result{msg: msg}
	}
	return true
}

// match finds the request a response answers. Caller holds r.mu.
// Responses carrying an id only match that id. Without one, the oldest
// request expecting this type wins; RTN_ERR matches the oldest request whose
// command equals Attempt, or the oldest request at all when Attempt is empty.
func (r *Router) match(msg *protocol.Message, attempt string) *pendingRequest {
	if msg.CorrelationID != "" {
		return r.pending[msg.CorrelationID]
	}

	var oldest *pendingRequest
	for _, p := range r.pending {
		if msg.Type.IsError() {
			if attempt != "" && attempt != string(p.command) {
				continue
			}
		} else if p.expected != msg.Type {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	return oldest
}

// Pending returns the number of unresolved requests.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Shutdown fails every pending caller with ErrShuttingDown. Later Send
// calls fail the same way.
func (r *Router) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	drained := make([]*pendingRequest, 0, len(r.pending))
	for id, p := range r.pending {
		drained = append(drained, p)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	r.metrics.setPending(0)
	for _, p := range drained {
		r.metrics.outcome(string(p.command), outcomeShutdown, 0)
		p.result <- result{err: errors.ErrShuttingDown}
	}
	if len(drained) > 0 {
		r.logger.Info("Failed pending commands on shutdown", "count", len(drained))
	}
}
