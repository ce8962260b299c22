package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/ctcgateway/command"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/notification"
	"github.com/c360/ctcgateway/protocol"
	"github.com/c360/ctcgateway/waveform"
)

// Commander sends correlated commands. command.Router satisfies it.
type Commander interface {
	Send(ctx context.Context, cmd protocol.MessageType, payload any, opts ...command.Option) (*protocol.Message, error)
}

// Notifier exposes the subscription flag and persistent listeners.
// notification.Bus satisfies it.
type Notifier interface {
	Subscribed() bool
	On(kind protocol.EventKind, handler notification.Handler) (cancel func())
}

// Config holds the acquisition deadlines.
type Config struct {
	// DataTimeout covers ReadingStarted and ReadingData together.
	DataTimeout time.Duration `json:"data_timeout" yaml:"data_timeout"`
	// TemperatureTimeout starts once data has arrived. Expiry is not fatal.
	TemperatureTimeout time.Duration `json:"temperature_timeout" yaml:"temperature_timeout"`
	// CommandTimeout bounds the TAKE_DYN_READING acknowledgement. Zero uses
	// the router default.
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout"`
	// DedupWindow is how long a reading id is remembered within one
	// acquisition. Zero disables dedup.
	DedupWindow time.Duration `json:"dedup_window" yaml:"dedup_window"`

	Decoder waveform.Options `json:"decoder" yaml:"decoder"`
}

// DefaultConfig returns the standard deadlines.
func DefaultConfig() Config {
	return Config{
		DataTimeout:        60 * time.Second,
		TemperatureTimeout: 10 * time.Second,
		DedupWindow:        10 * time.Minute,
		Decoder:            waveform.DefaultOptions(),
	}
}

// Validate checks the deadlines and decoder bounds.
func (c Config) Validate() error {
	if c.DataTimeout <= 0 {
		return fmt.Errorf("data_timeout must be positive")
	}
	if c.TemperatureTimeout <= 0 {
		return fmt.Errorf("temperature_timeout must be positive")
	}
	if c.CommandTimeout < 0 || c.DedupWindow < 0 {
		return fmt.Errorf("command_timeout and dedup_window cannot be negative")
	}
	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	return nil
}

// Metadata describes a completed reading.
type Metadata struct {
	ReadingID   protocol.ReadingID `json:"reading_id"`
	Serial      protocol.Serial    `json:"serial"`
	Time        string             `json:"time,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Strategy    waveform.Strategy  `json:"strategy"`
}

// Result is one decoded acquisition.
type Result struct {
	Metadata    Metadata      `json:"metadata"`
	X           waveform.Axis `json:"x"`
	Y           waveform.Axis `json:"y"`
	Z           waveform.Axis `json:"z"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// Acquisition outcomes used as metric labels.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeTimeout     = "timeout"
	OutcomeDecodeError = "decode_error"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
)

// Orchestrator runs acquisitions one at a time.
type Orchestrator struct {
	cfg       Config
	commander Commander
	notifier  Notifier
	decoder   *waveform.Decoder
	logger    *slog.Logger
	core      *metric.Metrics
	metrics   *orchestratorMetrics

	// slot serializes sessions.
	slot chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records outcomes in the registry's core metrics and registers
// anomaly counters under name.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *Orchestrator) {
		if registry == nil {
			return
		}
		o.core = registry.CoreMetrics()
		o.metrics = newMetrics(registry, name)
	}
}

// New creates an Orchestrator.
func New(cfg Config, commander Commander, notifier Notifier, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"acquisition", "New", "validate config")
	}
	if commander == nil || notifier == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "acquisition", "New", "commander and notifier required")
	}

	o := &Orchestrator{
		cfg:       cfg,
		commander: commander,
		notifier:  notifier,
		decoder:   waveform.NewDecoder(cfg.Decoder),
		logger:    slog.Default(),
		slot:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "acquisition")
	return o, nil
}

// Shutdown ends any acquisition in progress with ErrShuttingDown and makes
// later ones fail fast. Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.doneOnce.Do(func() { close(o.done) })
}

func shuttingDown(stage string) error {
	return errors.Wrap(errors.ErrShuttingDown, "acquisition", "AcquireReading", stage)
}

// session is the per-acquisition mailbox fed by bus listeners. Listeners run
// on the connection's read goroutine and never block.
type session struct {
	serial    protocol.Serial
	startedAt time.Time

	mu         sync.Mutex
	gotStarted bool
	// seen is per session; ids may repeat across sessions after a gateway reboot.
	seen map[protocol.ReadingID]time.Time

	started chan protocol.ReadingStarted
	data    chan protocol.ReadingData
	temp    chan protocol.Temperature
}

func newSession(serial protocol.Serial) *session {
	return &session{
		serial:    serial,
		startedAt: time.Now(),
		seen:      make(map[protocol.ReadingID]time.Time),
		started:   make(chan protocol.ReadingStarted, 1),
		data:      make(chan protocol.ReadingData, 1),
		temp:      make(chan protocol.Temperature, 1),
	}
}

// AcquireReading triggers one reading on serial and assembles the result.
// Listeners are attached before TAKE_DYN_READING is sent and detached on
// every exit path.
func (o *Orchestrator) AcquireReading(ctx context.Context, serial protocol.Serial) (res *Result, err error) {
	if !o.notifier.Subscribed() {
		return nil, errors.WrapInvalid(errors.ErrNotSubscribed, "acquisition", "AcquireReading", "check subscription")
	}

	select {
	case <-o.done:
		return nil, shuttingDown("check shutdown")
	default:
	}

	select {
	case o.slot <- struct{}{}:
		defer func() { <-o.slot }()
	case <-o.done:
		return nil, shuttingDown("wait for previous acquisition")
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "acquisition", "AcquireReading", "wait for previous acquisition")
	}

	sess := newSession(serial)
	logger := o.logger.With("serial", serial)

	defer func() {
		outcome := outcomeOf(err)
		if o.core != nil {
			o.core.RecordAcquisition(outcome, time.Since(sess.startedAt))
		}
		if err != nil {
			logger.Warn("Acquisition failed", "outcome", outcome, "error", err)
		}
	}()

	for _, cancel := range o.attach(sess, logger) {
		defer cancel()
	}

	var cmdOpts []command.Option
	if o.cfg.CommandTimeout > 0 {
		cmdOpts = append(cmdOpts, command.WithTimeout(o.cfg.CommandTimeout))
	}
	logger.Info("Triggering reading")
	if _, err := o.commander.Send(ctx, protocol.TypeTakeDynReading, protocol.ReadingRequest{Serial: serial}, cmdOpts...); err != nil {
		return nil, errors.Wrap(err, "acquisition", "AcquireReading", "send TAKE_DYN_READING")
	}

	dataTimer := time.NewTimer(o.cfg.DataTimeout)
	defer dataTimer.Stop()

	select {
	case started := <-sess.started:
		if !started.Success {
			return nil, &errors.AcquisitionFailedError{Serial: serial.String(), Reason: started.Reason}
		}
		logger.Debug("Reading started")
	case <-dataTimer.C:
		return nil, &errors.AcquisitionTimeoutError{Serial: serial.String(), Stage: "reading start", Timeout: o.cfg.DataTimeout}
	case <-o.done:
		return nil, shuttingDown("await reading start")
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "acquisition", "AcquireReading", "await reading start")
	}

	var data protocol.ReadingData
	select {
	case data = <-sess.data:
		logger.Debug("Reading data received", "reading_id", data.ID)
	case <-dataTimer.C:
		return nil, &errors.AcquisitionTimeoutError{Serial: serial.String(), Stage: "reading data", Timeout: o.cfg.DataTimeout}
	case <-o.done:
		return nil, shuttingDown("await reading data")
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "acquisition", "AcquireReading", "await reading data")
	}

	var temperature *float64
	tempTimer := time.NewTimer(o.cfg.TemperatureTimeout)
	defer tempTimer.Stop()

	select {
	case t := <-sess.temp:
		v := t.Value
		temperature = &v
	case <-tempTimer.C:
		logger.Warn("No temperature before deadline, continuing without it", "timeout", o.cfg.TemperatureTimeout)
		o.metrics.temperatureMissing()
	case <-o.done:
		return nil, shuttingDown("await temperature")
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "acquisition", "AcquireReading", "await temperature")
	}

	wf, err := o.decoder.Decode(data.X, data.Y, data.Z)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Metadata: Metadata{
			ReadingID:   data.ID,
			Serial:      serial,
			Time:        data.Time,
			StartedAt:   sess.startedAt,
			CompletedAt: time.Now(),
			Strategy:    wf.Strategy,
		},
		X:           wf.X,
		Y:           wf.Y,
		Z:           wf.Z,
		Temperature: temperature,
	}
	logger.Info("Acquisition complete",
		"reading_id", data.ID,
		"strategy", wf.Strategy,
		"samples", wf.X.Stats.Count,
		"duration", res.Metadata.CompletedAt.Sub(sess.startedAt))
	return res, nil
}

// attach registers the session's listeners and returns their cancel funcs.
func (o *Orchestrator) attach(sess *session, logger *slog.Logger) []func() {
	onStarted := func(ev protocol.Event) {
		e, ok := ev.(protocol.ReadingStarted)
		if !ok || !sess.matches(e.Serial) {
			return
		}
		sess.mu.Lock()
		sess.gotStarted = true
		sess.mu.Unlock()
		offer(sess.started, e)
	}

	onData := func(ev protocol.Event) {
		e, ok := ev.(protocol.ReadingData)
		if !ok || !sess.matches(e.Serial) {
			return
		}
		sess.mu.Lock()
		started := sess.gotStarted
		sess.mu.Unlock()
		if !started {
			o.metrics.anomaly("data_before_start")
			logger.Warn("Discarding reading data received before reading start", "reading_id", e.ID)
			return
		}
		if sess.duplicate(e.ID, o.cfg.DedupWindow) {
			o.metrics.anomaly("duplicate_data")
			logger.Info("Discarding duplicate reading data", "reading_id", e.ID)
			return
		}
		if !offer(sess.data, e) {
			o.metrics.anomaly("extra_data")
			logger.Warn("Discarding extra reading data", "reading_id", e.ID)
		}
	}

	onTemp := func(ev protocol.Event) {
		e, ok := ev.(protocol.Temperature)
		if !ok || !sess.matches(e.Serial) {
			return
		}
		offer(sess.temp, e)
	}

	return []func(){
		o.notifier.On(protocol.EventReadingStarted, onStarted),
		o.notifier.On(protocol.EventReadingData, onData),
		o.notifier.On(protocol.EventTemperature, onTemp),
	}
}

// matches accepts events without a serial; some firmware omits it.
func (s *session) matches(serial protocol.Serial) bool {
	return serial == "" || serial == s.serial
}

func offer[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

// duplicate records id and reports whether the session already saw it within
// window. Empty ids and a zero window never count as duplicates.
func (s *session) duplicate(id protocol.ReadingID, window time.Duration) bool {
	if id == "" || window == 0 {
		return false
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, at := range s.seen {
		if now.Sub(at) > window {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = now
	return false
}

func outcomeOf(err error) string {
	var (
		failed   *errors.AcquisitionFailedError
		timeout  *errors.AcquisitionTimeoutError
		decode   *errors.WaveformDecodeError
		rejected *errors.CommandRejectedError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &failed):
		return OutcomeFailed
	case errors.As(err, &timeout):
		return OutcomeTimeout
	case errors.As(err, &decode):
		return OutcomeDecodeError
	case errors.As(err, &rejected):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
