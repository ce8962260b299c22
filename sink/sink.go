package sink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/c360/ctcgateway/acquisition"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/metric"
)

// Sink receives every completed acquisition.
type Sink interface {
	Name() string
	Publish(ctx context.Context, res *acquisition.Result) error
	Close(ctx context.Context) error
}

// Publisher is the raw transport behind a ResultSink. NATSPublisher and
// MQTTPublisher satisfy it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close(ctx context.Context) error
}

// Published statuses used as metric labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusOpen  = "circuit_open"
)

// BreakerConfig trips the circuit after consecutive publish failures.
type BreakerConfig struct {
	MaxFailures uint32        `json:"max_failures" yaml:"max_failures"`
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// DefaultBreakerConfig returns the standard breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second}
}

// ResultSink encodes results as JSON and hands them to a Publisher behind a
// circuit breaker. The subject is the prefix joined with the sensor serial.
type ResultSink struct {
	name      string
	publisher Publisher
	prefix    string
	separator string
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
	core      *metric.Metrics
}

// ResultOption configures a ResultSink
type ResultOption func(*ResultSink)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ResultOption {
	return func(s *ResultSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts published results in the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ResultOption {
	return func(s *ResultSink) {
		if registry != nil {
			s.core = registry.CoreMetrics()
		}
	}
}

// WithSeparator sets the token joining prefix and serial. NATS uses "." and
// MQTT uses "/".
func WithSeparator(sep string) ResultOption {
	return func(s *ResultSink) {
		s.separator = sep
	}
}

// NewResultSink wraps publisher. The breaker is named after the sink.
func NewResultSink(name string, publisher Publisher, prefix string, breaker BreakerConfig, opts ...ResultOption) *ResultSink {
	s := &ResultSink{
		name:      name,
		publisher: publisher,
		prefix:    prefix,
		separator: ".",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sink", "sink", name)

	maxFailures := breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultBreakerConfig().MaxFailures
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: breaker.Interval,
		Timeout:  breaker.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("Sink circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Name implements Sink.
func (s *ResultSink) Name() string { return s.name }

// Subject returns where a result for serial is published.
func (s *ResultSink) Subject(serial string) string {
	if s.prefix == "" {
		return serial
	}
	return strings.TrimSuffix(s.prefix, s.separator) + s.separator + serial
}

// Publish implements Sink. While the breaker is open results are dropped and
// the returned error wraps ErrCircuitOpen.
func (s *ResultSink) Publish(ctx context.Context, res *acquisition.Result) error {
	if res == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "sink", "Publish", "publish nil result")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return errors.WrapInvalid(err, "sink", "Publish", "encode result")
	}
	subject := s.Subject(res.Metadata.Serial.String())

	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.publisher.Publish(ctx, subject, data)
	})
	switch {
	case err == nil:
		s.record(StatusOK)
		s.logger.Debug("Published result", "subject", subject, "reading_id", res.Metadata.ReadingID, "bytes", len(data))
		return nil
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		s.record(StatusOpen)
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrCircuitOpen, err), "sink", "Publish", "publish to "+s.name)
	default:
		s.record(StatusError)
		return errors.WrapTransient(err, "sink", "Publish", "publish to "+s.name)
	}
}

// State reports the breaker state.
func (s *ResultSink) State() gobreaker.State {
	return s.breaker.State()
}

// Close implements Sink.
func (s *ResultSink) Close(ctx context.Context) error {
	return s.publisher.Close(ctx)
}

func (s *ResultSink) record(status string) {
	if s.core != nil {
		s.core.RecordPublished(s.name, status)
	}
}

// Fanout publishes to every sink and joins the failures.
type Fanout []Sink

// Name implements Sink.
func (f Fanout) Name() string {
	names := make([]string, len(f))
	for i, s := range f {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

// Publish implements Sink. Every sink is attempted even when one fails.
func (f Fanout) Publish(ctx context.Context, res *acquisition.Result) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Close implements Sink.
func (f Fanout) Close(ctx context.Context) error {
	var errs []error
	for _, s := range f {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}
