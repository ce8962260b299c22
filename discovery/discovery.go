// Package discovery lists the sensors attached to the gateway and picks one
// to acquire from.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/ctcgateway/command"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/protocol"
)

// Commander sends correlated commands. command.Router satisfies it.
type Commander interface {
	Send(ctx context.Context, cmd protocol.MessageType, payload any, opts ...command.Option) (*protocol.Message, error)
}

// Selection is the outcome of Select. When no connected sensor exists it
// reports NoSensors instead of an error.
type Selection struct {
	Sensor protocol.SensorMetadata
	// Preferred is true when the configured serial was chosen.
	Preferred bool
	found     bool
}

// NoSensors reports that nothing is connected.
func (s Selection) NoSensors() bool {
	return !s.found
}

// Discoverer runs GET_DYN_CONNECTED and applies the selection policy.
type Discoverer struct {
	commander Commander
	logger    *slog.Logger
	preferred protocol.Serial
	timeout   time.Duration
}

// Option configures a Discoverer
type Option func(*Discoverer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Discoverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPreferredSerial selects a specific sensor when it is connected.
func WithPreferredSerial(serial string) Option {
	return func(d *Discoverer) {
		d.preferred = protocol.NormalizeSerial(serial)
	}
}

// WithTimeout bounds the GET_DYN_CONNECTED round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Discoverer) {
		d.timeout = timeout
	}
}

// New creates a Discoverer.
func New(commander Commander, opts ...Option) *Discoverer {
	d := &Discoverer{commander: commander, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "discovery")
	return d
}

// Discover returns every sensor the gateway reports, sorted by serial.
func (d *Discoverer) Discover(ctx context.Context) ([]protocol.SensorMetadata, error) {
	var opts []command.Option
	if d.timeout > 0 {
		opts = append(opts, command.WithTimeout(d.timeout))
	}

	msg, err := d.commander.Send(ctx, protocol.TypeGetConnected, nil, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "Discover", "send GET_DYN_CONNECTED")
	}

	sensors, err := protocol.ParseSensors(msg.Data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "discovery", "Discover", "parse sensor list")
	}

	connected := 0
	for _, s := range sensors {
		if s.Connected {
			connected++
		}
	}
	d.logger.Info("Discovered sensors", "total", len(sensors), "connected", connected)
	return sensors, nil
}

// Select applies the policy: the preferred serial if it is connected,
// otherwise the first connected sensor, otherwise NoSensors.
func (d *Discoverer) Select(sensors []protocol.SensorMetadata) Selection {
	if d.preferred != "" {
		if s, ok := find(sensors, d.preferred); !ok {
			d.logger.Warn("Preferred sensor not reported by gateway", "serial", d.preferred)
		} else if !s.Connected {
			d.logger.Warn("Preferred sensor is not connected", "serial", d.preferred)
		} else {
			return Selection{Sensor: s, Preferred: true, found: true}
		}
	}

	for _, s := range sensors {
		if s.Connected {
			return Selection{Sensor: s, found: true}
		}
	}
	d.logger.Info("No connected sensors")
	return Selection{}
}

func find(sensors []protocol.SensorMetadata, serial protocol.Serial) (protocol.SensorMetadata, bool) {
	for _, s := range sensors {
		if s.Serial == serial {
			return s, true
		}
	}
	return protocol.SensorMetadata{}, false
}

// Run discovers and selects in one call.
func (d *Discoverer) Run(ctx context.Context) (Selection, []protocol.SensorMetadata, error) {
	sensors, err := d.Discover(ctx)
	if err != nil {
		return Selection{}, nil, err
	}
	return d.Select(sensors), sensors, nil
}
