package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/ctcgateway/acquisition"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/gateway"
	"github.com/c360/ctcgateway/sink"
)

// session drives one gateway client: a single Run, or with an interval one
// login and subscription followed by an acquisition per tick.
type session struct {
	client          *gateway.Client
	sink            sink.Sink
	interval        time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func (s *session) run(ctx context.Context) error {
	var err error
	if s.interval > 0 {
		err = s.periodic(ctx)
	} else {
		err = s.once(ctx)
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *session) once(ctx context.Context) error {
	out, err := s.client.Run(ctx)
	if err != nil {
		return err
	}
	if out.Result == nil {
		s.logger.Info("No connected sensors", "reported", len(out.Sensors))
		return nil
	}
	return s.publish(ctx, out.Result)
}

func (s *session) periodic(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.client.Close(closeCtx); err != nil {
			s.logger.Warn("Close failed", "error", err)
		}
	}()

	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	sel, sensors, err := s.client.Discover(ctx)
	if err != nil {
		return err
	}
	if sel.NoSensors() {
		s.logger.Info("No connected sensors", "reported", len(sensors))
		return nil
	}
	if err := s.client.Subscribe(ctx); err != nil {
		return err
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		_ = s.client.Unsubscribe(unsubCtx)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		res, err := s.client.AcquireReading(ctx, sel.Sensor.Serial)
		switch {
		case err == nil:
			if perr := s.publish(ctx, res); perr != nil {
				s.logger.Warn("Publishing reading failed", "reading_id", res.Metadata.ReadingID, "error", perr)
			}
		case ctx.Err() != nil:
			return nil
		case errors.IsFatal(err):
			return err
		default:
			s.logger.Warn("Acquisition failed; retrying next interval",
				"serial", sel.Sensor.Serial, "interval", s.interval.String(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *session) publish(ctx context.Context, res *acquisition.Result) error {
	if err := s.sink.Publish(ctx, res); err != nil {
		return errors.Wrap(err, "ctcgw", "publish", "deliver reading "+string(res.Metadata.ReadingID))
	}
	s.logger.Info("Reading delivered",
		"reading_id", res.Metadata.ReadingID,
		"serial", res.Metadata.Serial,
		"sinks", s.sink.Name())
	return nil
}
