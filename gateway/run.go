package gateway

import (
	"context"
	"time"

	"github.com/c360/ctcgateway/acquisition"
	"github.com/c360/ctcgateway/discovery"
	"github.com/c360/ctcgateway/protocol"
)

// closeTimeout bounds the teardown at the end of Run.
const closeTimeout = 5 * time.Second

// Outcome reports what a Run did.
type Outcome struct {
	Sensors   []protocol.SensorMetadata
	Selection discovery.Selection
	// Result is nil when no sensor was connected.
	Result *acquisition.Result
}

// Run performs one complete session: connect and log in, discover, and
// when a sensor is connected subscribe, acquire once and unsubscribe. The
// client is closed on every path, so it cannot be reused afterwards.
// No connected sensor is reported through Outcome, not as an error.
func (c *Client) Run(ctx context.Context) (out Outcome, err error) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := c.Close(closeCtx); cerr != nil {
			c.logger.Warn("Close failed", "error", cerr)
		}
	}()

	if err = c.Connect(ctx); err != nil {
		return out, err
	}

	out.Selection, out.Sensors, err = c.Discover(ctx)
	if err != nil {
		return out, err
	}
	if out.Selection.NoSensors() {
		c.logger.Info("No connected sensors; nothing to acquire", "reported", len(out.Sensors))
		return out, nil
	}

	if err = c.Subscribe(ctx); err != nil {
		return out, err
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = c.Unsubscribe(unsubCtx)
	}()

	out.Result, err = c.AcquireReading(ctx, out.Selection.Sensor.Serial)
	return out, err
}
