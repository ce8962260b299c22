// Package sink hands completed acquisitions to downstream systems.
//
// Three sink types exist:
//
//   - log: writes a one-line summary with per-axis statistics
//   - nats: publishes the JSON result on <subject>.<serial>
//   - mqtt: publishes the JSON result on <subject>/<serial>
//
// Network sinks sit behind a github.com/sony/gobreaker circuit breaker so a
// dead broker does not slow down the acquisition loop. While the breaker is
// open, Publish returns an error wrapping errors.ErrCircuitOpen and the
// result is dropped; acquired data is never queued or persisted.
//
// Usage:
//
//	sinks, err := sink.Build(ctx, cfg.Sinks, logger, registry)
//	if err != nil {
//	    return err
//	}
//	defer sinks.Close(ctx)
//
//	if err := sinks.Publish(ctx, result); err != nil {
//	    logger.Warn("Publish failed", "error", err)
//	}
package sink
