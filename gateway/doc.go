// Package gateway is the entry point for talking to a wireless-sensor
// gateway. A Client owns one websocket connection and wires the command
// router, notification bus, login, sensor discovery and acquisition onto
// it.
//
// Every inbound frame passes through protocol.Decode. Responses (RTN_*)
// are handed to the command router for correlation; everything else is
// classified into a protocol.Event and dispatched on the notification bus.
// A known notification that fails validation is still dispatched as an
// Unrecognized event after a warning.
//
// # Session lifecycle
//
//	client, err := gateway.New(cfg, gateway.WithLogger(logger), gateway.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	if err := client.Connect(ctx); err != nil { // dial + POST_LOGIN
//	    return err
//	}
//	sel, _, err := client.Discover(ctx)          // GET_DYN_CONNECTED
//	if err != nil || sel.NoSensors() {
//	    return err
//	}
//	if err := client.Subscribe(ctx); err != nil { // POST_SUB_CHANGES
//	    return err
//	}
//	result, err := client.AcquireReading(ctx, sel.Sensor.Serial)
//
// Run performs exactly that sequence once and closes the client.
//
// # Reconnects
//
// The connection manager reconnects on its own with exponential backoff.
// The gateway forgets logins and subscriptions per socket, so after an
// automatic reconnect the client logs in again and, when the caller had
// subscribed, re-subscribes (Config.ReauthOnReconnect). A failed re-login
// is logged and reported on the health monitor; it is not retried.
// Acquisitions in flight during a drop end with their data timeout.
package gateway
