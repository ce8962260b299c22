// Package notification routes the gateway's unsolicited NOT_* pushes.
//
// Every inbound frame that is not a direct response is classified into a
// protocol.Event and handed to the listeners registered for its kind.
// Unknown types are delivered as protocol.Unrecognized and logged.
//
// Two registration styles are offered:
//
//	cancel := bus.On(protocol.EventTemperature, func(ev protocol.Event) { ... })
//	defer cancel()
//
//	pending := bus.AwaitOnce(protocol.EventReadingStarted, matchSerial)
//	defer pending.Cancel()
//	ev, err := pending.Wait(ctx, 60*time.Second)
//
// AwaitOnce registers immediately, so a listener can be put in place before
// the command that triggers the push is sent. An event that arrives before
// Wait is held in a one-slot buffer.
//
// The bus also tracks whether POST_SUB_CHANGES has been acknowledged on the
// current connection. Subscriptions do not survive a reconnect; callers
// reset the flag and subscribe again.
package notification
