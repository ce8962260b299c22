// Package config loads the ctcgw process configuration.
//
// A configuration is built in layers: Default, then the file (JSON or
// YAML, chosen by extension), then CTCGW_* environment variables. Values
// missing from the file keep their defaults; lists such as sinks are
// replaced whole.
//
// Durations may be written as Go duration strings ("750ms", "1m30s") or
// whole days ("2d") under any key ending in timeout, interval, _wait,
// _after, _base, _max or _window. Plain integers are read as nanoseconds.
//
//	gateway:
//	  connection:
//	    url: wss://gateway.local:5000
//	    ping_interval: 20s
//	  credentials:
//	    email: operator@example.com
//	  preferred_serial: "1234"
//	metrics:
//	  port: 9090
//	sinks:
//	  - type: nats
//	    subject: plant.vibration
//
// Environment overrides:
//
//	CTCGW_URL, CTCGW_EMAIL, CTCGW_PASSWORD, CTCGW_PREFERRED_SERIAL, CTCGW_METRICS_PORT
//
// Config.String masks passwords and tokens and is safe to log.
package config
