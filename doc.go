// Package ctcgateway is a client for wireless vibration-sensor gateways that
// speak JSON over websockets.
//
// The gateway accepts commands (POST_LOGIN, GET_DYN_CONNECTED,
// POST_SUB_CHANGES, POST_UNSUB_CHANGES, TAKE_DYN_READING), answers each with
// an RTN_* response and pushes NOT_* notifications to subscribed clients. A
// vibration reading is started by a command and delivered as notifications:
// NOT_DYN_READING_STARTED, then NOT_DYN_READING with three encoded waveform
// axes, then optionally NOT_DYN_TEMP.
//
// # Packages
//
// Transport and wire:
//   - protocol: message types, envelopes, payload decoding and schema checks
//   - connection: websocket lifecycle, keep-alive and reconnection
//   - command: request/response correlation with deadlines
//   - notification: typed fan-out of unsolicited gateway events
//
// Session:
//   - auth: login and credential handling
//   - discovery: connected-sensor listing and selection
//   - acquisition: one vibration reading from start to decoded result
//   - waveform: axis decoding strategies and statistics
//   - gateway: the Client facade that wires all of the above
//
// Infrastructure:
//   - config: layered JSON/YAML configuration with environment overrides
//   - sink: NATS, MQTT and log delivery of results behind a circuit breaker
//   - metric, health: Prometheus metrics and the /health endpoint
//   - errors: classified errors (transient, invalid, fatal) and gateway error types
//   - pkg/retry, pkg/security, pkg/tlsutil: backoff, TLS settings and loading
//
// The ctcgw command in cmd/ctcgw runs a session from a configuration file.
package ctcgateway
