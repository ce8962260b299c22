// Package protocol defines the gateway's JSON frame format and the typed
// view the rest of the client works with.
//
// Every frame is an Envelope {Type, From, To, Target, Data, CorrelationId}.
// Types are classified by prefix: RTN_ frames are direct responses routed to
// the command router, NOT_ frames are notifications routed to the bus, and
// anything else that arrives un-correlated is surfaced as Unrecognized.
//
// Decode is the only way inbound bytes enter the client. It folds field-name
// case, validates the envelope and known payloads against embedded JSON
// schemas, and produces typed events (ReadingStarted, ReadingData,
// Temperature, Unrecognized). Sensor serials and reading ids are accepted as
// numbers or strings and normalized to canonical text.
package protocol
