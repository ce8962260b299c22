package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/ctcgateway/errors"
)

// Default routing fields for client-originated frames.
const (
	DefaultFrom = "UI"
	DefaultTo   = "SERV"
)

// Envelope is the JSON frame exchanged with the gateway.
type Envelope struct {
	Type          MessageType     `json:"Type"`
	From          string          `json:"From"`
	To            string          `json:"To"`
	Target        string          `json:"Target,omitempty"`
	Data          json.RawMessage `json:"Data"`
	CorrelationID string          `json:"CorrelationId,omitempty"`
}

// DecodeData unmarshals the envelope's Data into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "protocol", "DecodeData", "read empty Data")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.WrapInvalid(err, "protocol", "DecodeData", fmt.Sprintf("decode %s payload", e.Type))
	}
	return nil
}

// NewCommand builds a client command frame. A nil payload is sent as {}.
func NewCommand(t MessageType, correlationID string, payload any) (*Envelope, error) {
	data := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.WrapInvalid(err, "protocol", "NewCommand", fmt.Sprintf("encode %s payload", t))
		}
		data = b
	}
	return &Envelope{
		Type:          t,
		From:          DefaultFrom,
		To:            DefaultTo,
		Data:          data,
		CorrelationID: correlationID,
	}, nil
}

// Encode marshals the frame for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Encode", fmt.Sprintf("marshal %s", e.Type))
	}
	return b, nil
}

// Message is a validated inbound frame.
type Message struct {
	Envelope
	Kind Kind
	// Event is set for every frame that is not a response.
	Event Event
}

var envelopeFields = []string{"Type", "From", "To", "Target", "Data", "CorrelationId"}

// Decode parses one inbound frame through the schema boundary. Field names
// are matched case-insensitively. A known notification whose payload fails
// validation is returned as an Unrecognized event together with an error
// wrapping ErrSchemaViolation so the caller can log it and still dispatch.
func Decode(raw []byte) (*Message, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"protocol", "Decode", "unmarshal frame")
	}
	canonicalizeKeys(doc, envelopeFields)

	msgType, _ := doc["Type"].(string)
	if data, ok := doc["Data"].(map[string]any); ok {
		canonicalizeKeys(data, payloadFields[MessageType(msgType)])
	}

	if err := validate(envelopeSchema, doc); err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Decode", "validate envelope")
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Decode", "re-encode frame")
	}
	msg := &Message{}
	if err := json.Unmarshal(canonical, &msg.Envelope); err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Decode", "decode envelope")
	}
	msg.Kind = msg.Type.Kind()

	if msg.Kind == KindResponse {
		if msg.Type.IsError() {
			if err := validate(schemaFor(TypeError), doc["Data"]); err != nil {
				return nil, errors.WrapInvalid(err, "protocol", "Decode", "validate RTN_ERR")
			}
		}
		return msg, nil
	}

	event, err := decodeEvent(msg.Type, doc["Data"], msg.Data)
	msg.Event = event
	if err != nil {
		return msg, errors.WrapInvalid(err, "protocol", "Decode", fmt.Sprintf("validate %s", msg.Type))
	}
	return msg, nil
}

func decodeEvent(t MessageType, data any, raw json.RawMessage) (Event, error) {
	schema := schemaFor(t)
	if schema == nil {
		return Unrecognized{Type: t, Data: raw}, nil
	}
	if err := validate(schema, data); err != nil {
		return Unrecognized{Type: t, Data: raw, Reason: err.Error()}, err
	}

	var (
		event Event
		err   error
	)
	switch t {
	case TypeReadingStarted:
		var e ReadingStarted
		err = json.Unmarshal(raw, &e)
		event = e
	case TypeReading:
		var e ReadingData
		err = json.Unmarshal(raw, &e)
		event = e
	case TypeTemperature:
		var w struct {
			Serial Serial      `json:"Serial"`
			Temp   json.Number `json:"Temp"`
			Time   string      `json:"Time"`
		}
		if err = json.Unmarshal(raw, &w); err == nil {
			var v float64
			if v, err = w.Temp.Float64(); err == nil {
				event = Temperature{Serial: w.Serial, Value: v, Time: w.Time}
			}
		}
	}
	if err != nil {
		return Unrecognized{Type: t, Data: raw, Reason: err.Error()}, fmt.Errorf("%w: %v", errors.ErrSchemaViolation, err)
	}
	return event, nil
}

// canonicalizeKeys renames keys of m that match one of names ignoring case.
func canonicalizeKeys(m map[string]any, names []string) {
	for _, name := range names {
		if _, ok := m[name]; ok {
			continue
		}
		for k, v := range m {
			if strings.EqualFold(k, name) {
				delete(m, k)
				m[name] = v
				break
			}
		}
	}
}

var passwordPattern = regexp.MustCompile(`(?i)("password"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// Redact masks credentials in a frame before it is logged.
func Redact(raw []byte) string {
	return passwordPattern.ReplaceAllString(string(raw), `$1"***"`)
}
