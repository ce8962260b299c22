package protocol

import "encoding/json"

// EventKind keys the notification registry.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventReadingStarted
	EventReadingData
	EventTemperature
)

func (k EventKind) String() string {
	switch k {
	case EventReadingStarted:
		return "reading_started"
	case EventReadingData:
		return "reading_data"
	case EventTemperature:
		return "temperature"
	default:
		return "unrecognized"
	}
}

// Event is a typed notification. The concrete type is one of ReadingStarted,
// ReadingData, Temperature or Unrecognized.
type Event interface {
	Kind() EventKind
	// SensorSerial is empty when the notification carries no serial.
	SensorSerial() Serial
}

// ReadingStarted is NOT_DYN_READING_STARTED.
type ReadingStarted struct {
	Serial  Serial `json:"Serial"`
	Success bool   `json:"Success"`
	Reason  string `json:"Reason,omitempty"`
}

// Kind implements Event.
func (ReadingStarted) Kind() EventKind { return EventReadingStarted }

// SensorSerial implements Event.
func (e ReadingStarted) SensorSerial() Serial { return e.Serial }

// ReadingData is NOT_DYN_READING. X, Y and Z are opaque waveform strings.
type ReadingData struct {
	ID     ReadingID `json:"ID"`
	Serial Serial    `json:"Serial"`
	Time   string    `json:"Time"`
	X      string    `json:"X"`
	Y      string    `json:"Y"`
	Z      string    `json:"Z"`
}

// Kind implements Event.
func (ReadingData) Kind() EventKind { return EventReadingData }

// SensorSerial implements Event.
func (e ReadingData) SensorSerial() Serial { return e.Serial }

// Temperature is NOT_DYN_TEMP.
type Temperature struct {
	Serial Serial  `json:"Serial"`
	Value  float64 `json:"Temp"`
	Time   string  `json:"Time,omitempty"`
}

// Kind implements Event.
func (Temperature) Kind() EventKind { return EventTemperature }

// SensorSerial implements Event.
func (e Temperature) SensorSerial() Serial { return e.Serial }

// Unrecognized carries any non-correlated frame the client has no variant
// for, or a known notification that failed validation.
type Unrecognized struct {
	Type   MessageType
	Data   json.RawMessage
	Reason string
}

// Kind implements Event.
func (Unrecognized) Kind() EventKind { return EventUnrecognized }

// SensorSerial implements Event.
func (Unrecognized) SensorSerial() Serial { return "" }

// EventKindOf maps a notification type to its registry key.
func EventKindOf(t MessageType) EventKind {
	switch t {
	case TypeReadingStarted:
		return EventReadingStarted
	case TypeReading:
		return EventReadingData
	case TypeTemperature:
		return EventTemperature
	default:
		return EventUnrecognized
	}
}
