package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LoginPayload is the Data of POST_LOGIN.
type LoginPayload struct {
	Email    string `json:"Email"`
	Password string `json:"Password"`
}

// ReadingRequest is the Data of TAKE_DYN_READING.
type ReadingRequest struct {
	Serial Serial `json:"Serial"`
}

// ErrorPayload is the Data of RTN_ERR.
type ErrorPayload struct {
	Attempt string `json:"Attempt"`
	Error   string `json:"Error"`
}

// StatusPayload covers acknowledgements that carry an optional Success flag.
type StatusPayload struct {
	Success *bool  `json:"Success,omitempty"`
	Message string `json:"Message,omitempty"`
}

// SensorMetadata describes one sensor as reported by GET_DYN_CONNECTED.
type SensorMetadata struct {
	Serial          Serial `json:"Serial"`
	PartNumber      string `json:"PartNum"`
	ReadRate        int    `json:"ReadRate"`
	SampleCount     int    `json:"Samples"`
	GMode           string `json:"GMode"`
	FreqMode        string `json:"FreqMode"`
	HardwareVersion string `json:"HwVer"`
	FirmwareVersion string `json:"FmVer"`
	Connected       bool   `json:"Connected"`
}

type wireSensor struct {
	Serial          Serial          `json:"Serial"`
	PartNumber      string          `json:"PartNum"`
	ReadRate        flexInt         `json:"ReadRate"`
	SampleCount     flexInt         `json:"Samples"`
	GMode           json.RawMessage `json:"GMode"`
	FreqMode        json.RawMessage `json:"FreqMode"`
	HardwareVersion json.RawMessage `json:"HwVer"`
	FirmwareVersion json.RawMessage `json:"FmVer"`
	Connected       flexBool        `json:"Connected"`
}

// rawText renders a scalar that may be a string or a number as text.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v, err := scalarFromJSON(raw)
	if err != nil {
		return string(raw)
	}
	return v
}

// ParseSensors decodes the serial-keyed dictionary of an RTN_DYN response.
// A record without its own Serial takes the dictionary key. Results are
// ordered by serial so selection is deterministic.
func ParseSensors(data json.RawMessage) ([]SensorMetadata, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var dict map[string]wireSensor
	if err := json.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("decode sensor dictionary: %w", err)
	}

	sensors := make([]SensorMetadata, 0, len(dict))
	for key, w := range dict {
		serial := w.Serial
		if serial == "" {
			serial = NormalizeSerial(key)
		}
		sensors = append(sensors, SensorMetadata{
			Serial:          serial,
			PartNumber:      w.PartNumber,
			ReadRate:        int(w.ReadRate),
			SampleCount:     int(w.SampleCount),
			GMode:           rawText(w.GMode),
			FreqMode:        rawText(w.FreqMode),
			HardwareVersion: rawText(w.HardwareVersion),
			FirmwareVersion: rawText(w.FirmwareVersion),
			Connected:       bool(w.Connected),
		})
	}

	sort.Slice(sensors, func(i, j int) bool {
		return lessSerial(sensors[i].Serial, sensors[j].Serial)
	})
	return sensors, nil
}

func lessSerial(a, b Serial) bool {
	if a.IsNumeric() && b.IsNumeric() && len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
