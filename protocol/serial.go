package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Serial is a sensor serial number in canonical text form. The gateway sends
// it as a JSON number in some messages and as a string in others; both decode
// to the same Serial, and digit-only serials lose leading zeros.
type Serial string

// NormalizeSerial canonicalises a textual serial.
func NormalizeSerial(s string) Serial {
	return Serial(normalizeScalar(s))
}

// String implements fmt.Stringer.
func (s Serial) String() string { return string(s) }

// IsNumeric reports whether the serial is a plain unsigned integer.
func (s Serial) IsNumeric() bool {
	_, err := strconv.ParseUint(string(s), 10, 64)
	return err == nil
}

// UnmarshalJSON accepts numbers and strings.
func (s *Serial) UnmarshalJSON(data []byte) error {
	v, err := scalarFromJSON(data)
	if err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	*s = Serial(v)
	return nil
}

// MarshalJSON writes numeric serials as JSON numbers, which is what commands
// expect, and anything else as a string.
func (s Serial) MarshalJSON() ([]byte, error) {
	if s.IsNumeric() {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

// ReadingID identifies one acquisition on the gateway. Same wire tolerance as Serial.
type ReadingID string

// UnmarshalJSON accepts numbers and strings.
func (id *ReadingID) UnmarshalJSON(data []byte) error {
	v, err := scalarFromJSON(data)
	if err != nil {
		return fmt.Errorf("reading id: %w", err)
	}
	*id = ReadingID(v)
	return nil
}

func scalarFromJSON(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return normalizeScalar(s), nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("expected number or string, got %s", data)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", err
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return n.String(), nil
}

func normalizeScalar(s string) string {
	s = strings.TrimSpace(s)
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(u, 10)
	}
	return s
}

// flexInt decodes integers that may arrive as numbers or numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	v, err := scalarFromJSON(data)
	if err != nil || v == "" {
		*f = 0
		return err
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", v)
	}
	*f = flexInt(n)
	return nil
}

// flexBool decodes booleans that may arrive as true/false, 0/1 or strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	v, err := scalarFromJSON(data)
	if err != nil {
		return err
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "connected":
		*f = true
	default:
		*f = false
	}
	return nil
}
