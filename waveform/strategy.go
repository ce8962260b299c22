package waveform

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Strategy names a decoding approach.
type Strategy string

// Strategies in the order they are attempted.
const (
	StrategyDelimited   Strategy = "delimited"
	StrategyJSONArray   Strategy = "json_array"
	StrategyBase64Float Strategy = "base64_float"
)

// parseFunc turns one axis string into samples. check validates a candidate
// so the base64 strategy can fall back between float widths.
type parseFunc func(raw string, check func([]float64) error) ([]float64, error)

func parseDelimited(raw string, _ func([]float64) error) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty input")
	}
	fields := strings.Split(raw, ",")
	if strings.TrimSpace(fields[len(fields)-1]) == "" {
		fields = fields[:len(fields)-1]
	}

	samples := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %q is not a number", i, truncate(f))
		}
		samples = append(samples, v)
	}
	return samples, nil
}

func parseJSONArray(raw string, _ func([]float64) error) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil, fmt.Errorf("quoted array: %v", err)
		}
		raw = strings.TrimSpace(inner)
	}
	if !strings.HasPrefix(raw, "[") {
		return nil, fmt.Errorf("not a bracketed array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("array: %v", err)
	}

	samples := make([]float64, 0, len(items))
	for i, item := range items {
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, fmt.Errorf("element %d: %s is not numeric", i, truncate(string(item)))
		}
		v, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("element %d: %v", i, err)
		}
		samples = append(samples, v)
	}
	return samples, nil
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// newBase64Parser decodes little-endian IEEE-754 floats. width 0 tries
// float32 and falls back to float64 when float32 output fails check.
func newBase64Parser(width int) parseFunc {
	return func(raw string, check func([]float64) error) ([]float64, error) {
		payload, err := decodeBase64(raw)
		if err != nil {
			return nil, err
		}

		switch width {
		case 4, 8:
			return floatsLE(payload, width)
		}

		f32, err32 := floatsLE(payload, 4)
		if err32 == nil {
			if err32 = check(f32); err32 == nil {
				return f32, nil
			}
		}
		f64, err64 := floatsLE(payload, 8)
		if err64 != nil {
			return nil, fmt.Errorf("float32: %v; float64: %v", err32, err64)
		}
		return f64, nil
	}
}

func decodeBase64(raw string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, raw)
	if compact == "" {
		return nil, fmt.Errorf("empty input")
	}

	var lastErr error
	for _, enc := range base64Encodings {
		b, err := enc.DecodeString(compact)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("not base64: %v", lastErr)
}

func floatsLE(payload []byte, width int) ([]float64, error) {
	if len(payload) == 0 || len(payload)%width != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of %d", len(payload), width)
	}
	samples := make([]float64, 0, len(payload)/width)
	for off := 0; off < len(payload); off += width {
		if width == 4 {
			samples = append(samples, float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))))
			continue
		}
		samples = append(samples, math.Float64frombits(binary.LittleEndian.Uint64(payload[off:])))
	}
	return samples, nil
}

func truncate(s string) string {
	const max = 24
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
