// Package waveform decodes the gateway's X/Y/Z waveform strings into samples.
package waveform

import (
	"fmt"
	"math"

	"github.com/c360/ctcgateway/errors"
)

// Options bound what counts as a plausible waveform.
type Options struct {
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
	MinValue   float64 `json:"min_value" yaml:"min_value"`
	MaxValue   float64 `json:"max_value" yaml:"max_value"`
	// FloatWidth fixes the base64 sample width in bytes (4 or 8). Zero tries
	// float32 first, then float64.
	FloatWidth int `json:"float_width" yaml:"float_width"`
}

// DefaultOptions returns the decoder defaults.
func DefaultOptions() Options {
	return Options{
		MinSamples: 2,
		MinValue:   -1e4,
		MaxValue:   1e4,
	}
}

// Validate checks option consistency.
func (o Options) Validate() error {
	if o.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1, got %d", o.MinSamples)
	}
	if o.MinValue >= o.MaxValue {
		return fmt.Errorf("min_value %g must be below max_value %g", o.MinValue, o.MaxValue)
	}
	if o.FloatWidth != 0 && o.FloatWidth != 4 && o.FloatWidth != 8 {
		return fmt.Errorf("float_width must be 0, 4 or 8, got %d", o.FloatWidth)
	}
	return nil
}

// Axis is one decoded axis.
type Axis struct {
	Samples []float64 `json:"samples"`
	Stats   Stats     `json:"stats"`
}

// Waveform is a decoded triple.
type Waveform struct {
	Strategy Strategy `json:"strategy"`
	X        Axis     `json:"x"`
	Y        Axis     `json:"y"`
	Z        Axis     `json:"z"`
}

type strategy struct {
	name  Strategy
	parse parseFunc
}

// Decoder tries each strategy in order and accepts the first whose output
// validates on all three axes. It holds no per-call state.
type Decoder struct {
	opts       Options
	strategies []strategy
}

// NewDecoder creates a decoder. Invalid options fall back to the defaults.
func NewDecoder(opts Options) *Decoder {
	if opts.Validate() != nil {
		opts = DefaultOptions()
	}
	return &Decoder{
		opts: opts,
		strategies: []strategy{
			{StrategyDelimited, parseDelimited},
			{StrategyJSONArray, parseJSONArray},
			{StrategyBase64Float, newBase64Parser(opts.FloatWidth)},
		},
	}
}

// Decode converts the three raw axis strings. On failure the returned
// *errors.WaveformDecodeError names every strategy and why it was rejected.
func (d *Decoder) Decode(rawX, rawY, rawZ string) (*Waveform, error) {
	axes := [3]struct {
		name string
		raw  string
	}{{"X", rawX}, {"Y", rawY}, {"Z", rawZ}}

	decodeErr := &errors.WaveformDecodeError{}

	for _, s := range d.strategies {
		var out [3][]float64
		failure := ""
		failedAxis := ""

		for i, axis := range axes {
			samples, err := s.parse(axis.raw, d.check)
			if err == nil {
				err = d.check(samples)
			}
			if err != nil {
				failure, failedAxis = err.Error(), axis.name
				break
			}
			out[i] = samples
		}

		if failure == "" && (len(out[0]) != len(out[1]) || len(out[0]) != len(out[2])) {
			failure = fmt.Sprintf("sample counts differ: X=%d Y=%d Z=%d", len(out[0]), len(out[1]), len(out[2]))
		}

		if failure != "" {
			decodeErr.Failures = append(decodeErr.Failures, errors.StrategyFailure{
				Strategy: string(s.name),
				Axis:     failedAxis,
				Reason:   failure,
			})
			continue
		}

		return &Waveform{
			Strategy: s.name,
			X:        Axis{Samples: out[0], Stats: ComputeStats(out[0])},
			Y:        Axis{Samples: out[1], Stats: ComputeStats(out[1])},
			Z:        Axis{Samples: out[2], Stats: ComputeStats(out[2])},
		}, nil
	}

	return nil, decodeErr
}

// check validates one axis: finite, enough samples, within range.
func (d *Decoder) check(samples []float64) error {
	if len(samples) < d.opts.MinSamples {
		return fmt.Errorf("%d samples, need at least %d", len(samples), d.opts.MinSamples)
	}
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sample %d is not finite", i)
		}
		if v < d.opts.MinValue || v > d.opts.MaxValue {
			return fmt.Errorf("sample %d = %g outside [%g, %g]", i, v, d.opts.MinValue, d.opts.MaxValue)
		}
	}
	return nil
}
