package waveform

import "math"

// Stats summarises one axis.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	RMS   float64 `json:"rms"`
	Count int     `json:"count"`
}

// Accumulator computes Stats in a single pass without retaining samples.
type Accumulator struct {
	min, max   float64
	sum, sumSq float64
	count      int
}

// Add folds one sample into the running totals.
func (a *Accumulator) Add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.sumSq += v * v
	a.count++
}

// Stats returns the summary so far. All fields are zero for an empty accumulator.
func (a *Accumulator) Stats() Stats {
	if a.count == 0 {
		return Stats{}
	}
	n := float64(a.count)
	return Stats{
		Min:   a.min,
		Max:   a.max,
		Mean:  a.sum / n,
		RMS:   math.Sqrt(a.sumSq / n),
		Count: a.count,
	}
}

// ComputeStats summarises samples.
func ComputeStats(samples []float64) Stats {
	var acc Accumulator
	for _, v := range samples {
		acc.Add(v)
	}
	return acc.Stats()
}
