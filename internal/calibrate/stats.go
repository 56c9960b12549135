// Package calibrate derives a silence threshold from observed ambient and
// speech loudness.
package calibrate

import (
	"slices"
)

// Phase identifies a calibration observation window.
type Phase string

// Calibration phases, in the order they run.
const (
	PhaseAmbient Phase = "ambient"
	PhaseSpeech  Phase = "speech"
)

// Stats summarizes the per-block RMS levels observed during one phase.
type Stats struct {
	Phase  Phase   `json:"phase"`
	Blocks int     `json:"blocks"`
	Mean   float64 `json:"mean"`
	Peak   float64 `json:"peak"`
	Min    float64 `json:"min"`
	P10    float64 `json:"p10"`
	P95    float64 `json:"p95"`
}

// Summarize computes phase statistics. An empty slice yields zero Stats
// with Blocks == 0.
func Summarize(phase Phase, levels []float64) Stats {
	s := Stats{Phase: phase, Blocks: len(levels)}
	if len(levels) == 0 {
		return s
	}

	sorted := slices.Clone(levels)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(len(sorted))
	s.Min = sorted[0]
	s.Peak = sorted[len(sorted)-1]
	s.P10 = percentile(sorted, 0.10)
	s.P95 = percentile(sorted, 0.95)
	return s
}

// percentile returns the nearest-rank value below p of an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)-1))
	return sorted[min(idx, len(sorted)-1)]
}
