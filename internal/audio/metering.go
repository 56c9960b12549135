// Package audio provides loudness estimation, silence detection and the
// recording buffer used by capture sessions.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// Levels contains the loudness measurements of a single block.
type Levels struct {
	RMS     float64 // normalized to full scale, 0.0 to 1.0
	Peak    float64 // normalized to full scale, 0.0 to 1.0
	Clipped int     // samples at or near full scale
}

// RMS returns the root-mean-square loudness of samples normalized against
// the 16-bit full-scale range. Empty and all-zero input yield 0.0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares/float64(len(samples))) / MaxSampleValue
}

// Measure computes RMS, peak and clip count in a single pass.
func Measure(samples []int16) Levels {
	if len(samples) == 0 {
		return Levels{}
	}
	var (
		sumSquares float64
		peak       float64
		clipped    int
	)
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
		if s >= ClipThreshold || s <= -ClipThreshold {
			clipped++
		}
	}
	return Levels{
		RMS:     math.Sqrt(sumSquares/float64(len(samples))) / MaxSampleValue,
		Peak:    peak / MaxSampleValue,
		Clipped: clipped,
	}
}

// ToDB converts a normalized level to dBFS, floored at MinDB.
func ToDB(level float64) float64 {
	if level <= 0 {
		return MinDB
	}
	return max(20*math.Log10(level), MinDB)
}

// DecodeS16LE decodes little-endian signed 16-bit PCM into dst and returns
// the filled slice. A trailing odd byte is ignored.
func DecodeS16LE(buf []byte, dst []int16) []int16 {
	n := len(buf) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return dst
}
