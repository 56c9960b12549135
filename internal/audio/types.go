package audio

import "time"

// Block is one fixed-size chunk of interleaved signed 16-bit samples as delivered by a capture device.
type Block struct {
	// Samples holds Frames*Channels interleaved samples.
	Samples []int16
	// Captured is the wall-clock arrival time of the block.
	Captured time.Time
}

// Format describes the PCM layout of blocks and buffers.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameDuration returns the duration of n frames.
func (f Format) FrameDuration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Reaches reports whether n frames last at least d, compared exactly on the
// frame count rather than on rounded durations.
func (f Format) Reaches(n int, d time.Duration) bool {
	if f.SampleRate <= 0 {
		return false
	}
	return int64(n)*int64(time.Second) >= int64(d)*int64(f.SampleRate)
}

// SampleDuration returns the duration of n interleaved samples.
func (f Format) SampleDuration(n int) time.Duration {
	if f.Channels <= 0 {
		return 0
	}
	return f.FrameDuration(n / f.Channels)
}
