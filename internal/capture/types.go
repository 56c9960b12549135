// Package capture coordinates recording sessions: it owns the device stream,
// runs loudness estimation and silence detection per block, enforces the
// maximum duration and cancellation, and publishes status events.
package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// Default queue sizes used when SessionConfig leaves them zero.
const (
	DefaultStatusBuffer = 64
	DefaultBlockQueue   = 64
)

// Sentinel errors for session operations.
var (
	ErrSessionActive = errors.New("a recording session is already active")
	ErrInvalidConfig = errors.New("invalid session config")
)

// StopReason tags why a session ended.
type StopReason string

// Stop reasons.
const (
	ReasonSilence     StopReason = "silence"
	ReasonMaxDuration StopReason = "max_duration"
	ReasonCancelled   StopReason = "cancelled"
	ReasonDeviceError StopReason = "device_error"
)

// String returns a human-readable description of the reason.
func (r StopReason) String() string {
	switch r {
	case ReasonSilence:
		return "silence detected"
	case ReasonMaxDuration:
		return "max duration reached"
	case ReasonCancelled:
		return "cancelled"
	case ReasonDeviceError:
		return "device error"
	default:
		return string(r)
	}
}

// SessionConfig is the immutable configuration of one recording.
type SessionConfig struct {
	Device           string        `json:"device"`
	SampleRate       int           `json:"sample_rate" validate:"gte=8000,lte=192000"`
	Channels         int           `json:"channels" validate:"gte=1,lte=8"`
	ChunkSize        int           `json:"chunk_size" validate:"gte=64,lte=65536"`
	SilenceThreshold float64       `json:"silence_threshold" validate:"gt=0,lt=1"`
	SilenceDuration  time.Duration `json:"silence_duration" validate:"gt=0"`
	MaxRecordingTime time.Duration `json:"max_recording_time" validate:"gt=0"`
	StatusBuffer     int           `json:"status_buffer" validate:"gte=0"`
	BlockQueue       int           `json:"block_queue" validate:"gte=0"`
}

// Validate reports configuration errors wrapped in ErrInvalidConfig.
func (c SessionConfig) Validate() error {
	if err := util.ValidateStruct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// BlockDuration returns the audio duration of one block.
func (c SessionConfig) BlockDuration() time.Duration {
	return c.Format().FrameDuration(c.ChunkSize)
}

// Format returns the PCM layout of the session.
func (c SessionConfig) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// DeviceConfig returns the stream parameters for the device adapter.
func (c SessionConfig) DeviceConfig() device.Config {
	return device.Config{
		Device:     c.Device,
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		ChunkSize:  c.ChunkSize,
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.StatusBuffer == 0 {
		c.StatusBuffer = DefaultStatusBuffer
	}
	if c.BlockQueue == 0 {
		c.BlockQueue = DefaultBlockQueue
	}
	return c
}

// State is the externally visible session state.
type State string

// Session states.
const (
	StateRecording State = "recording"
	StateStopped   State = "stopped"
)

// StatusEvent is published once per processed block and once when the session stops.
type StatusEvent struct {
	SessionID string     `json:"session_id"`
	Seq       uint64     `json:"seq"`
	Elapsed   float64    `json:"elapsed"` // seconds of audio captured
	Level     float64    `json:"level"`   // normalized RMS of the block, 0.0 to 1.0
	Peak      float64    `json:"peak"`    // held peak, 0.0 to 1.0
	Silence   float64    `json:"silence"` // seconds of accumulated silence
	State     State      `json:"state"`
	Reason    StopReason `json:"reason,omitempty"`
}

// Result is the outcome of a finished session. The buffer is handed over to
// the caller; the session keeps no other reference to it.
type Result struct {
	SessionID string
	Buffer    *audio.Buffer
	Reason    StopReason
	// Elapsed is the audio duration captured, measured on the block clock.
	Elapsed time.Duration
	// Err is the stream error that ended the session, if any.
	Err error
}

// Observer receives per-session measurements, typically for metrics.
type Observer interface {
	BlockProcessed(level float64)
	StatusDropped(n int)
	SessionStopped(reason string, elapsed time.Duration)
}
