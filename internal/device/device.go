// Package device adapts system audio inputs into streams of fixed-size sample blocks.
package device

import (
	"fmt"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
)

// Backend names accepted by New.
const (
	BackendPortAudio = "portaudio"
	BackendCommand   = "command"
)

// Config describes the stream to open.
type Config struct {
	// Device is the backend-specific device identifier; empty selects the default input.
	Device string
	// SampleRate is the capture rate in Hz.
	SampleRate int
	// Channels is the number of interleaved channels.
	Channels int
	// ChunkSize is the number of frames per delivered block.
	ChunkSize int
}

// Format returns the PCM layout of blocks delivered for this config.
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// BlockSamples returns the number of interleaved samples in one block.
func (c Config) BlockSamples() int {
	return c.ChunkSize * c.Channels
}

// Stream delivers blocks from an open device.
//
// Read blocks until the next block is available and always returns exactly
// ChunkSize*Channels samples on success. Device failures are returned as a
// *StreamError; once Read fails the stream is finished. Close releases the
// device, is idempotent and may be called concurrently with Read.
type Stream interface {
	Read() (audio.Block, error)
	Close() error
}

// Opener opens device streams. Open fails with a *DeviceError.
type Opener interface {
	Open(cfg Config) (Stream, error)
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}

// Lister enumerates input devices.
type Lister interface {
	Devices() ([]Device, error)
}

// New returns the opener for the named backend.
// The ffmpegPath is used by the command backend on platforms that capture through FFmpeg.
func New(backend, ffmpegPath string) (Opener, error) {
	switch backend {
	case "", BackendPortAudio:
		return NewPortAudio(), nil
	case BackendCommand:
		return NewCommand(ffmpegPath), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}
