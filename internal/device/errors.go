package device

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a device could not be opened.
type ErrorKind string

// Device error kinds.
const (
	KindNoDevice          ErrorKind = "no_device"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindBusy              ErrorKind = "busy"
	KindUnknown           ErrorKind = "unknown"
)

// Sentinel errors matched by DeviceError and StreamError through errors.Is.
var (
	ErrNoDevice          = errors.New("no audio input device found")
	ErrUnsupportedFormat = errors.New("unsupported sample rate or channel count")
	ErrDeviceBusy        = errors.New("audio device is busy")
	ErrStreamClosed      = errors.New("stream closed")
	ErrOverrun           = errors.New("capture overrun: blocks were not consumed in time")
)

// DeviceError is returned when a device cannot be opened.
type DeviceError struct {
	Kind   ErrorKind
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	if e.Err == nil {
		return fmt.Sprintf("open audio device %s: %s", name, e.Kind)
	}
	return fmt.Sprintf("open audio device %s: %v", name, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches the sentinel belonging to the error kind.
func (e *DeviceError) Is(target error) bool {
	switch e.Kind {
	case KindNoDevice:
		return target == ErrNoDevice
	case KindUnsupportedFormat:
		return target == ErrUnsupportedFormat
	case KindBusy:
		return target == ErrDeviceBusy
	}
	return false
}

func newDeviceError(kind ErrorKind, device string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Device: device, Err: err}
}

// StreamError terminates a stream that failed after it was opened.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("audio stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// NewStreamError wraps err as a terminal stream failure.
func NewStreamError(err error) *StreamError {
	return &StreamError{Err: err}
}
