package device

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
)

// PortAudio opens blocking-read input streams through the PortAudio library.
type PortAudio struct{}

// NewPortAudio returns a PortAudio opener.
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Devices returns the input-capable devices known to PortAudio.
func (p *PortAudio) Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "error", err)
		}
	}()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		name := info.Name
		if info.HostApi != nil {
			name = fmt.Sprintf("%s (%s)", info.Name, info.HostApi.Name)
		}
		devices = append(devices, Device{ID: info.Name, Name: name})
	}
	return devices, nil
}

// Open opens the configured input device and starts the stream.
func (p *PortAudio) Open(cfg Config) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, newDeviceError(KindUnknown, cfg.Device, fmt.Errorf("portaudio: initialize: %w", err))
	}

	s, err := openPortAudio(cfg)
	if err != nil {
		if termErr := portaudio.Terminate(); termErr != nil {
			slog.Warn("portaudio: terminate failed", "error", termErr)
		}
		return nil, err
	}

	slog.Info("audio input opened", "backend", BackendPortAudio, "device", s.device,
		"sample_rate", cfg.SampleRate, "channels", cfg.Channels, "chunk_size", cfg.ChunkSize)
	return s, nil
}

func openPortAudio(cfg Config) (*portAudioStream, error) {
	info, err := findInputDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if info.MaxInputChannels < cfg.Channels {
		return nil, newDeviceError(KindUnsupportedFormat, info.Name,
			fmt.Errorf("%w: device has %d input channels, %d requested", ErrUnsupportedFormat, info.MaxInputChannels, cfg.Channels))
	}

	buf := make([]int16, cfg.BlockSamples())
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.ChunkSize,
	}

	if err := portaudio.IsFormatSupported(params, buf); err != nil {
		return nil, newDeviceError(classifyPortAudio(err), info.Name, err)
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, newDeviceError(classifyPortAudio(err), info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, newDeviceError(classifyPortAudio(err), info.Name, err)
	}

	return &portAudioStream{
		device: info.Name,
		stream: stream,
		buf:    buf,
	}, nil
}

// findInputDevice returns the named input device or the system default.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil || info == nil {
			return nil, newDeviceError(KindNoDevice, "", errors.Join(ErrNoDevice, err))
		}
		return info, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, newDeviceError(KindUnknown, name, err)
	}
	idx := slices.IndexFunc(infos, func(d *portaudio.DeviceInfo) bool {
		return d.Name == name && d.MaxInputChannels > 0
	})
	if idx < 0 {
		return nil, newDeviceError(KindNoDevice, name, ErrNoDevice)
	}
	return infos[idx], nil
}

// classifyPortAudio maps PortAudio error codes to device error kinds.
func classifyPortAudio(err error) ErrorKind {
	var paErr portaudio.Error
	if !errors.As(err, &paErr) {
		return KindUnknown
	}
	switch paErr {
	case portaudio.InvalidSampleRate, portaudio.InvalidChannelCount, portaudio.SampleFormatNotSupported:
		return KindUnsupportedFormat
	case portaudio.DeviceUnavailable:
		return KindBusy
	case portaudio.InvalidDevice:
		return KindNoDevice
	default:
		return KindUnknown
	}
}

// portAudioStream serializes Read and Close so the native stream is never
// released while a read is in flight.
type portAudioStream struct {
	device string
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// Read blocks until one full buffer has been captured.
func (s *portAudioStream) Read() (audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audio.Block{}, NewStreamError(ErrStreamClosed)
	}
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return audio.Block{}, NewStreamError(fmt.Errorf("%w: %w", ErrOverrun, err))
		}
		return audio.Block{}, NewStreamError(fmt.Errorf("portaudio: read from %s: %w", s.device, err))
	}

	return audio.Block{
		Samples:  slices.Clone(s.buf),
		Captured: time.Now(),
	}, nil
}

// Close stops the stream and releases PortAudio. It is idempotent.
func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	slog.Debug("audio input closed", "backend", BackendPortAudio, "device", s.device)
	return errors.Join(errs...)
}
