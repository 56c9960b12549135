package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// shutdownTimeout bounds how long a capture process may take to exit after being signalled.
const shutdownTimeout = 2 * time.Second

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for audio capture.
	BuildArgs func(device string, cfg Config) []string

	// ListDevices describes how to enumerate capture devices.
	ListDevices DeviceListConfig
}

// Command opens streams by running a capture process that writes raw
// S16LE PCM to its stdout.
type Command struct {
	ffmpegPath string
	platform   CaptureConfig
}

// NewCommand returns a command-backed opener for the current platform.
func NewCommand(ffmpegPath string) *Command {
	return &Command{ffmpegPath: ffmpegPath, platform: getPlatformConfig()}
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If cfg.Device is empty, it uses the platform default or the first listed device.
func (c *Command) BuildCaptureCommand(cfg Config) (cmd, device string, args []string, err error) {
	device = cfg.Device
	if device == "" {
		device = c.platform.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices, _ := c.Devices()
		if len(devices) == 0 {
			return "", "", nil, newDeviceError(KindNoDevice, "", ErrNoDevice)
		}
		device = devices[0].ID
	}

	command := c.platform.Command
	if c.platform.UsesFFmpeg && c.ffmpegPath != "" {
		command = c.ffmpegPath
	}

	return command, device, c.platform.BuildArgs(device, cfg), nil
}

// Devices returns available capture devices for the current platform.
func (c *Command) Devices() ([]Device, error) {
	return parseDeviceList(c.platform.ListDevices), nil
}

// Open starts the capture process and waits for the first block so that
// device failures are reported here rather than on the first Read.
func (c *Command) Open(cfg Config) (Stream, error) {
	name, dev, args, err := c.BuildCaptureCommand(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("starting audio capture", "command", name, "input", dev,
		"sample_rate", cfg.SampleRate, "channels", cfg.Channels, "chunk_size", cfg.ChunkSize)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = shutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, newDeviceError(KindUnknown, dev, err)
	}

	s := &commandStream{
		device:   dev,
		cmd:      cmd,
		cancel:   cancel,
		stdout:   stdout,
		buf:      make([]byte, cfg.BlockSamples()*2),
		waitDone: make(chan struct{}),
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, newDeviceError(KindNoDevice, dev, fmt.Errorf("capture command %s not found: %w", name, err))
		}
		return nil, newDeviceError(KindUnknown, dev, err)
	}
	go s.wait()

	first, err := s.readBlock()
	if err != nil {
		s.terminate()
		msg := util.LastLine(s.stderr.String())
		return nil, newDeviceError(classifyCaptureError(msg), dev, captureFailure(msg, err))
	}
	s.pending = &first

	return s, nil
}

// commandStream reads fixed-size blocks from a capture process.
type commandStream struct {
	device string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr bytes.Buffer // written by the exec copier; read only after waitDone
	buf    []byte

	mu      sync.Mutex
	pending *audio.Block
	closed  bool

	closeOnce sync.Once
	waitDone  chan struct{}
	waitErr   error
}

func (s *commandStream) wait() {
	s.waitErr = s.cmd.Wait()
	close(s.waitDone)
}

// terminate stops the process and waits for it to exit.
func (s *commandStream) terminate() {
	s.cancel()
	<-s.waitDone
}

func (s *commandStream) readBlock() (audio.Block, error) {
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		return audio.Block{}, err
	}
	return audio.Block{
		Samples:  audio.DecodeS16LE(s.buf, nil),
		Captured: time.Now(),
	}, nil
}

// Read returns the next block from the capture process.
func (s *commandStream) Read() (audio.Block, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Block{}, NewStreamError(ErrStreamClosed)
	}
	if p := s.pending; p != nil {
		s.pending = nil
		s.mu.Unlock()
		return *p, nil
	}
	s.mu.Unlock()

	block, err := s.readBlock()
	if err == nil {
		return block, nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return audio.Block{}, NewStreamError(ErrStreamClosed)
	}

	s.terminate()
	msg := util.LastLine(s.stderr.String())
	slog.Error("audio capture process failed", "device", s.device, "error", err, "stderr", msg)
	return audio.Block{}, NewStreamError(captureFailure(msg, err))
}

// Close stops the capture process. It is idempotent.
func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.terminate()
		slog.Debug("audio capture stopped", "device", s.device)
	})
	return nil
}

// captureFailure combines the process error with its last stderr line.
func captureFailure(stderr string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = errors.New("capture process exited")
	}
	if stderr == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, stderr)
}

// classifyCaptureError maps capture tool diagnostics to a device error kind.
func classifyCaptureError(stderr string) ErrorKind {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return KindBusy
	case strings.Contains(msg, "no such"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "cannot find"), strings.Contains(msg, "could not find"),
		strings.Contains(msg, "input/output error"):
		return KindNoDevice
	case strings.Contains(msg, "sample format"), strings.Contains(msg, "rate"),
		strings.Contains(msg, "channels count"), strings.Contains(msg, "not supported"),
		strings.Contains(msg, "invalid argument"):
		return KindUnsupportedFormat
	default:
		return KindUnknown
	}
}
