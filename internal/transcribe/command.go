package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// DefaultCommand is the whisper.cpp command line tool.
const DefaultCommand = "whisper-cli"

// Command transcribes with a local whisper.cpp style CLI. The recording is
// written to a temporary WAV file that is removed after the call.
type Command struct {
	path      string
	modelPath string
	language  string
	threads   int
	timeout   time.Duration
}

// NewCommand returns the command backend. A model path is required.
func NewCommand(cfg Config) (*Command, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path is empty", ErrNotConfigured)
	}
	path := cfg.Command
	if path == "" {
		path = DefaultCommand
	}
	return &Command{
		path:      path,
		modelPath: cfg.ModelPath,
		language:  cfg.Language,
		threads:   cfg.Threads,
		timeout:   cfg.Timeout,
	}, nil
}

// Args returns the arguments passed for the given WAV file.
func (c *Command) Args(wavPath string) []string {
	args := []string{"-m", c.modelPath, "-f", wavPath, "-nt", "-np"}
	if c.language != "" {
		args = append(args, "-l", c.language)
	}
	if c.threads > 0 {
		args = append(args, "-t", strconv.Itoa(c.threads))
	}
	return args
}

// Transcribe runs the CLI on the recording and returns the cleaned transcript.
func (c *Command) Transcribe(ctx context.Context, res *capture.Result) (string, error) {
	if err := checkResult(res); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "zwfm-dictation-*.wav")
	if err != nil {
		return "", util.WrapError("create temp file", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		return "", util.WrapError("close temp file", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove temp audio", "path", path, "error", err)
		}
	}()

	if err := res.Buffer.WriteWAVFile(path); err != nil {
		return "", util.WrapError("write wav", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.path, c.Args(path)...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running transcription command", "command", c.path, "session_id", res.SessionID)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := util.LastLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s failed: %w: %s", c.path, err, msg)
		}
		return "", fmt.Errorf("%s failed: %w", c.path, err)
	}

	return Clean(stdout.String())
}
