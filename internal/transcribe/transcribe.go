// Package transcribe turns finished recordings into text through a
// speech-to-text backend.
package transcribe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/capture"
)

// Backend names accepted by New.
const (
	BackendAPI     = "api"
	BackendCommand = "command"
)

// MinAudioDuration is the shortest recording that is sent for transcription.
const MinAudioDuration = 300 * time.Millisecond

var (
	// ErrNoSpeech is returned when the backend found no words in the audio.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrTooShort is returned for recordings below MinAudioDuration.
	ErrTooShort = errors.New("recording too short to transcribe")
	// ErrNotConfigured is returned when a backend lacks required settings.
	ErrNotConfigured = errors.New("transcription backend not configured")
)

// Transcriber converts a recording result into text.
type Transcriber interface {
	Transcribe(ctx context.Context, res *capture.Result) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	// API backend.
	Endpoint   string
	APIKey     string
	Model      string
	Language   string
	Timeout    time.Duration
	MaxRetries int

	// Command backend.
	Command   string
	ModelPath string
	Threads   int
}

// Observer receives the outcome of every transcription call.
type Observer interface {
	TranscriptionFinished(backend string, elapsed time.Duration, err error)
}

// New returns the configured backend. A non-nil observer is notified of
// every call.
func New(cfg Config, obs Observer) (Transcriber, error) {
	var t Transcriber
	switch cfg.Backend {
	case "", BackendAPI:
		api, err := NewAPI(cfg)
		if err != nil {
			return nil, err
		}
		t = api
	case BackendCommand:
		cmd, err := NewCommand(cfg)
		if err != nil {
			return nil, err
		}
		t = cmd
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}

	if obs != nil {
		t = &observed{next: t, backend: cmp.Or(cfg.Backend, BackendAPI), obs: obs}
	}
	return t, nil
}

// observed reports each call to an Observer.
type observed struct {
	next    Transcriber
	backend string
	obs     Observer
}

func (o *observed) Transcribe(ctx context.Context, res *capture.Result) (string, error) {
	start := time.Now()
	text, err := o.next.Transcribe(ctx, res)
	o.obs.TranscriptionFinished(o.backend, time.Since(start), err)
	return text, err
}

// checkResult rejects results that carry no meaningful audio.
func checkResult(res *capture.Result) error {
	if res == nil || res.Buffer == nil {
		return ErrTooShort
	}
	if d := res.Buffer.Duration(); d < MinAudioDuration {
		return fmt.Errorf("%w: %s", ErrTooShort, d)
	}
	return nil
}

// nonSpeech matches bracketed markers speech models emit for non-speech audio.
var nonSpeech = regexp.MustCompile(`(?i)\[(blank_audio|music|noise|silence|speaking|sound|beep|applause|laughter|cough)\]|\((blank|no audio|inaudible)\)`)

var punctSpace = strings.NewReplacer(" ,", ",", " .", ".", " ?", "?", " !", "!")

// Clean strips non-speech markers and whitespace artifacts from model output.
// It returns ErrNoSpeech when nothing remains.
func Clean(text string) (string, error) {
	text = nonSpeech.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	text = punctSpace.Replace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
