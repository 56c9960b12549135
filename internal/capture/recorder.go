package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/events"
)

// Recorder starts recording sessions on a device. At most one session is
// active at a time. It is safe for concurrent use.
type Recorder struct {
	opener   device.Opener
	observer Observer
	log      *events.Logger

	mu     sync.Mutex
	active *Session
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithObserver reports block and session measurements to o.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observer = o }
}

// WithEventLog records session lifecycle events to l.
func WithEventLog(l *events.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// NewRecorder returns a Recorder that opens streams through opener.
func NewRecorder(opener device.Opener, opts ...Option) *Recorder {
	r := &Recorder{opener: opener}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the device and begins a new session.
//
// It fails with ErrSessionActive while another session is running, with an
// ErrInvalidConfig error for a bad config, and with a *device.DeviceError
// when the device cannot be opened. Cancelling ctx cancels the session.
func (r *Recorder) Start(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, ErrSessionActive
	}

	stream, err := r.opener.Open(cfg.DeviceConfig())
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.NewString(), cfg, stream, r)
	r.active = s

	slog.Info("recording started", "session_id", s.id,
		"threshold", cfg.SilenceThreshold, "silence_duration", cfg.SilenceDuration,
		"max_recording_time", cfg.MaxRecordingTime)
	r.logEvent(&events.Event{SessionID: s.id, Event: events.EventStarted})

	go s.run(ctx)
	return s, nil
}

// Active returns the running session, or nil.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// release clears the active session once it has finished.
func (r *Recorder) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == s {
		r.active = nil
	}
}

func (r *Recorder) logEvent(e *events.Event) {
	if err := r.log.Log(e); err != nil {
		slog.Warn("failed to write event log", "event", e.Event, "error", err)
	}
}
