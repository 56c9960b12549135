package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/calibrate"
	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/events"
	"github.com/oszuidwest/zwfm-dictation/internal/metrics"
	"github.com/oszuidwest/zwfm-dictation/internal/server"
	"github.com/oszuidwest/zwfm-dictation/internal/transcribe"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// App owns the device, the recorder and the collaborators around them and
// tracks what the process is doing. It is safe for concurrent use.
type App struct {
	ctx      context.Context
	cfg      *config.Config
	opener   device.Opener
	recorder *capture.Recorder
	metrics  *metrics.Metrics
	events   *events.Logger
	hub      *server.Hub

	mu          sync.Mutex
	state       string
	session     *capture.Session
	calibration *calibrate.Calibration
	waiting     bool
	level       float64
	elapsed     time.Duration
}

// NewApp wires the application from the loaded configuration. Background
// sessions started through the status server are bound to ctx.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	snap := cfg.Snapshot()

	ffmpegPath := ""
	if snap.AudioBackend == device.BackendCommand {
		ffmpegPath = util.ResolveExecutable(snap.FFmpegPath, "ffmpeg")
		if ffmpegPath == "" {
			slog.Warn("FFmpeg not found, capture will fail", "configured_path", snap.FFmpegPath)
		}
	}

	opener, err := device.New(snap.AudioBackend, ffmpegPath)
	if err != nil {
		return nil, err
	}

	var log *events.Logger
	if snap.HasEventLog() {
		log, err = events.NewLogger(snap.EventsPath)
		if err != nil {
			return nil, util.WrapError("open event log", err)
		}
	}

	m := metrics.New()
	return &App{
		ctx:      ctx,
		cfg:      cfg,
		opener:   opener,
		recorder: capture.NewRecorder(opener, capture.WithObserver(m), capture.WithEventLog(log)),
		metrics:  m,
		events:   log,
		hub:      server.NewHub(snap.StatusBuffer),
		state:    server.StateIdle,
	}, nil
}

// Close releases the event log.
func (a *App) Close() error {
	return a.events.Close()
}

// Hub returns the status fan-out used by the status server.
func (a *App) Hub() *server.Hub {
	return a.hub
}

// Metrics returns the application metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// acquire moves the app out of idle. It fails with server.ErrBusy when the
// device is already in use.
func (a *App) acquire(state string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != server.StateIdle {
		return server.ErrBusy
	}
	a.state = state
	a.level = 0
	a.elapsed = 0
	return nil
}

// handoff moves the app from one state to the next, but only while it still
// holds from. Work started by another caller in the meantime is left alone.
func (a *App) handoff(from, to string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return
	}
	a.state = to
	a.session = nil
	a.calibration = nil
	a.waiting = false
}

// release returns the app to idle if it is still in state.
func (a *App) release(state string) {
	a.handoff(state, server.StateIdle)
}

// Record runs one recording session with sc and returns its result. Status
// updates are passed to onStatus and published to status clients.
// Cancelling ctx cancels the session.
func (a *App) Record(ctx context.Context, sc capture.SessionConfig, onStatus func(capture.StatusEvent)) (*capture.Result, error) {
	return a.record(ctx, sc, onStatus, server.StateIdle)
}

// record is Record with the state to enter once the recording ends. A
// cancelled or failed start always returns to idle.
func (a *App) record(ctx context.Context, sc capture.SessionConfig, onStatus func(capture.StatusEvent), next string) (res *capture.Result, err error) {
	if err := a.acquire(server.StateRecording); err != nil {
		return nil, err
	}
	defer func() {
		if res == nil || res.Reason == capture.ReasonCancelled {
			next = server.StateIdle
		}
		a.handoff(server.StateRecording, next)
	}()

	sess, err := a.recorder.Start(ctx, sc)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()

	// The status queue is closed when the session finishes.
	for {
		ev, err := sess.NextStatus(context.Background())
		if err != nil {
			break
		}
		a.mu.Lock()
		a.level = ev.Level
		a.elapsed = time.Duration(ev.Elapsed * float64(time.Second))
		a.mu.Unlock()
		a.hub.Publish(server.NewLevelMessage(ev))
		if onStatus != nil {
			onStatus(ev)
		}
	}

	return sess.Wait(context.Background())
}

// Transcribe sends a finished recording to the configured backend. It fails
// with server.ErrBusy while the device is in use.
func (a *App) Transcribe(ctx context.Context, res *capture.Result) (string, error) {
	if err := a.acquire(server.StateTranscribing); err != nil {
		return "", err
	}
	defer a.release(server.StateTranscribing)
	return a.transcribe(ctx, res)
}

func (a *App) transcribe(ctx context.Context, res *capture.Result) (string, error) {
	t, err := transcribe.New(a.cfg.Snapshot().TranscriberConfig(), a.metrics)
	if err != nil {
		return "", err
	}

	text, err := t.Transcribe(ctx, res)
	msg := server.TranscriptMessage{Type: "transcript", SessionID: res.SessionID, Text: text}
	ev := &events.Event{SessionID: res.SessionID, Event: events.EventTranscribed}
	if err != nil {
		msg.Error = err.Error()
		ev.Event = events.EventFailed
		ev.Error = err.Error()
	}
	a.hub.Publish(msg)
	if lerr := a.events.Log(ev); lerr != nil {
		slog.Warn("failed to write event log", "event", ev.Event, "error", lerr)
	}
	return text, err
}

// Calibrate runs a calibration. In interactive mode every value received on
// input advances the calibration. Cancelling ctx cancels the calibration.
func (a *App) Calibrate(ctx context.Context, mode calibrate.Mode, progress func(calibrate.Progress), input <-chan string) (*calibrate.Report, error) {
	if err := a.acquire(server.StateCalibrating); err != nil {
		return nil, err
	}
	defer a.release(server.StateCalibrating)

	engine := calibrate.NewEngine(a.opener, a.cfg.Snapshot().CalibrationConfig(),
		calibrate.WithObserver(a.metrics), calibrate.WithEventLog(a.events))

	c, err := engine.Start(ctx, mode, func(p calibrate.Progress) {
		a.mu.Lock()
		var id string
		if a.calibration != nil {
			id = a.calibration.ID()
		}
		a.level = p.Level
		a.elapsed = p.Elapsed
		a.waiting = p.Waiting
		a.mu.Unlock()
		a.hub.Publish(server.CalibrationMessage{
			Type:          "calibration",
			CalibrationID: id,
			Phase:         string(p.Phase),
			Elapsed:       p.Elapsed.Seconds(),
			Window:        p.Window.Seconds(),
			Level:         p.Level,
			Waiting:       p.Waiting,
		})
		if progress != nil {
			progress(p)
		}
	})
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.calibration = c
	a.mu.Unlock()

	for {
		select {
		case _, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			c.Advance()
		case <-c.Done():
			return c.Wait(context.Background())
		}
	}
}

// --- server.Controller ---

// Status returns the current application state.
func (a *App) Status() server.Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := server.Status{
		Type:    "status",
		State:   a.state,
		Waiting: a.waiting,
		Level:   a.level,
		Version: Version,
		Clients: a.hub.Clients(),
	}
	if a.session != nil {
		st.SessionID = a.session.ID()
	}
	if a.calibration != nil {
		st.CalibrationID = a.calibration.ID()
	}
	if a.state == server.StateRecording || a.state == server.StateCalibrating {
		st.Elapsed = util.FormatDuration(a.elapsed)
	}
	return st
}

// StartSession records and transcribes in the background. The app goes
// straight from recording to transcribing, so no other session can claim the
// device in between.
func (a *App) StartSession() (string, error) {
	sc := a.cfg.Snapshot().SessionConfig()

	started := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		var once sync.Once
		res, err := a.record(a.ctx, sc, func(ev capture.StatusEvent) {
			once.Do(func() { started <- ev.SessionID })
		}, server.StateTranscribing)
		if err != nil && res == nil {
			errc <- err
			return
		}
		if res.Reason == capture.ReasonCancelled {
			return
		}
		defer a.release(server.StateTranscribing)
		if _, err := a.transcribe(a.ctx, res); err != nil {
			slog.Warn("transcription failed", "session_id", res.SessionID, "error", err)
		}
	}()

	select {
	case id := <-started:
		return id, nil
	case err := <-errc:
		return "", err
	}
}

// CancelSession cancels the active recording.
func (a *App) CancelSession(id string) (*capture.Result, error) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess == nil {
		return nil, server.ErrNoActiveSession
	}
	if id != "" && id != sess.ID() {
		return nil, server.ErrSessionMismatch
	}
	res, err := sess.Cancel()
	if res == nil {
		return nil, err
	}
	return res, nil
}

// AdvanceCalibration advances an interactive calibration.
func (a *App) AdvanceCalibration(id string) error {
	a.mu.Lock()
	c := a.calibration
	a.mu.Unlock()

	if c == nil {
		return server.ErrNoCalibration
	}
	if id != "" && id != c.ID() {
		return server.ErrCalibrationMismatch
	}
	c.Advance()
	return nil
}

// Devices lists capture devices when the backend supports it.
func (a *App) Devices() ([]device.Device, error) {
	lister, ok := a.opener.(device.Lister)
	if !ok {
		return nil, errors.New("audio backend cannot list devices")
	}
	return lister.Devices()
}
