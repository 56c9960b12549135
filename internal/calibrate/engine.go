package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/events"
)

// Default observation windows.
const (
	DefaultAmbientWindow = 3 * time.Second
	DefaultSpeechWindow  = 9 * time.Second

	blockQueue = 64
)

// ErrCancelled is returned by Wait when the calibration was cancelled.
var ErrCancelled = errors.New("calibration cancelled")

// Mode selects how phases advance.
type Mode int

const (
	// ModeUnattended runs both phases back-to-back on their windows.
	ModeUnattended Mode = iota
	// ModeInteractive waits for Advance before the speech phase and lets
	// Advance end a phase before its window elapses.
	ModeInteractive
)

// Config describes a calibration run.
type Config struct {
	Device  device.Config
	Ambient time.Duration
	Speech  time.Duration
	Options Options
}

// Progress is delivered to the progress callback for every block and on
// phase changes. The callback runs on the calibration goroutine and must
// return quickly.
type Progress struct {
	Phase   Phase
	Elapsed time.Duration // block clock within the phase
	Window  time.Duration
	Level   float64
	// Waiting is set between phases in interactive mode while the engine
	// waits for Advance.
	Waiting bool
}

// Report carries the phase statistics and, when the phases were separable,
// the recommendation.
type Report struct {
	ID             string          `json:"id"`
	Ambient        Stats           `json:"ambient"`
	Speech         Stats           `json:"speech"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

// Observer receives calibration outcomes.
type Observer interface {
	CalibrationFinished(outcome string)
}

// Calibration outcomes reported to the Observer and the event log.
const (
	OutcomeRecommended = "recommended"
	OutcomeAdvisory    = "advisory"
	OutcomeCancelled   = "cancelled"
	OutcomeFailed      = "failed"
)

// Engine runs calibrations against a device.
type Engine struct {
	opener   device.Opener
	cfg      Config
	observer Observer
	log      *events.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver reports calibration outcomes to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithEventLog records calibration outcomes to l.
func WithEventLog(l *events.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine returns an engine. Zero windows fall back to the defaults.
func NewEngine(opener device.Opener, cfg Config, opts ...Option) *Engine {
	if cfg.Ambient <= 0 {
		cfg.Ambient = DefaultAmbientWindow
	}
	if cfg.Speech <= 0 {
		cfg.Speech = DefaultSpeechWindow
	}
	e := &Engine{opener: opener, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs an unattended calibration and waits for its report.
func (e *Engine) Run(ctx context.Context, progress func(Progress)) (*Report, error) {
	c, err := e.Start(ctx, ModeUnattended, progress)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx)
}

// Start opens the device and begins a calibration. It fails with a
// *device.DeviceError when the device cannot be opened. Cancelling ctx
// cancels the calibration.
func (e *Engine) Start(ctx context.Context, mode Mode, progress func(Progress)) (*Calibration, error) {
	if err := e.cfg.Options.Validate(); err != nil {
		return nil, err
	}

	stream, err := e.opener.Open(e.cfg.Device)
	if err != nil {
		return nil, err
	}

	if progress == nil {
		progress = func(Progress) {}
	}

	c := &Calibration{
		id:       uuid.NewString(),
		engine:   e,
		mode:     mode,
		stream:   stream,
		progress: progress,
		format:   e.cfg.Device.Format(),
		advance:  make(chan struct{}, 1),
		cancelCh: make(chan struct{}),
		stopCh:   make(chan struct{}),
		finished: make(chan struct{}),
	}

	slog.Info("calibration started", "calibration_id", c.id, "interactive", mode == ModeInteractive,
		"ambient_window", e.cfg.Ambient, "speech_window", e.cfg.Speech)

	go c.run(ctx)
	return c, nil
}

// Calibration is a running calibration.
type Calibration struct {
	id       string
	engine   *Engine
	mode     Mode
	stream   device.Stream
	progress func(Progress)
	format   audio.Format

	advance    chan struct{}
	cancelOnce sync.Once
	cancelCh   chan struct{}
	stopCh     chan struct{}
	finished   chan struct{}

	report *Report
	err    error
}

// ID returns the calibration identifier.
func (c *Calibration) ID() string { return c.id }

// Advance signals the operator's phase transition. It never blocks and is
// ignored in unattended mode.
func (c *Calibration) Advance() {
	select {
	case c.advance <- struct{}{}:
	default:
	}
}

// Cancel stops the calibration and waits for it to release the device.
func (c *Calibration) Cancel() {
	c.cancelOnce.Do(func() { close(c.cancelCh) })
	<-c.finished
}

// Done is closed when the calibration has finished.
func (c *Calibration) Done() <-chan struct{} {
	return c.finished
}

// Wait returns the report once the calibration finishes. An *Advisory error
// comes with a report holding the phase statistics.
func (c *Calibration) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-c.finished:
		return c.report, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type blockItem struct {
	block audio.Block
	err   error
}

func (c *Calibration) run(ctx context.Context) {
	blocks := make(chan blockItem, blockQueue)
	overrun := make(chan error, 1)
	go c.produce(blocks, overrun)

	report, err := c.observeAll(ctx, blocks, overrun)
	c.finish(report, err)
}

func (c *Calibration) observeAll(ctx context.Context, blocks <-chan blockItem, overrun <-chan error) (*Report, error) {
	cfg := c.engine.cfg

	ambient, err := c.observe(ctx, PhaseAmbient, cfg.Ambient, blocks, overrun)
	if err != nil {
		return nil, err
	}

	if c.mode == ModeInteractive {
		if err := c.awaitAdvance(ctx, blocks, overrun); err != nil {
			return nil, err
		}
	}

	speech, err := c.observe(ctx, PhaseSpeech, cfg.Speech, blocks, overrun)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:      c.id,
		Ambient: Summarize(PhaseAmbient, ambient),
		Speech:  Summarize(PhaseSpeech, speech),
	}
	rec, err := Recommend(report.Ambient, report.Speech, cfg.Options)
	if err != nil {
		return report, err
	}
	report.Recommendation = rec
	return report, nil
}

// observe collects block levels until the window elapses on the block clock,
// or until Advance in interactive mode.
func (c *Calibration) observe(ctx context.Context, phase Phase, window time.Duration,
	blocks <-chan blockItem, overrun <-chan error) ([]float64, error) {
	var advance <-chan struct{}
	if c.mode == ModeInteractive {
		advance = c.advance
	}

	blockDur := c.format.FrameDuration(c.engine.cfg.Device.ChunkSize)
	levels := make([]float64, 0, int(window/max(blockDur, time.Millisecond))+1)
	var (
		frames  int
		elapsed time.Duration
	)

	c.progress(Progress{Phase: phase, Window: window})
	for !c.format.Reaches(frames, window) {
		select {
		case <-c.cancelCh:
			return nil, ErrCancelled
		case <-ctx.Done():
			return nil, ErrCancelled
		case err := <-overrun:
			return nil, err
		case <-advance:
			slog.Debug("calibration phase ended by operator", "calibration_id", c.id, "phase", phase, "elapsed", elapsed)
			return levels, nil
		case item := <-blocks:
			if item.err != nil {
				return nil, item.err
			}
			level := audio.RMS(item.block.Samples)
			levels = append(levels, level)
			frames += len(item.block.Samples) / max(c.format.Channels, 1)
			elapsed = c.format.FrameDuration(frames)
			c.progress(Progress{Phase: phase, Elapsed: elapsed, Window: window, Level: level})
		}
	}
	return levels, nil
}

// awaitAdvance discards blocks until the operator is ready for the speech phase.
func (c *Calibration) awaitAdvance(ctx context.Context, blocks <-chan blockItem, overrun <-chan error) error {
	c.progress(Progress{Phase: PhaseSpeech, Window: c.engine.cfg.Speech, Waiting: true})
	for {
		select {
		case <-c.cancelCh:
			return ErrCancelled
		case <-ctx.Done():
			return ErrCancelled
		case err := <-overrun:
			return err
		case <-c.advance:
			return nil
		case item := <-blocks:
			if item.err != nil {
				return item.err
			}
			c.progress(Progress{
				Phase:   PhaseSpeech,
				Window:  c.engine.cfg.Speech,
				Level:   audio.RMS(item.block.Samples),
				Waiting: true,
			})
		}
	}
}

// produce reads the device into the block queue. A full queue is reported
// as an overrun.
func (c *Calibration) produce(out chan<- blockItem, overrun chan<- error) {
	for {
		block, err := c.stream.Read()
		if err != nil {
			var se *device.StreamError
			if !errors.As(err, &se) {
				err = device.NewStreamError(err)
			}
			select {
			case out <- blockItem{err: err}:
			case <-c.stopCh:
			}
			return
		}

		select {
		case out <- blockItem{block: block}:
		case <-c.stopCh:
			return
		default:
			select {
			case overrun <- device.NewStreamError(device.ErrOverrun):
			default:
			}
			return
		}
	}
}

func (c *Calibration) finish(report *Report, err error) {
	close(c.stopCh)
	if cerr := c.stream.Close(); cerr != nil {
		slog.Warn("failed to close audio device", "calibration_id", c.id, "error", cerr)
	}

	outcome := OutcomeRecommended
	var advisory *Advisory
	switch {
	case errors.As(err, &advisory):
		outcome = OutcomeAdvisory
	case errors.Is(err, ErrCancelled):
		outcome = OutcomeCancelled
	case err != nil:
		outcome = OutcomeFailed
	}
	c.reportOutcome(outcome, report, err)

	c.report, c.err = report, err
	close(c.finished)
}

func (c *Calibration) reportOutcome(outcome string, report *Report, err error) {
	e := c.engine
	if e.observer != nil {
		e.observer.CalibrationFinished(outcome)
	}

	ev := &events.Event{SessionID: c.id, Event: events.EventCalibrated, Reason: outcome}
	switch outcome {
	case OutcomeRecommended:
		rec := report.Recommendation
		slog.Info("calibration finished", "calibration_id", c.id,
			"threshold", fmt.Sprintf("%.4f", rec.Threshold),
			"ambient_peak", report.Ambient.Peak, "speech_mean", report.Speech.Mean)
		ev.Threshold = rec.Threshold
		ev.SilenceDuration = rec.SilenceDuration.Seconds()
	case OutcomeAdvisory:
		slog.Warn("calibration advisory", "calibration_id", c.id, "error", err)
		ev.Event = events.EventAdvisory
		ev.Message = err.Error()
	case OutcomeCancelled:
		slog.Info("calibration cancelled", "calibration_id", c.id)
	default:
		slog.Error("calibration failed", "calibration_id", c.id, "error", err)
		ev.Error = err.Error()
	}
	if report != nil {
		ev.AmbientPeak = report.Ambient.Peak
		ev.SpeechMean = report.Speech.Mean
	}

	if logErr := e.log.Log(ev); logErr != nil {
		slog.Warn("failed to write event log", "error", logErr)
	}
}
