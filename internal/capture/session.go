package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/events"
)

// Session is one active recording. The processing goroutine exclusively owns
// the buffer and silence detector; other goroutines interact only through
// the status queue, Cancel and Wait.
type Session struct {
	id       string
	cfg      SessionConfig
	stream   device.Stream
	recorder *Recorder
	statuses *events.Queue[StatusEvent]

	cancelOnce sync.Once
	finishOnce sync.Once
	cancelCh   chan struct{} // closed by Cancel
	stopCh     chan struct{} // closed when the terminal state is decided
	finished   chan struct{} // closed once result is set

	result *Result
	err    error

	// Owned by the processing goroutine.
	buffer   *audio.Buffer
	detector *audio.SilenceDetector
	peaks    *audio.PeakHolder
	format   audio.Format
	frames   int
	elapsed  time.Duration
	seq      uint64
	last     StatusEvent
}

var errInternal = errors.New("internal error")

type blockItem struct {
	block audio.Block
	err   error
}

func newSession(id string, cfg SessionConfig, stream device.Stream, r *Recorder) *Session {
	return &Session{
		id:       id,
		cfg:      cfg,
		stream:   stream,
		recorder: r,
		statuses: events.NewQueue[StatusEvent](cfg.StatusBuffer),
		cancelCh: make(chan struct{}),
		stopCh:   make(chan struct{}),
		finished: make(chan struct{}),
		buffer:   audio.NewBuffer(cfg.Format()),
		detector: audio.NewSilenceDetector(audio.SilenceConfig{
			Threshold:  cfg.SilenceThreshold,
			Duration:   cfg.SilenceDuration,
			SampleRate: cfg.SampleRate,
		}),
		peaks:    audio.NewPeakHolder(),
		format:   cfg.Format(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

// PollStatus returns the oldest unread status event without blocking.
func (s *Session) PollStatus() (StatusEvent, bool) {
	return s.statuses.Poll()
}

// LatestStatus discards older unread events and returns the newest one.
func (s *Session) LatestStatus() (StatusEvent, bool) {
	return s.statuses.Latest()
}

// NextStatus waits for the next status event. It returns
// events.ErrQueueClosed after the final event has been read.
func (s *Session) NextStatus(ctx context.Context) (StatusEvent, error) {
	return s.statuses.Next(ctx)
}

// DroppedStatus returns how many status events were discarded because the
// consumer fell behind.
func (s *Session) DroppedStatus() uint64 {
	return s.statuses.Dropped()
}

// Done is closed when the session has stopped and its result is available.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Cancel stops the session with ReasonCancelled unless it has already
// stopped, in which case the existing result is returned unchanged. It always
// returns the captured buffer; the error is the stream error, if any.
func (s *Session) Cancel() (*Result, error) {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
	<-s.finished
	return s.result, s.err
}

// Wait suspends until the session stops and returns its result. On a
// device failure the partial result is returned with a *device.StreamError.
// A context error leaves the session running.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.finished:
		return s.result, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the processing goroutine.
func (s *Session) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in recording session", "session_id", s.id, "panic", r)
			s.finish(ReasonDeviceError, device.NewStreamError(errInternal))
		}
	}()

	blocks := make(chan blockItem, s.cfg.BlockQueue)
	overrun := make(chan error, 1)
	go s.produce(blocks, overrun)

	for {
		// Termination requests take priority over queued blocks.
		select {
		case <-s.cancelCh:
			s.cancel(blocks)
			return
		case <-ctx.Done():
			s.cancel(blocks)
			return
		case err := <-overrun:
			s.finish(ReasonDeviceError, err)
			return
		default:
		}

		select {
		case <-s.cancelCh:
			s.cancel(blocks)
			return
		case <-ctx.Done():
			s.cancel(blocks)
			return
		case err := <-overrun:
			s.finish(ReasonDeviceError, err)
			return
		case item := <-blocks:
			if item.err != nil {
				s.finish(ReasonDeviceError, item.err)
				return
			}
			if reason, stop := s.process(item.block); stop {
				s.finish(reason, nil)
				return
			}
		}
	}
}

// cancel keeps the blocks captured before the cancellation, then stops.
// Queued blocks are appended without detection so a cancel never turns into
// an automatic stop.
func (s *Session) cancel(blocks <-chan blockItem) {
	// Only this goroutine receives, so len never overstates what is queued.
	for range len(blocks) {
		item := <-blocks
		if item.err != nil {
			break
		}
		s.buffer.Append(item.block.Samples)
		s.advance(len(item.block.Samples))
	}
	s.finish(ReasonCancelled, nil)
}

// advance moves the block clock forward by n interleaved samples.
func (s *Session) advance(n int) {
	s.frames += n / max(s.format.Channels, 1)
	s.elapsed = s.format.FrameDuration(s.frames)
}

// produce reads the device into the block queue. A full queue is a terminal
// overrun rather than a silent drop.
func (s *Session) produce(out chan<- blockItem, overrun chan<- error) {
	for {
		block, err := s.stream.Read()
		if err != nil {
			var se *device.StreamError
			if !errors.As(err, &se) {
				err = device.NewStreamError(err)
			}
			select {
			case out <- blockItem{err: err}:
			case <-s.stopCh:
			}
			return
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case out <- blockItem{block: block}:
		case <-s.stopCh:
			return
		default:
			slog.Error("capture overrun", "session_id", s.id, "queued_blocks", cap(out))
			select {
			case overrun <- device.NewStreamError(device.ErrOverrun):
			default:
			}
			return
		}
	}
}

// process runs one block through loudness estimation and silence detection,
// appends it to the buffer and publishes its status. It reports whether the
// session must stop.
func (s *Session) process(block audio.Block) (StopReason, bool) {
	levels := audio.Measure(block.Samples)
	silence := s.detector.Update(levels.RMS, len(block.Samples)/max(s.format.Channels, 1))

	s.buffer.Append(block.Samples)
	s.advance(len(block.Samples))

	var reason StopReason
	switch {
	case silence.JustStopped:
		reason = ReasonSilence
	case s.format.Reaches(s.frames, s.cfg.MaxRecordingTime):
		reason = ReasonMaxDuration
	}

	s.last = StatusEvent{
		SessionID: s.id,
		Elapsed:   s.elapsed.Seconds(),
		Level:     levels.RMS,
		Peak:      s.peaks.Update(levels.Peak, s.elapsed),
		Silence:   silence.Accumulated.Seconds(),
		State:     StateRecording,
	}

	if obs := s.recorder.observer; obs != nil {
		obs.BlockProcessed(levels.RMS)
	}

	if reason != "" {
		return reason, true
	}
	s.publish(s.last)
	return "", false
}

// publish pushes a status event without ever blocking.
func (s *Session) publish(ev StatusEvent) {
	s.seq++
	ev.Seq = s.seq
	if s.statuses.Push(ev) {
		if obs := s.recorder.observer; obs != nil {
			obs.StatusDropped(1)
		}
	}
}

// finish decides the terminal state exactly once, releases the device and
// hands over the buffer. Waiters are released even if stopping panics.
func (s *Session) finish(reason StopReason, streamErr error) {
	s.finishOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic while stopping recording session", "session_id", s.id, "panic", r)
				s.err = device.NewStreamError(errInternal)
				s.result = &Result{
					SessionID: s.id,
					Buffer:    s.buffer,
					Reason:    ReasonDeviceError,
					Elapsed:   s.elapsed,
					Err:       s.err,
				}
				s.statuses.Close()
				s.recorder.release(s)
			}
			close(s.finished)
		}()

		close(s.stopCh)

		if err := s.stream.Close(); err != nil {
			slog.Warn("failed to close audio device", "session_id", s.id, "error", err)
		}

		final := s.last
		final.SessionID = s.id
		final.Elapsed = s.elapsed.Seconds()
		final.State = StateStopped
		final.Reason = reason
		s.publish(final)
		s.statuses.Close()

		s.report(reason, streamErr)

		s.result = &Result{
			SessionID: s.id,
			Buffer:    s.buffer,
			Reason:    reason,
			Elapsed:   s.elapsed,
			Err:       streamErr,
		}
		s.err = streamErr
		s.buffer = nil

		s.recorder.release(s)
	})
}

func (s *Session) report(reason StopReason, streamErr error) {
	attrs := []any{
		"session_id", s.id,
		"reason", string(reason),
		"elapsed", s.elapsed,
		"blocks", s.buffer.Blocks(),
		"dropped_status", s.statuses.Dropped(),
	}
	if streamErr != nil {
		slog.Warn("recording ended by device error", append(attrs, "error", streamErr)...)
	} else {
		slog.Info("recording stopped", attrs...)
	}

	if obs := s.recorder.observer; obs != nil {
		obs.SessionStopped(string(reason), s.elapsed)
	}

	ev := &events.Event{
		SessionID:      s.id,
		Event:          events.EventStopped,
		Reason:         string(reason),
		DurationSec:    s.elapsed.Seconds(),
		Samples:        s.buffer.Len(),
		DroppedUpdates: s.statuses.Dropped(),
	}
	if streamErr != nil {
		ev.Error = streamErr.Error()
	}
	s.recorder.logEvent(ev)
}
