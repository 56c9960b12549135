package audio

import (
	"sync"
	"time"
)

// DetectorState is the state of the auto-stop state machine.
type DetectorState string

// Detector states.
const (
	StateRecording DetectorState = "recording"
	StateStopped   DetectorState = "stopped"
)

// SilenceConfig holds the thresholds for silence detection.
type SilenceConfig struct {
	Threshold  float64       // normalized RMS below which a block is silent
	Duration   time.Duration // silence required before stopping
	SampleRate int           // frames per second of the blocks fed to Update
}

// SilenceEvent represents the result of a silence detection update.
type SilenceEvent struct {
	State       DetectorState
	Silent      bool          // block was below threshold
	Accumulated time.Duration // silence measured since the onset of the current run
	JustStopped bool          // true only on the block that caused the transition
}

// SilenceDetector decides when a recording should stop after sustained silence.
//
// Silence is measured from the onset of a silent run on the block clock: the
// first silent block marks the onset and every further silent block adds its
// frames to the run. A block at or above the threshold resets the run. Once the
// accumulated silence reaches the configured duration the detector enters
// StateStopped and stays there until Reset.
//
// It is safe for concurrent use.
type SilenceDetector struct {
	mu          sync.Mutex
	cfg         SilenceConfig
	format  Format
	inRun   bool
	frames  int
	stopped bool
}

// NewSilenceDetector creates a detector in StateRecording.
func NewSilenceDetector(cfg SilenceConfig) *SilenceDetector {
	return &SilenceDetector{cfg: cfg, format: Format{SampleRate: cfg.SampleRate, Channels: 1}}
}

// Update feeds the loudness of one block of the given length in frames and
// returns the resulting state.
func (d *SilenceDetector) Update(level float64, frames int) SilenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return SilenceEvent{State: StateStopped, Silent: level < d.cfg.Threshold, Accumulated: d.accumulatedLocked()}
	}

	if level >= d.cfg.Threshold {
		d.inRun = false
		d.frames = 0
		return SilenceEvent{State: StateRecording}
	}

	if d.inRun {
		d.frames += frames
	} else {
		d.inRun = true
		d.frames = 0
	}

	event := SilenceEvent{
		State:       StateRecording,
		Silent:      true,
		Accumulated: d.accumulatedLocked(),
	}
	if d.format.Reaches(d.frames, d.cfg.Duration) {
		d.stopped = true
		event.State = StateStopped
		event.JustStopped = true
	}
	return event
}

// State returns the current detector state.
func (d *SilenceDetector) State() DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return StateStopped
	}
	return StateRecording
}

// Accumulated returns the silence measured in the current run.
func (d *SilenceDetector) Accumulated() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accumulatedLocked()
}

func (d *SilenceDetector) accumulatedLocked() time.Duration {
	return d.format.FrameDuration(d.frames)
}

// Reset returns the detector to StateRecording with no accumulated silence.
func (d *SilenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inRun = false
	d.frames = 0
	d.stopped = false
}
