package calibrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/events"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunUnattendedRecommends(t *testing.T) {
	// Ambient at ~0.02, speech at ~0.25, with spare blocks after the windows.
	blocks := append(repeat(655, 3), repeat(8192, 8)...)
	stream := newScriptStream(blocks)
	obs := &outcomeRecorder{}
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := events.NewLogger(logPath)
	require.NoError(t, err)

	e := NewEngine(&fakeOpener{stream: stream}, testConfig(), WithObserver(obs), WithEventLog(logger))

	var phases []Phase
	report, err := e.Run(testContext(t), func(p Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	})
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	assert.Equal(t, []Phase{PhaseAmbient, PhaseSpeech}, phases)
	assert.Equal(t, 3, report.Ambient.Blocks)
	assert.Equal(t, 5, report.Speech.Blocks)
	require.NotNil(t, report.Recommendation)
	assert.Greater(t, report.Recommendation.Threshold, report.Ambient.Peak)
	assert.Less(t, report.Recommendation.Threshold, report.Speech.Mean)
	assert.Equal(t, []string{OutcomeRecommended}, obs.get())

	select {
	case <-stream.closed:
	default:
		t.Fatal("device not closed")
	}

	logged, err := events.ReadLast(logPath, 1)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, events.EventCalibrated, logged[0].Event)
	assert.Equal(t, report.ID, logged[0].SessionID)
}

func TestRunWindowsWithFractionalBlockPeriod(t *testing.T) {
	// 1000 frames at 48 kHz is 20.8333... ms: each 0.5 s window is exactly 24 blocks.
	block := func(v int16) []int16 {
		b := make([]int16, 1000)
		for i := range b {
			b[i] = v
		}
		return b
	}
	var blocks [][]int16
	for range 24 {
		blocks = append(blocks, block(655))
	}
	for range 30 {
		blocks = append(blocks, block(8192))
	}

	cfg := testConfig()
	cfg.Device = device.Config{SampleRate: 48000, Channels: 1, ChunkSize: 1000}
	cfg.Ambient = 500 * time.Millisecond
	cfg.Speech = 500 * time.Millisecond
	e := NewEngine(&fakeOpener{stream: newScriptStream(blocks)}, cfg)

	report, err := e.Run(testContext(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 24, report.Ambient.Blocks)
	assert.Equal(t, 24, report.Speech.Blocks)
}

func TestRunUnattendedAdvisory(t *testing.T) {
	stream := newScriptStream(repeat(6000, 10))
	obs := &outcomeRecorder{}
	e := NewEngine(&fakeOpener{stream: stream}, testConfig(), WithObserver(obs))

	report, err := e.Run(testContext(t), nil)
	require.ErrorIs(t, err, ErrIndistinguishable)
	require.NotNil(t, report)
	assert.Nil(t, report.Recommendation)
	assert.Equal(t, 3, report.Ambient.Blocks)
	assert.Equal(t, []string{OutcomeAdvisory}, obs.get())
}

func TestStartDeviceError(t *testing.T) {
	openErr := &device.DeviceError{Kind: device.KindBusy}
	e := NewEngine(&fakeOpener{err: openErr}, testConfig())
	_, err := e.Start(testContext(t), ModeUnattended, nil)
	require.ErrorIs(t, err, device.ErrDeviceBusy)
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Options.Bias = 2
	e := NewEngine(&fakeOpener{stream: newScriptStream(nil)}, cfg)
	_, err := e.Start(testContext(t), ModeUnattended, nil)
	require.Error(t, err)
}

func TestStreamErrorDuringPhase(t *testing.T) {
	stream := newFeedStream()
	stream.err = errors.New("usb unplugged")
	obs := &outcomeRecorder{}
	e := NewEngine(&fakeOpener{stream: stream}, testConfig(), WithObserver(obs))

	c, err := e.Start(testContext(t), ModeUnattended, nil)
	require.NoError(t, err)
	stream.feed <- constBlock(100)
	close(stream.feed)

	report, err := c.Wait(testContext(t))
	assert.Nil(t, report)
	var se *device.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{OutcomeFailed}, obs.get())
}

func TestCancel(t *testing.T) {
	stream := newFeedStream()
	e := NewEngine(&fakeOpener{stream: stream}, testConfig())
	c, err := e.Start(testContext(t), ModeUnattended, nil)
	require.NoError(t, err)

	c.Cancel()
	_, err = c.Wait(testContext(t))
	require.ErrorIs(t, err, ErrCancelled)
	c.Cancel()
}

func TestInteractiveOperatorDrivesPhases(t *testing.T) {
	stream := newFeedStream()
	cfg := testConfig()
	cfg.Ambient = time.Minute
	cfg.Speech = time.Minute
	e := NewEngine(&fakeOpener{stream: stream}, cfg)

	progress := make(chan Progress, 64)
	c, err := e.Start(testContext(t), ModeInteractive, func(p Progress) { progress <- p })
	require.NoError(t, err)

	next := func() Progress {
		t.Helper()
		select {
		case p := <-progress:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no progress")
			return Progress{}
		}
	}
	feed := func(v int16) Progress {
		t.Helper()
		stream.feed <- constBlock(v)
		return next()
	}

	assert.Equal(t, PhaseAmbient, next().Phase) // phase start
	for range 2 {
		p := feed(655)
		assert.Equal(t, PhaseAmbient, p.Phase)
		assert.False(t, p.Waiting)
	}

	c.Advance()
	assert.True(t, next().Waiting)

	// Blocks while waiting are discarded.
	assert.True(t, feed(20000).Waiting)

	c.Advance()
	p := next()
	assert.Equal(t, PhaseSpeech, p.Phase)
	assert.False(t, p.Waiting)
	for range 3 {
		assert.Equal(t, PhaseSpeech, feed(8192).Phase)
	}
	c.Advance()

	report, err := c.Wait(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ambient.Blocks)
	assert.Equal(t, 3, report.Speech.Blocks)
	assert.InDelta(t, 8192.0/32768, report.Speech.Mean, 1e-9)
	require.NotNil(t, report.Recommendation)
}
