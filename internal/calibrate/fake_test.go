package calibrate

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
)

// feedStream delivers blocks sent on feed. Closing feed or the stream ends it.
type feedStream struct {
	feed      chan []int16
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

func newFeedStream() *feedStream {
	return &feedStream{feed: make(chan []int16), closed: make(chan struct{})}
}

func (s *feedStream) Read() (audio.Block, error) {
	select {
	case samples, ok := <-s.feed:
		if !ok {
			return audio.Block{}, device.NewStreamError(s.err)
		}
		return audio.Block{Samples: samples}, nil
	case <-s.closed:
		return audio.Block{}, device.NewStreamError(device.ErrStreamClosed)
	}
}

func (s *feedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// scriptStream replays a fixed list of blocks and then waits for Close.
type scriptStream struct {
	mu        sync.Mutex
	blocks    [][]int16
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptStream(blocks [][]int16) *scriptStream {
	return &scriptStream{blocks: blocks, closed: make(chan struct{})}
}

func (s *scriptStream) Read() (audio.Block, error) {
	s.mu.Lock()
	if len(s.blocks) > 0 {
		b := s.blocks[0]
		s.blocks = s.blocks[1:]
		s.mu.Unlock()
		return audio.Block{Samples: b}, nil
	}
	s.mu.Unlock()
	<-s.closed
	return audio.Block{}, device.NewStreamError(device.ErrStreamClosed)
}

func (s *scriptStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeOpener struct {
	stream device.Stream
	err    error
}

func (o *fakeOpener) Open(device.Config) (device.Stream, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) CalibrationFinished(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *outcomeRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

const blockFrames = 1600 // 100 ms at 16 kHz

func constBlock(v int16) []int16 {
	b := make([]int16, blockFrames)
	for i := range b {
		b[i] = v
	}
	return b
}

func repeat(v int16, n int) [][]int16 {
	out := make([][]int16, n)
	for i := range out {
		out[i] = constBlock(v)
	}
	return out
}

func testConfig() Config {
	return Config{
		Device:  device.Config{SampleRate: 16000, Channels: 1, ChunkSize: blockFrames},
		Ambient: 300 * time.Millisecond,
		Speech:  500 * time.Millisecond,
		Options: DefaultOptions(),
	}
}
