package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
)

// fakeStream replays scripted blocks, then either fails with err or blocks
// until closed, like a live device.
type fakeStream struct {
	mu     sync.Mutex
	blocks [][]int16
	pos    int
	err    error

	closeOnce  sync.Once
	closed     chan struct{}
	closes     atomic.Int32
	panicClose bool
}

func newFakeStream(blocks [][]int16, err error) *fakeStream {
	return &fakeStream{blocks: blocks, err: err, closed: make(chan struct{})}
}

func (f *fakeStream) Read() (audio.Block, error) {
	f.mu.Lock()
	if f.pos < len(f.blocks) {
		b := f.blocks[f.pos]
		f.pos++
		f.mu.Unlock()
		return audio.Block{Samples: b, Captured: time.Now()}, nil
	}
	f.mu.Unlock()

	if f.err != nil {
		return audio.Block{}, f.err
	}
	<-f.closed
	return audio.Block{}, device.NewStreamError(device.ErrStreamClosed)
}

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	if f.panicClose {
		panic("driver crashed")
	}
	return nil
}

func (f *fakeStream) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

type fakeOpener struct {
	streams []*fakeStream
	err     error
	opened  int
	last    device.Config
}

func (o *fakeOpener) Open(cfg device.Config) (device.Stream, error) {
	o.last = cfg
	if o.err != nil {
		return nil, o.err
	}
	s := o.streams[o.opened]
	o.opened++
	return s, nil
}

// constBlock returns a block whose RMS equals level.
func constBlock(level float64, samples int) []int16 {
	v := int16(level * audio.MaxSampleValue)
	b := make([]int16, samples)
	for i := range b {
		b[i] = v
	}
	return b
}

func blocksOf(level float64, n, samples int) [][]int16 {
	out := make([][]int16, n)
	for i := range out {
		out[i] = constBlock(level, samples)
	}
	return out
}

type countingObserver struct {
	blocks  atomic.Int64
	dropped atomic.Int64
	stopped atomic.Value // string

	block   chan struct{} // when set, the first BlockProcessed waits on it
	blocked sync.Once
}

func (o *countingObserver) BlockProcessed(float64) {
	o.blocks.Add(1)
	if o.block != nil {
		o.blocked.Do(func() { <-o.block })
	}
}

func (o *countingObserver) StatusDropped(n int) { o.dropped.Add(int64(n)) }

func (o *countingObserver) SessionStopped(reason string, _ time.Duration) {
	o.stopped.Store(reason)
}
