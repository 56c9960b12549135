package audio

import (
	"errors"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// bitDepth is the sample depth of every buffer.
const bitDepth = 16

// Buffer is the growable recording of one session.
// It is owned by a single goroutine and is not safe for concurrent use.
type Buffer struct {
	format  Format
	samples []int16
	blocks  int
}

// NewBuffer returns an empty buffer for the given format.
func NewBuffer(format Format) *Buffer {
	return &Buffer{format: format}
}

// Append adds one block of samples in capture order.
func (b *Buffer) Append(samples []int16) {
	b.samples = append(b.samples, samples...)
	b.blocks++
}

// Format returns the PCM layout of the buffer.
func (b *Buffer) Format() Format { return b.format }

// Samples returns the interleaved samples. The slice aliases the buffer.
func (b *Buffer) Samples() []int16 { return b.samples }

// Len returns the number of interleaved samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Blocks returns how many blocks were appended.
func (b *Buffer) Blocks() int { return b.blocks }

// Duration returns the audio duration held by the buffer.
func (b *Buffer) Duration() time.Duration {
	return b.format.SampleDuration(len(b.samples))
}

// EncodeWAV writes the buffer as a 16-bit PCM WAV stream.
func (b *Buffer) EncodeWAV(w io.WriteSeeker) error {
	enc := wav.NewEncoder(w, b.format.SampleRate, bitDepth, b.format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: b.format.Channels,
			SampleRate:  b.format.SampleRate,
		},
		Data:           make([]int, len(b.samples)),
		SourceBitDepth: bitDepth,
	}
	for i, s := range b.samples {
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		return errors.Join(err, enc.Close())
	}
	return enc.Close()
}

// WAV returns the buffer encoded as an in-memory WAV file.
func (b *Buffer) WAV() ([]byte, error) {
	var ws writeSeeker
	if err := b.EncodeWAV(&ws); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WriteWAVFile writes the buffer to path as a WAV file.
func (b *Buffer) WriteWAVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := b.EncodeWAV(f); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to patch chunk sizes.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
