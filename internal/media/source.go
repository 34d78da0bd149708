// Package media holds the audio building blocks of the client: frame
// sources the arbiter can bind to the outbound track, the WAV codec
// used for transcription payloads, and the local speech detector.
package media

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"
)

const (
	// Fixed transmission format: mono 16 kHz 16-bit PCM.
	SampleRate   = 16000
	FrameMillis  = 20
	FrameSamples = SampleRate * FrameMillis / 1000

	FrameDuration = FrameMillis * time.Millisecond
)

// Frame is one block of mono PCM16 samples.
type Frame []int16

// ErrSourceClosed is returned by ReadFrame after Close.
var ErrSourceClosed = errors.New("source closed")

// Source produces audio frames. ReadFrame blocks until the next frame
// is available and returns io.EOF when the source is exhausted (only
// finite sources do). Sources are not paced; the consumer schedules
// reads at the frame interval.
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Silence emits zeroed frames forever. It is the default producer when
// nothing else may speak.
type Silence struct {
	once   sync.Once
	closed chan struct{}
}

func NewSilence() *Silence {
	return &Silence{closed: make(chan struct{})}
}

func (s *Silence) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSourceClosed
	default:
		return make(Frame, FrameSamples), nil
	}
}

func (s *Silence) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Buffer plays a fixed PCM buffer frame by frame and then reports EOF.
// Used for decoded synthesis clips.
type Buffer struct {
	mu     sync.Mutex
	data   []int16
	pos    int
	closed bool
}

func NewBuffer(data []int16) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrSourceClosed
	}
	if b.pos >= len(b.data) {
		return nil, io.EOF
	}
	end := min(b.pos+FrameSamples, len(b.data))
	out := make(Frame, FrameSamples)
	copy(out, b.data[b.pos:end])
	b.pos = end
	return out, nil
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Reader adapts a little-endian PCM16 byte stream (a capture pipe, a
// file) into a Source. It is the microphone stand-in on platforms where
// capture is an external process.
type Reader struct {
	mu     sync.Mutex
	r      io.Reader
	closed bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrSourceClosed
	}
	raw := make([]byte, FrameSamples*2)
	if _, err := io.ReadFull(r.r, raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	out := make(Frame, FrameSamples)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
