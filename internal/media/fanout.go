package media

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Fanout reads one capture source and feeds every subscriber. The
// microphone is read exactly once; the speech detector and the outbound
// arbiter each get their own subscription.
type Fanout struct {
	src Source

	mu     sync.Mutex
	subs   []*ChannelSource
	closed bool
}

func NewFanout(src Source) *Fanout {
	return &Fanout{src: src}
}

// Subscribe returns a Source fed by the capture loop. Slow subscribers
// drop frames rather than stalling the capture.
func (f *Fanout) Subscribe() *ChannelSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := &ChannelSource{ch: make(chan Frame, 8), closed: make(chan struct{})}
	f.subs = append(f.subs, cs)
	return cs
}

// Run pumps the capture source until it ends or ctx is canceled.
func (f *Fanout) Run(ctx context.Context) {
	defer f.closeSubs()
	for {
		frame, err := f.src.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("module", "media.fanout").Msg("capture read failed")
			}
			return
		}
		f.mu.Lock()
		subs := f.subs
		f.mu.Unlock()
		for _, cs := range subs {
			select {
			case cs.ch <- frame:
			default:
			}
		}
	}
}

func (f *Fanout) closeSubs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, cs := range f.subs {
		cs.Close()
	}
}

// ChannelSource is a Source fed by a Fanout.
type ChannelSource struct {
	ch     chan Frame
	once   sync.Once
	closed chan struct{}
}

func (c *ChannelSource) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case f := <-c.ch:
		return f, nil
	}
}

func (c *ChannelSource) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
