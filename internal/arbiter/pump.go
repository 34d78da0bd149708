package arbiter

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/media"
)

// OutboundTrack is the single outbound sender the arbiter writes to.
// *webrtc.TrackLocalStaticSample satisfies it.
type OutboundTrack interface {
	WriteSample(pionmedia.Sample) error
}

// pump moves frames from one source onto the outbound track at the
// frame interval. Exactly one pump runs at a time; stop() joins the
// goroutine so a producer switch never overlaps transmissions.
type pump struct {
	src      media.Source
	out      OutboundTrack
	interval time.Duration
	onEOF    func()

	// ownsSrc marks sources created for this bind (silence, clip
	// buffers). The shared mic subscription outlives its pumps and
	// must never be closed here.
	ownsSrc bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPump(src media.Source, ownsSrc bool, out OutboundTrack, interval time.Duration, onEOF func()) *pump {
	ctx, cancel := context.WithCancel(context.Background())
	return &pump{
		src:      src,
		out:      out,
		interval: interval,
		onEOF:    onEOF,
		ownsSrc:  ownsSrc,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (p *pump) run() {
	defer close(p.done)
	defer func() {
		if p.ownsSrc {
			_ = p.src.Close()
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
		frame, err := p.src.ReadFrame(p.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) && p.onEOF != nil {
				// Completion is reported off this goroutine so the
				// arbiter can join the pump without deadlocking.
				go p.onEOF()
			} else if !errors.Is(err, context.Canceled) && !errors.Is(err, media.ErrSourceClosed) {
				log.Warn().Err(err).Str("module", "arbiter").Msg("source read failed")
			}
			return
		}
		if err := p.out.WriteSample(toSample(frame)); err != nil {
			log.Warn().Err(err).Str("module", "arbiter").Msg("outbound write failed")
			return
		}
	}
}

// stop cancels the pump and waits until it has fully detached.
func (p *pump) stop() {
	p.cancel()
	<-p.done
}

func toSample(f media.Frame) pionmedia.Sample {
	data := make([]byte, len(f)*2)
	for i, s := range f {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return pionmedia.Sample{Data: data, Duration: media.FrameDuration}
}
