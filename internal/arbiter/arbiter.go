// Package arbiter owns the single outbound audio track. It decides, at
// any instant, which producer feeds the track: the live microphone,
// forced silence, or a synthesized speech clip. Every other component
// requests transitions; none of them may touch the track directly.
package arbiter

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/media"
)

// Mode is the logical transmission mode.
type Mode int

const (
	ModeMicLive Mode = iota
	ModeMuted
	ModeTTSActive
)

func (m Mode) String() string {
	switch m {
	case ModeMicLive:
		return "MIC_LIVE"
	case ModeMuted:
		return "MUTED"
	case ModeTTSActive:
		return "TTS_ACTIVE"
	}
	return "UNKNOWN"
}

// Producer identifies what is currently bound to the outbound sender.
type Producer int

const (
	ProducerSilence Producer = iota
	ProducerMic
	ProducerTTS
)

func (p Producer) String() string {
	switch p {
	case ProducerMic:
		return "mic"
	case ProducerTTS:
		return "tts"
	}
	return "silence"
}

// Clip is one decoded synthesis payload with its display context.
type Clip struct {
	Audio   []int16
	Context string
}

// Snapshot is the externally visible outbound audio state.
type Snapshot struct {
	Mode     Mode
	Producer Producer
	Queued   int
}

const defaultInterClipDelay = 150 * time.Millisecond

// Arbiter serializes all producer switches: the old producer is fully
// detached before the next one is attached, and a switch arriving
// mid-transition waits its turn on the mutex.
type Arbiter struct {
	out           OutboundTrack
	mic           media.Source
	frameInterval time.Duration
	clipDelay     time.Duration

	// Notify, when set, receives a state snapshot after every
	// transition. Called on its own goroutine.
	Notify func(Snapshot)

	mu       sync.Mutex
	muted    bool
	synth    bool
	speaking bool
	playing  bool
	queue    []Clip
	gen      uint64 // playback generation, bumped to cancel stale completions
	producer Producer
	pump     *pump
	closed   bool
}

// New builds an arbiter bound to out. mic is the subscription the
// arbiter may transmit from; it starts detached (silence bound).
func New(out OutboundTrack, mic media.Source) *Arbiter {
	a := &Arbiter{
		out:           out,
		mic:           mic,
		frameInterval: media.FrameDuration,
		clipDelay:     defaultInterClipDelay,
	}
	a.mu.Lock()
	a.bindLocked(ProducerSilence, media.NewSilence(), true, nil)
	a.mu.Unlock()
	return a
}

// Mode derives the logical mode from the flags.
func (a *Arbiter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modeLocked()
}

func (a *Arbiter) modeLocked() Mode {
	switch {
	case a.muted:
		return ModeMuted
	case a.synth:
		return ModeTTSActive
	default:
		return ModeMicLive
	}
}

// State returns the current outbound snapshot.
func (a *Arbiter) State() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Mode: a.modeLocked(), Producer: a.producer, Queued: len(a.queue)}
}

// SetMuted toggles forced silence. A clip already playing continues to
// completion; the mode lands on MUTED once it ends.
func (a *Arbiter) SetMuted(muted bool) {
	a.mu.Lock()
	a.muted = muted
	if !a.playing {
		if !muted && a.synth && len(a.queue) > 0 {
			a.startNextLocked()
		} else {
			a.rebindLocked()
		}
	}
	a.mu.Unlock()
	a.notify()
}

// SetSynthesis enables or disables synthesis mode. Disabling discards
// the remaining queue, cancels any in-flight playback completion and
// rebinds the microphone path respecting the current mute state.
func (a *Arbiter) SetSynthesis(on bool) {
	a.mu.Lock()
	a.synth = on
	if !on {
		a.queue = nil
		a.playing = false
		a.gen++ // stale completion callbacks become no-ops
	}
	if !a.playing {
		a.rebindLocked()
	}
	a.mu.Unlock()
	a.notify()
}

// SpeechStart is the detector's speech-start signal. It enables the
// outbound microphone unless muted or synthesizing.
func (a *Arbiter) SpeechStart() {
	a.mu.Lock()
	a.speaking = true
	if !a.playing {
		a.rebindLocked()
	}
	a.mu.Unlock()
	a.notify()
}

// SpeechEnd is the detector's end-of-segment (or retraction) signal.
// The outbound track falls back to silence without changing the mode.
func (a *Arbiter) SpeechEnd() {
	a.mu.Lock()
	a.speaking = false
	if !a.playing {
		a.rebindLocked()
	}
	a.mu.Unlock()
	a.notify()
}

// Enqueue adds a synthesized clip. Clips play strictly in arrival
// order; an empty queue starts playback immediately unless muted.
func (a *Arbiter) Enqueue(clip Clip) {
	a.mu.Lock()
	if !a.synth || a.closed {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, clip)
	if !a.playing && !a.muted {
		a.startNextLocked()
	}
	a.mu.Unlock()
	a.notify()
}

// Close detaches the current producer and cancels all pending playback.
func (a *Arbiter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.queue = nil
	a.playing = false
	a.gen++
	if a.pump != nil {
		a.pump.stop()
		a.pump = nil
	}
}

// rebindLocked recomputes the producer from the flags and swaps it in
// if it changed.
func (a *Arbiter) rebindLocked() {
	want := ProducerSilence
	if !a.muted && !a.synth && a.speaking {
		want = ProducerMic
	}
	if want == a.producer && a.pump != nil {
		return
	}
	switch want {
	case ProducerMic:
		a.bindLocked(ProducerMic, a.mic, false, nil)
	default:
		a.bindLocked(ProducerSilence, media.NewSilence(), true, nil)
	}
}

func (a *Arbiter) startNextLocked() {
	clip := a.queue[0]
	a.queue = a.queue[1:]
	a.playing = true
	a.gen++
	gen := a.gen
	a.bindLocked(ProducerTTS, media.NewBuffer(clip.Audio), true, func() { a.clipDone(gen) })
	log.Debug().Str("module", "arbiter").Str("context", clip.Context).
		Int("queued", len(a.queue)).Msg("clip playback started")
}

// bindLocked is the single switch point: stop and join the old pump so
// the previous producer is fully detached, then attach the new one.
// ownsSrc is true for sources created for this bind; the pump closes
// those on exit and leaves shared sources (the mic) open.
func (a *Arbiter) bindLocked(p Producer, src media.Source, ownsSrc bool, onEOF func()) {
	if a.pump != nil {
		a.pump.stop()
	}
	if a.closed {
		return
	}
	a.producer = p
	a.pump = newPump(src, ownsSrc, a.out, a.frameInterval, onEOF)
	go a.pump.run()
	log.Debug().Str("module", "arbiter").Str("producer", p.String()).Msg("producer bound")
}

// clipDone runs when a clip's pump hits EOF. Stale generations (after
// leave or synthesis disable) are ignored.
func (a *Arbiter) clipDone(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.closed {
		a.mu.Unlock()
		return
	}
	a.playing = false
	a.rebindLocked()

	if len(a.queue) > 0 && a.synth && !a.muted {
		next := a.gen
		time.AfterFunc(a.clipDelay, func() {
			a.mu.Lock()
			if a.gen == next && a.synth && !a.muted && !a.playing && len(a.queue) > 0 {
				a.startNextLocked()
			}
			a.mu.Unlock()
			a.notify()
		})
	}
	a.mu.Unlock()
	a.notify()
}

func (a *Arbiter) notify() {
	if a.Notify == nil {
		return
	}
	snap := a.State()
	go a.Notify(snap)
}
