package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/media"
)

type countingTrack struct {
	mu      sync.Mutex
	samples int
}

func (c *countingTrack) WriteSample(pionmedia.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples++
	return nil
}

func (c *countingTrack) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}

// newTestArbiter shortens the pacing so clip playback completes within
// a few milliseconds.
func newTestArbiter() (*Arbiter, *countingTrack) {
	out := &countingTrack{}
	mic := media.NewSilence()
	a := New(out, mic)
	a.mu.Lock()
	a.frameInterval = time.Millisecond
	a.clipDelay = 5 * time.Millisecond
	a.mu.Unlock()
	return a, out
}

func clipOfFrames(n int) Clip {
	return Clip{Audio: make([]int16, n*media.FrameSamples), Context: "test"}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func TestArbiter_StartsSilent(t *testing.T) {
	a, out := newTestArbiter()
	defer a.Close()

	s := a.State()
	assert.Equal(t, ModeMicLive, s.Mode)
	assert.Equal(t, ProducerSilence, s.Producer)

	// Silence still produces frames; the track is never starved.
	waitFor(t, func() bool { return out.count() > 0 }, "silence frames flowing")
}

// countingMic records reads and close calls so tests can verify the
// shared subscription survives producer switches.
type countingMic struct {
	mu     sync.Mutex
	reads  int
	closed bool
}

func (m *countingMic) ReadFrame(ctx context.Context) (media.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, media.ErrSourceClosed
	}
	m.reads++
	return make(media.Frame, media.FrameSamples), nil
}

func (m *countingMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *countingMic) stats() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.closed
}

func TestArbiter_SpeechTogglesMic(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.SpeechStart()
	assert.Equal(t, ProducerMic, a.State().Producer)

	a.SpeechEnd()
	assert.Equal(t, ProducerSilence, a.State().Producer)
	assert.Equal(t, ModeMicLive, a.State().Mode, "speech end does not change the mode")
}

func TestArbiter_MicSurvivesProducerSwitches(t *testing.T) {
	mic := &countingMic{}
	a := New(&countingTrack{}, mic)
	a.mu.Lock()
	a.frameInterval = time.Millisecond
	a.mu.Unlock()
	defer a.Close()

	a.SpeechStart()
	waitFor(t, func() bool { n, _ := mic.stats(); return n > 0 }, "first segment transmits")

	a.SpeechEnd()
	_, closed := mic.stats()
	assert.False(t, closed, "detaching the mic producer must not close the shared subscription")

	// A later segment reuses the same subscription.
	a.SpeechStart()
	require.Equal(t, ProducerMic, a.State().Producer)
	before, _ := mic.stats()
	waitFor(t, func() bool { n, _ := mic.stats(); return n > before }, "second segment transmits")
}

func TestArbiter_MuteOverridesSpeech(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.SetMuted(true)
	a.SpeechStart()

	s := a.State()
	assert.Equal(t, ModeMuted, s.Mode)
	assert.Equal(t, ProducerSilence, s.Producer)

	// Unmuting mid-speech brings the mic straight back.
	a.SetMuted(false)
	assert.Equal(t, ProducerMic, a.State().Producer)
}

func TestArbiter_EnqueueRequiresSynthesisMode(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.Enqueue(clipOfFrames(1))
	assert.Zero(t, a.State().Queued)
	assert.Equal(t, ProducerSilence, a.State().Producer)
}

func TestArbiter_ClipPlaybackAndQueue(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.SetSynthesis(true)
	a.Enqueue(clipOfFrames(3))
	assert.Equal(t, ProducerTTS, a.State().Producer)

	// A clip arriving mid-playback queues instead of interrupting.
	a.Enqueue(clipOfFrames(1))
	s := a.State()
	assert.Equal(t, ProducerTTS, s.Producer)
	assert.Equal(t, 1, s.Queued)

	// Both clips drain in order, then the producer falls back.
	waitFor(t, func() bool {
		s := a.State()
		return s.Queued == 0 && s.Producer == ProducerSilence
	}, "queue drained")
	assert.Equal(t, ModeTTSActive, a.State().Mode)
}

func TestArbiter_MuteDuringClipLetsItFinish(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.SetSynthesis(true)
	a.Enqueue(clipOfFrames(5))
	require.Equal(t, ProducerTTS, a.State().Producer)

	a.SetMuted(true)
	// The clip keeps the track while it plays out.
	assert.Equal(t, ProducerTTS, a.State().Producer)
	assert.Equal(t, ModeMuted, a.State().Mode)

	waitFor(t, func() bool { return a.State().Producer == ProducerSilence }, "clip finished")
	assert.Equal(t, ModeMuted, a.State().Mode)
}

func TestArbiter_MutedQueueResumesOnUnmute(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.SetSynthesis(true)
	a.SetMuted(true)
	a.Enqueue(clipOfFrames(1))
	assert.Equal(t, 1, a.State().Queued, "muted clips wait in the queue")
	assert.Equal(t, ProducerSilence, a.State().Producer)

	a.SetMuted(false)
	assert.Equal(t, ProducerTTS, a.State().Producer)
	waitFor(t, func() bool { return a.State().Producer == ProducerSilence }, "clip finished")
}

func TestArbiter_DisableSynthesisDiscardsQueue(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	a.SetSynthesis(true)
	a.Enqueue(clipOfFrames(50))
	a.Enqueue(clipOfFrames(1))
	a.Enqueue(clipOfFrames(1))
	require.Equal(t, 2, a.State().Queued)

	a.SetSynthesis(false)
	s := a.State()
	assert.Zero(t, s.Queued)
	assert.Equal(t, ModeMicLive, s.Mode)
	assert.Equal(t, ProducerSilence, s.Producer)
}

func TestArbiter_NotifyReportsTransitions(t *testing.T) {
	a, _ := newTestArbiter()
	defer a.Close()

	var mu sync.Mutex
	var modes []Mode
	a.Notify = func(s Snapshot) {
		mu.Lock()
		modes = append(modes, s.Mode)
		mu.Unlock()
	}

	a.SetMuted(true)
	a.SetMuted(false)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(modes) >= 2
	}, "notifications delivered")
	mu.Lock()
	assert.Contains(t, modes, ModeMuted)
	mu.Unlock()
}

func TestArbiter_CloseStopsPlayback(t *testing.T) {
	a, out := newTestArbiter()

	a.SetSynthesis(true)
	a.Enqueue(clipOfFrames(100))
	a.Close()

	n := out.count()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, out.count(), n+1, "no frames after close")
}
