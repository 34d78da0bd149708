package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/domain"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	closed     bool
	onClosed   func()
	senders    []Sender

	// gate, when set, blocks Connect until the test releases it.
	gate chan struct{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) (Sender, error) { return nil, nil }

func (f *fakeTransport) Senders() []Sender { return f.senders }

func (f *fakeTransport) OnClosed(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClosed = fn
}

func (f *fakeTransport) fireClosed() {
	f.mu.Lock()
	fn := f.onClosed
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	errs       []error
	dials      int
	gate       chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, _ domain.UserID) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	t := &fakeTransport{gate: d.gate}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeBroker struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (b *fakeBroker) Register(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	if i < len(b.errs) {
		return b.errs[i]
	}
	return nil
}

func TestManager_Register(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		b := &fakeBroker{}
		m := NewManager("alice", &fakeDialer{}, b)
		require.NoError(t, m.Register(context.Background()))
		assert.Equal(t, 1, b.calls)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		b := &fakeBroker{errs: []error{errors.New("down"), errors.New("down")}}
		m := NewManager("alice", &fakeDialer{}, b)
		require.NoError(t, m.Register(context.Background()))
		assert.Equal(t, 3, b.calls)
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		down := errors.New("down")
		b := &fakeBroker{errs: []error{down, down, down}}
		m := NewManager("alice", &fakeDialer{}, b)
		err := m.Register(context.Background())
		assert.ErrorIs(t, err, down)
		assert.Equal(t, 3, b.calls)
	})
}

func TestManager_ConnectToParticipant(t *testing.T) {
	t.Run("opens a link", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewManager("alice", d, nil)

		require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))
		state, ok := m.LinkState("bob")
		require.True(t, ok)
		assert.Equal(t, StateOpen, state)
	})

	t.Run("suppresses duplicate dials", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewManager("alice", d, nil)

		require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))
		require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))
		assert.Equal(t, 1, d.dialCount())
	})

	t.Run("retries once on a network error", func(t *testing.T) {
		d := &fakeDialer{errs: []error{ErrNetwork}}
		m := NewManager("alice", d, nil)

		require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))
		assert.Equal(t, 2, d.dialCount())
	})

	t.Run("non-retryable failure removes the reservation", func(t *testing.T) {
		bad := errors.New("compose failed")
		d := &fakeDialer{errs: []error{bad}}
		m := NewManager("alice", d, nil)

		err := m.ConnectToParticipant(context.Background(), "bob")
		assert.ErrorIs(t, err, bad)
		assert.Equal(t, 1, d.dialCount())
		assert.False(t, m.Has("bob"))
	})
}

func TestManager_AcceptIncoming(t *testing.T) {
	t.Run("auto-accepts when no link exists", func(t *testing.T) {
		m := NewManager("alice", &fakeDialer{}, nil)
		in := &fakeTransport{}

		assert.True(t, m.AcceptIncoming("bob", in))
		state, _ := m.LinkState("bob")
		assert.Equal(t, StateOpen, state)
	})

	t.Run("rejects a duplicate for an open link", func(t *testing.T) {
		m := NewManager("alice", &fakeDialer{}, nil)
		require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))

		assert.False(t, m.AcceptIncoming("bob", &fakeTransport{}))
	})

	t.Run("glare: smaller id yields its dial to the incoming call", func(t *testing.T) {
		m := NewManager("alice", &fakeDialer{}, nil)

		// Simulate an in-flight outgoing dial toward zed.
		outgoing := &fakeTransport{}
		m.mu.Lock()
		link := newLink("zed", outgoing, true)
		m.links["zed"] = link
		m.mu.Unlock()

		in := &fakeTransport{}
		assert.True(t, m.AcceptIncoming("zed", in), "alice < zed, incoming wins")
		assert.True(t, outgoing.isClosed(), "own dial must be aborted")
		state, _ := m.LinkState("zed")
		assert.Equal(t, StateOpen, state)
	})

	t.Run("glare: larger id keeps dialing and rejects incoming", func(t *testing.T) {
		m := NewManager("zed", &fakeDialer{}, nil)

		m.mu.Lock()
		m.links["alice"] = newLink("alice", &fakeTransport{}, true)
		m.mu.Unlock()

		assert.False(t, m.AcceptIncoming("alice", &fakeTransport{}), "zed > alice, own dial wins")
	})
}

// An incoming call racing a dial whose Connect has not returned yet:
// the incoming link wins and the stalled dial's transport is discarded.
func TestManager_GlareDuringInFlightDial(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := NewManager("alice", d, nil)

	done := make(chan error, 1)
	go func() { done <- m.ConnectToParticipant(context.Background(), "zed") }()

	require.Eventually(t, func() bool { return d.dialCount() == 1 }, time.Second, time.Millisecond)

	in := &fakeTransport{}
	assert.True(t, m.AcceptIncoming("zed", in), "alice < zed, incoming wins mid-dial")

	close(d.gate)
	require.NoError(t, <-done)

	state, ok := m.LinkState("zed")
	require.True(t, ok)
	assert.Equal(t, StateOpen, state)
	assert.False(t, in.isClosed())
	require.Eventually(t, func() bool { return d.transports[0].isClosed() },
		time.Second, time.Millisecond, "abandoned outgoing transport is closed")
}

type fakeSender struct {
	trackID string
	kind    string
	err     error

	mu       sync.Mutex
	replaced []string
}

func (s *fakeSender) TrackID() string { return s.trackID }
func (s *fakeSender) Kind() string    { return s.kind }

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.replaced = append(s.replaced, t.ID())
	return nil
}

func (s *fakeSender) replacedWith() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replaced...)
}

type fakeLocalTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (f *fakeLocalTrack) ID() string                { return f.id }
func (f *fakeLocalTrack) StreamID() string          { return "huddle" }
func (f *fakeLocalTrack) RID() string               { return "" }
func (f *fakeLocalTrack) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeLocalTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}

func (f *fakeLocalTrack) Unbind(webrtc.TrackLocalContext) error { return nil }

func TestManager_UpdateLocalTracks(t *testing.T) {
	staleAudio := &fakeSender{trackID: "audio-old", kind: "audio"}
	currentVideo := &fakeSender{trackID: "video-1", kind: "video"}
	m := NewManager("alice", &fakeDialer{}, nil)
	require.True(t, m.AcceptIncoming("bob", &fakeTransport{senders: []Sender{staleAudio, currentVideo}}))

	failing := &fakeSender{trackID: "audio-old", kind: "audio", err: errors.New("sender gone")}
	m.AcceptIncoming("carol", &fakeTransport{senders: []Sender{failing}})

	newAudio := &fakeLocalTrack{id: "audio-new", kind: webrtc.RTPCodecTypeAudio}
	sameVideo := &fakeLocalTrack{id: "video-1", kind: webrtc.RTPCodecTypeVideo}
	err := m.UpdateLocalTracks(context.Background(), []webrtc.TrackLocal{newAudio, sameVideo})
	require.NoError(t, err, "per-peer replacement failures never abort the pass")

	assert.Equal(t, []string{"audio-new"}, staleAudio.replacedWith(),
		"only the matching-kind sender with a differing track is replaced")
	assert.Empty(t, currentVideo.replacedWith(), "already-bound track is left alone")
}

func TestManager_RemoteCloseRemovesLink(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager("alice", d, nil)

	var closedRemote domain.UserID
	var mu sync.Mutex
	m.OnPeerClosed = func(r domain.UserID) {
		mu.Lock()
		closedRemote = r
		mu.Unlock()
	}

	require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))
	d.transports[0].fireClosed()

	assert.False(t, m.Has("bob"))
	mu.Lock()
	assert.Equal(t, domain.UserID("bob"), closedRemote)
	mu.Unlock()
}

func TestManager_CloseAll(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager("alice", d, nil)
	require.NoError(t, m.ConnectToParticipant(context.Background(), "bob"))
	require.NoError(t, m.ConnectToParticipant(context.Background(), "carol"))

	m.CloseAll()

	assert.False(t, m.Has("bob"))
	assert.False(t, m.Has("carol"))
	for _, ft := range d.transports {
		assert.True(t, ft.isClosed())
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(ErrNetwork))
	assert.True(t, retryable(errors.Join(errors.New("wrap"), ErrNetwork)))
	assert.False(t, retryable(errors.New("sdp parse failed")))
	assert.False(t, retryable(nil))
}
