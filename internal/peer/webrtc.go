package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
)

// OfferExchanger relays SDP between peers. Exchange blocks until the
// remote answer arrives or ctx expires.
type OfferExchanger interface {
	Exchange(ctx context.Context, remote domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

const controlChannelLabel = "control"

func DefaultWebRTCConfig(stunServer string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{stunServer}},
		},
	}
}

// WebRTCDialer opens outgoing pion transports. LocalTracks supplies the
// current outbound media at dial time.
type WebRTCDialer struct {
	Config      webrtc.Configuration
	Exchanger   OfferExchanger
	LocalTracks func() []webrtc.TrackLocal
}

func (d *WebRTCDialer) Dial(_ context.Context, remote domain.UserID) (Transport, error) {
	pc, err := webrtc.NewPeerConnection(d.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	t := newTransport(pc, remote)
	t.exchanger = d.Exchanger
	if d.LocalTracks != nil {
		for _, track := range d.LocalTracks() {
			if _, err := t.AddTrack(track); err != nil {
				t.Close()
				return nil, err
			}
		}
	}
	return t, nil
}

// AnswerIncoming builds the answering side of a transport from a
// remote offer. The returned transport is open once its control
// channel arrives.
func AnswerIncoming(cfg webrtc.Configuration, offer webrtc.SessionDescription, tracks []webrtc.TrackLocal) (Transport, *webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	t := newTransport(pc, "")
	for _, track := range tracks {
		if _, err := t.AddTrack(track); err != nil {
			t.Close()
			return nil, nil, err
		}
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		t.Close()
		return nil, nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Close()
		return nil, nil, err
	}
	<-gatherComplete
	return t, pc.LocalDescription(), nil
}

// webrtcTransport wraps a pion PeerConnection with a control data
// channel and the outbound media senders.
type webrtcTransport struct {
	pc        *webrtc.PeerConnection
	remote    domain.UserID
	exchanger OfferExchanger

	mu       sync.Mutex
	senders  []Sender
	control  *webrtc.DataChannel
	opened   chan struct{}
	openOnce sync.Once
	closed   bool
	onClosed func()
}

func newTransport(pc *webrtc.PeerConnection, remote domain.UserID) *webrtcTransport {
	t := &webrtcTransport{pc: pc, remote: remote, opened: make(chan struct{})}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlChannelLabel {
			return
		}
		t.mu.Lock()
		t.control = dc
		t.mu.Unlock()
		dc.OnOpen(func() { t.markOpen() })
		// Channels arriving already open still count.
		if dc.ReadyState() == webrtc.DataChannelStateOpen {
			t.markOpen()
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "peer.webrtc").Str("remote", string(remote)).
			Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.fireClosed()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "peer.webrtc").Str("remote", string(remote)).
			Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("inbound track")
	})

	return t
}

func (t *webrtcTransport) markOpen() {
	t.openOnce.Do(func() { close(t.opened) })
}

// Connect performs the offer/answer exchange and waits for the control
// channel to open.
func (t *webrtcTransport) Connect(ctx context.Context) error {
	if t.exchanger != nil {
		dc, err := t.pc.CreateDataChannel(controlChannelLabel, nil)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.control = dc
		t.mu.Unlock()
		dc.OnOpen(func() { t.markOpen() })

		offer, err := t.pc.CreateOffer(nil)
		if err != nil {
			return err
		}
		gatherComplete := webrtc.GatheringCompletePromise(t.pc)
		if err := t.pc.SetLocalDescription(offer); err != nil {
			return err
		}
		select {
		case <-gatherComplete:
		case <-ctx.Done():
			return ctx.Err()
		}

		answer, err := t.exchanger.Exchange(ctx, t.remote, *t.pc.LocalDescription())
		if err != nil {
			return err
		}
		if err := t.pc.SetRemoteDescription(answer); err != nil {
			return err
		}
	}

	select {
	case <-t.opened:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *webrtcTransport) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	rtpSender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	s := &rtpSenderAdapter{sender: rtpSender}
	t.mu.Lock()
	t.senders = append(t.senders, s)
	t.mu.Unlock()
	return s, nil
}

func (t *webrtcTransport) Senders() []Sender {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sender, len(t.senders))
	copy(out, t.senders)
	return out
}

func (t *webrtcTransport) OnClosed(fn func()) {
	t.mu.Lock()
	t.onClosed = fn
	t.mu.Unlock()
}

func (t *webrtcTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	if err := t.pc.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("module", "peer.webrtc").Str("remote", string(t.remote)).Msg("close error")
	}
}

func (t *webrtcTransport) fireClosed() {
	t.mu.Lock()
	fn := t.onClosed
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type rtpSenderAdapter struct {
	sender *webrtc.RTPSender
}

func (a *rtpSenderAdapter) TrackID() string {
	if track := a.sender.Track(); track != nil {
		return track.ID()
	}
	return ""
}

func (a *rtpSenderAdapter) Kind() string {
	if track := a.sender.Track(); track != nil {
		return track.Kind().String()
	}
	return ""
}

func (a *rtpSenderAdapter) ReplaceTrack(track webrtc.TrackLocal) error {
	return a.sender.ReplaceTrack(track)
}
