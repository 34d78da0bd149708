package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
)

// IncomingHandler answers remote offers. The manager decides whether
// the call is taken; rejected calls are dropped silently.
type IncomingHandler struct {
	Manager     *Manager
	Config      webrtc.Configuration
	LocalTracks func() []webrtc.TrackLocal
	SendAnswer  func(remote domain.UserID, answer webrtc.SessionDescription) error
}

func (h *IncomingHandler) HandleOffer(remote domain.UserID, sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	var tracks []webrtc.TrackLocal
	if h.LocalTracks != nil {
		tracks = h.LocalTracks()
	}
	t, answer, err := AnswerIncoming(h.Config, offer, tracks)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("answer incoming")
		return
	}
	if !h.Manager.AcceptIncoming(remote, t) {
		t.Close()
		return
	}
	if err := h.SendAnswer(remote, *answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("send answer")
		h.Manager.Remove(remote)
	}
}
