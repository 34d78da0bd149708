package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/protocol"
)

func encode(msg *protocol.Message) (core.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode")
		return nil, err
	}
	return b, nil
}

const transcribeTimeout = 30 * time.Second

// handleTrackState delivers a trackStateChange either to a single
// target participant or to the whole room excluding the sender.
func (h *Hub) handleTrackState(sid core.SessionID, msg *protocol.Message) {
	entry, room, ok := h.roomOf(sid)
	if !ok {
		return
	}
	msg.UserID = string(entry.user.ID)
	if msg.TargetUserID != "" {
		b, err := encode(msg)
		if err != nil {
			return
		}
		if err := room.SendTo(domain.UserID(msg.TargetUserID), b); err != nil {
			log.Warn().Err(err).Str("module", "hub").
				Str("target", msg.TargetUserID).Msg("trackStateChange target not reachable")
		}
		return
	}
	h.broadcast(room, sid, *msg)
}

// relayToRoom forwards an opaque room-scoped message (chat, TTSStatus)
// to everyone else in the sender's room.
func (h *Hub) relayToRoom(sid core.SessionID, msg *protocol.Message) {
	entry, room, ok := h.roomOf(sid)
	if !ok {
		return
	}
	msg.UserID = string(entry.user.ID)
	msg.UserName = entry.user.Username
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	h.broadcast(room, sid, *msg)
}

// relayToTarget forwards a participant-to-participant message (SDP
// exchange) to its single target.
func (h *Hub) relayToTarget(sid core.SessionID, msg *protocol.Message) {
	entry, room, ok := h.roomOf(sid)
	if !ok || msg.TargetUserID == "" {
		return
	}
	msg.UserID = string(entry.user.ID)
	b, err := encode(msg)
	if err != nil {
		return
	}
	if err := room.SendTo(domain.UserID(msg.TargetUserID), b); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("type", msg.Type).
			Str("target", msg.TargetUserID).Msg("relay target not reachable")
	}
}

// handleTranscriptionRequest hands the audio to the transcription
// collaborator and, when the result arrives, delivers it to the whole
// room tagged with the speaker's identity.
func (h *Hub) handleTranscriptionRequest(sid core.SessionID, msg *protocol.Message) {
	if h.Transcriber == nil {
		return
	}
	entry, room, ok := h.roomOf(sid)
	if !ok {
		return
	}
	speaker := *entry.user
	audio := msg.Audio
	requestedAt := time.Now().UnixMilli()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
		defer cancel()
		text, err := h.Transcriber.Transcribe(ctx, audio)
		if err != nil {
			log.Error().Err(err).Str("module", "hub").
				Str("user", string(speaker.ID)).Msg("transcription failed")
			return
		}
		out := protocol.Message{
			Type:      protocol.TypeTranscription,
			RoomID:    string(room.Room().ID),
			UserID:    string(speaker.ID),
			UserName:  speaker.Username,
			Text:      text,
			Timestamp: requestedAt,
		}
		b, err := encode(&out)
		if err != nil {
			return
		}
		// Deliver to everyone, the speaker included: transcripts are
		// kept per participant on each client.
		room.Broadcast("", b)
	}()
}

func (h *Hub) roomOf(sid core.SessionID) (*sessionEntry, core.RoomService, bool) {
	entry, ok := h.sessions.get(sid)
	if !ok || entry.user == nil || entry.roomID == "" {
		return nil, nil, false
	}
	room, ok := h.Rooms.Get(entry.roomID)
	if !ok {
		return nil, nil, false
	}
	return entry, room, true
}
