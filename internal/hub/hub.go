// Package hub is the authoritative signaling registry: it tracks rooms
// and participants and relays control messages between clients.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/protocol"
)

// Transcriber is the opaque speech-to-text collaborator. Requests carry
// base64-encoded WAV audio; the result text comes back asynchronously.
type Transcriber interface {
	Transcribe(ctx context.Context, audioB64 string) (string, error)
}

// Prober is implemented by transports that support liveness probing.
type Prober interface {
	Probe() bool
}

type Hub struct {
	Rooms       core.RoomRegistry
	Transcriber Transcriber

	sessions *sessionRegistry
}

func New(rooms core.RoomRegistry, tr Transcriber) *Hub {
	return &Hub{
		Rooms:       rooms,
		Transcriber: tr,
		sessions:    newSessionRegistry(),
	}
}

// Attach registers a fresh transport connection under its session id.
func (h *Hub) Attach(sid core.SessionID, conn core.SignalConnection) {
	h.sessions.bind(sid, conn)
	log.Info().Str("module", "hub").Str("sid", string(sid)).Msg("session attached")
}

// Detach handles a transport close: the participant is removed from
// whichever room it belonged to, the room is deleted if it became
// empty, otherwise userLeft is broadcast to the remaining members.
func (h *Hub) Detach(sid core.SessionID) {
	entry, ok := h.sessions.unbind(sid)
	if !ok {
		return
	}
	log.Info().Str("module", "hub").Str("sid", string(sid)).Msg("session detached")
	if entry.roomID == "" {
		return
	}
	room, ok := h.Rooms.Get(entry.roomID)
	if !ok {
		return
	}
	room.RemoveParticipant(sid)
	if h.Rooms.RemoveIfEmpty(entry.roomID) {
		return
	}
	if entry.user != nil {
		h.broadcast(room, sid, protocol.Message{
			Type:     protocol.TypeUserLeft,
			RoomID:   string(entry.roomID),
			UserID:   string(entry.user.ID),
			UserName: entry.user.Username,
		})
	}
}

// leaveCurrentRoom is the implicit leave performed when a session joins
// or creates a room while still a member of another one. Without it the
// old room keeps a phantom participant and never empties out.
func (h *Hub) leaveCurrentRoom(sid core.SessionID) {
	user, roomID := h.sessions.membership(sid)
	if roomID == "" {
		return
	}
	h.sessions.setMembership(sid, nil, "")
	room, ok := h.Rooms.Get(roomID)
	if !ok {
		return
	}
	room.RemoveParticipant(sid)
	if h.Rooms.RemoveIfEmpty(roomID) {
		return
	}
	if user != nil {
		h.broadcast(room, sid, protocol.Message{
			Type:     protocol.TypeUserLeft,
			RoomID:   string(roomID),
			UserID:   string(user.ID),
			UserName: user.Username,
		})
	}
}

// HandleMessage dispatches one inbound frame. Malformed messages are
// logged and ignored; a panic in a handler is contained so one room
// cannot take down the others.
func (h *Hub) HandleMessage(sid core.SessionID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "hub").Str("sid", string(sid)).
				Interface("panic", r).Msg("handler panic recovered")
		}
	}()

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "hub").Str("sid", string(sid)).Msg("bad json")
		return
	}

	switch msg.Type {
	case protocol.TypeCreateRoom:
		h.handleCreateRoom(sid, &msg)
	case protocol.TypeJoinRoom:
		h.handleJoinRoom(sid, &msg)
	case protocol.TypeJoinByPin:
		h.handleJoinByPin(sid, &msg)
	case protocol.TypeGetParticipants:
		h.handleGetParticipants(sid, &msg)
	case protocol.TypeTrackState:
		h.handleTrackState(sid, &msg)
	case protocol.TypeChat, protocol.TypeTTSStatus:
		h.relayToRoom(sid, &msg)
	case protocol.TypeWebRTCOffer, protocol.TypeWebRTCAnswer:
		h.relayToTarget(sid, &msg)
	case protocol.TypeTranscriptionRq:
		h.handleTranscriptionRequest(sid, &msg)
	default:
		log.Warn().Str("module", "hub").Str("type", msg.Type).Msg("unknown signal")
	}
}

// RunLiveness probes every open connection each interval. A connection
// that fails to answer one probe cycle is forcibly terminated on the
// next, giving a two-interval grace period.
func (h *Hub) RunLiveness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for sid, conn := range h.sessions.connections() {
				p, ok := conn.(Prober)
				if !ok {
					continue
				}
				if !p.Probe() {
					log.Warn().Str("module", "hub").Str("sid", string(sid)).
						Msg("liveness probe missed, terminating")
					conn.Close()
				}
			}
		}
	}
}

func (h *Hub) send(conn core.SignalConnection, msg protocol.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("send marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("type", msg.Type).Msg("send dropped")
	}
}

func (h *Hub) sendError(conn core.SignalConnection, errType, detail string) {
	h.send(conn, protocol.Message{Type: errType, Error: detail})
}

func (h *Hub) broadcast(room core.RoomService, from core.SessionID, msg protocol.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("broadcast marshal")
		return
	}
	room.Broadcast(from, b)
}
