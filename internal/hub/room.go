package hub

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/protocol"
)

func (h *Hub) handleCreateRoom(sid core.SessionID, msg *protocol.Message) {
	entry, ok := h.sessions.get(sid)
	if !ok {
		return
	}
	room, err := domain.NewRoom(msg.RoomName, domain.UserID(msg.UserID), msg.MaxUsers)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Str("sid", string(sid)).Msg("bad createRoom")
		h.sendError(entry.conn, protocol.TypeError, err.Error())
		return
	}
	svc, created := h.Rooms.Register(room)
	if !created {
		// Duplicate registration is a no-op per contract.
		return
	}

	creator, err := domain.NewParticipant(domain.UserID(msg.UserID), msg.UserName)
	if err != nil {
		h.sendError(entry.conn, protocol.TypeError, err.Error())
		return
	}
	if err := svc.AddParticipant(sid, newSession(creator, entry.conn)); err != nil {
		h.sendError(entry.conn, protocol.TypeError, err.Error())
		return
	}
	h.leaveCurrentRoom(sid)
	h.sessions.setMembership(sid, creator, room.ID)

	log.Info().Str("module", "hub").Str("room", string(room.ID)).
		Str("creator", msg.UserID).Msg("room created")
	h.send(entry.conn, protocol.Message{
		Type:     protocol.TypeRoomCreated,
		RoomID:   string(room.ID),
		RoomName: string(room.Name),
		Pin:      string(room.Pin),
		MaxUsers: room.MaxUsers,
	})
}

func (h *Hub) handleJoinRoom(sid core.SessionID, msg *protocol.Message) {
	entry, ok := h.sessions.get(sid)
	if !ok {
		return
	}
	room, ok := h.Rooms.Get(domain.RoomID(msg.RoomID))
	if !ok {
		log.Warn().Str("module", "hub").Str("room", msg.RoomID).Msg("join: room not found")
		h.send(entry.conn, protocol.Message{Type: protocol.TypeRoomNotFound, RoomID: msg.RoomID})
		return
	}
	h.joinRoom(sid, entry, room, msg)
}

func (h *Hub) handleJoinByPin(sid core.SessionID, msg *protocol.Message) {
	entry, ok := h.sessions.get(sid)
	if !ok {
		return
	}
	room, ok := h.Rooms.GetByPin(domain.Pin(msg.Pin))
	if !ok {
		h.send(entry.conn, protocol.Message{Type: protocol.TypeRoomNotFound})
		return
	}
	h.joinRoom(sid, entry, room, msg)
}

func (h *Hub) joinRoom(sid core.SessionID, entry *sessionEntry, room core.RoomService, msg *protocol.Message) {
	p, err := domain.NewParticipant(domain.UserID(msg.UserID), msg.UserName)
	if err != nil {
		h.sendError(entry.conn, protocol.TypeError, err.Error())
		return
	}
	if err := room.AddParticipant(sid, newSession(p, entry.conn)); err != nil {
		switch {
		case errors.Is(err, core.ErrRoomFull):
			h.send(entry.conn, protocol.Message{Type: protocol.TypeRoomFull, RoomID: string(room.Room().ID)})
		case errors.Is(err, core.ErrAlreadyJoined):
			// Idempotent join, nothing to announce.
		default:
			h.sendError(entry.conn, protocol.TypeError, err.Error())
		}
		return
	}
	// An accepted join into a different room implicitly leaves the old
	// one; a failed join above leaves the old membership untouched.
	h.leaveCurrentRoom(sid)
	h.sessions.setMembership(sid, p, room.Room().ID)

	log.Info().Str("module", "hub").Str("room", string(room.Room().ID)).
		Str("user", msg.UserID).Msg("participant joined")
	h.broadcast(room, sid, protocol.Message{
		Type:     protocol.TypeUserJoined,
		RoomID:   string(room.Room().ID),
		UserID:   msg.UserID,
		UserName: msg.UserName,
	})
}

func (h *Hub) handleGetParticipants(sid core.SessionID, msg *protocol.Message) {
	entry, ok := h.sessions.get(sid)
	if !ok {
		return
	}
	resp := protocol.Message{
		Type:         protocol.TypeParticipants,
		RoomID:       msg.RoomID,
		Participants: []protocol.ParticipantInfo{},
	}
	var room core.RoomService
	var found bool
	if msg.RoomID != "" {
		room, found = h.Rooms.Get(domain.RoomID(msg.RoomID))
	} else if msg.Pin != "" {
		// Pin lookup resolves the room id for the caller.
		if room, found = h.Rooms.GetByPin(domain.Pin(msg.Pin)); found {
			resp.RoomID = string(room.Room().ID)
		}
	}
	if found {
		for _, p := range room.ParticipantsSnapshot() {
			resp.Participants = append(resp.Participants, protocol.ParticipantInfo{
				UserID:   string(p.ID),
				UserName: p.Username,
			})
		}
	}
	h.send(entry.conn, resp)
}

// participantSession adapts a joined participant for room storage.
type participantSession struct {
	meta *domain.Participant
	conn core.SignalConnection
}

func newSession(meta *domain.Participant, conn core.SignalConnection) core.ParticipantSession {
	return &participantSession{meta: meta, conn: conn}
}

func (s *participantSession) Meta() *domain.Participant    { return s.meta }
func (s *participantSession) Signal() core.SignalConnection { return s.conn }
