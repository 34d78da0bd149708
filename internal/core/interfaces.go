package core

import "github.com/huddlekit/huddle/internal/domain"

// Frame is a raw outbound payload (already-encoded JSON).
type Frame []byte

// SessionID identifies one transport connection to the hub.
type SessionID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	IsOpen() bool
	Close()
}

// ParticipantSession binds a domain.Participant and its transport
// endpoint. This is what a room stores and fans out to.
type ParticipantSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SentTo  int
	Dropped []ParticipantSession
}

// RoomService is the core-facing API of a room. It owns the membership
// set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	ParticipantCount() int
	// ParticipantsSnapshot lists members whose transport is currently open.
	ParticipantsSnapshot() []domain.Participant

	AddParticipant(sid SessionID, ps ParticipantSession) error
	RemoveParticipant(sid SessionID) (remaining int)
	Has(id domain.UserID) bool

	Broadcast(from SessionID, data Frame) PublishResult
	SendTo(id domain.UserID, data Frame) error
}

// RoomInfo is the lobby listing view.
type RoomInfo struct {
	ID               domain.RoomID   `json:"id"`
	Name             domain.RoomName `json:"name"`
	ParticipantCount int             `json:"participant_count"`
}

// RoomRegistry is the single source of truth for Room -> Participants.
// Rooms are created explicitly and deleted when their membership
// reaches zero.
type RoomRegistry interface {
	Register(room *domain.Room) (RoomService, bool)
	Get(id domain.RoomID) (RoomService, bool)
	GetByPin(pin domain.Pin) (RoomService, bool)
	List() []RoomInfo
	// RemoveIfEmpty deletes the room when no participants remain and
	// reports whether it did.
	RemoveIfEmpty(id domain.RoomID) bool
}
