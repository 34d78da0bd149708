// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxRoomNameLen = 64
	MaxUsernameLen = 36

	DefaultMaxParticipants = 8
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

type (
	RoomID   string
	RoomName string
	UserID   string
)

// Room is a bounded call session. Participants live in the registry,
// not here; the entity only carries identity and limits.
type Room struct {
	ID       RoomID
	Name     RoomName
	Pin      Pin
	Creator  UserID
	MaxUsers int
	Active   bool

	CreatedAt time.Time
}

// NewRoom issues a fresh server-side id and a shareable pin.
func NewRoom(name string, creator UserID, maxUsers int) (*Room, error) {
	if name == "" {
		return nil, ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	if maxUsers <= 0 {
		maxUsers = DefaultMaxParticipants
	}
	return &Room{
		ID:        RoomID(uuid.NewString()),
		Name:      RoomName(name),
		Pin:       NewPin(),
		Creator:   creator,
		MaxUsers:  maxUsers,
		Active:    true,
		CreatedAt: time.Now(),
	}, nil
}

// Participant is one connected user within a room. The id is unique per
// room and never shared across rooms.
type Participant struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`

	JoinedAt time.Time `json:"-"`
}

func NewParticipant(id UserID, username string) (*Participant, error) {
	if username == "" {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &Participant{ID: id, Username: username, JoinedAt: time.Now()}, nil
}
