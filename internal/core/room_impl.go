package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
)

var (
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyJoined = errors.New("participant already in room")
	ErrNoSuchMember  = errors.New("no such participant")
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[SessionID]ParticipantSession
	byUser map[domain.UserID]SessionID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]ParticipantSession),
		byUser: make(map[domain.UserID]SessionID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Has(id domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[id]
	return ok
}

func (r *roomImpl) AddParticipant(sid SessionID, ps ParticipantSession) error {
	u := ps.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[u]; ok {
		return ErrAlreadyJoined
	}
	if len(r.bySID) >= r.room.MaxUsers {
		return ErrRoomFull
	}
	r.bySID[sid] = ps
	r.byUser[u] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).
		Str("sid", string(sid)).Str("user", string(u)).Msg("participant added")
	return nil
}

func (r *roomImpl) RemoveParticipant(sid SessionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.bySID[sid]; ok {
		delete(r.byUser, ps.Meta().ID)
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).
		Str("sid", string(sid)).Msg("participant removed")
	return len(r.bySID)
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, ps := range r.bySID {
		if sid == from {
			continue
		}
		if err := ps.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, ps)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(id domain.UserID, data Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[id]
	if !ok {
		return ErrNoSuchMember
	}
	ps, ok := r.bySID[sid]
	if !ok {
		return ErrNoSuchMember
	}
	return ps.Signal().TrySend(data)
}

// ParticipantsSnapshot excludes members whose transport connection is
// not currently open.
func (r *roomImpl) ParticipantsSnapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.bySID))
	for _, ps := range r.bySID {
		if !ps.Signal().IsOpen() {
			continue
		}
		out = append(out, *ps.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}
