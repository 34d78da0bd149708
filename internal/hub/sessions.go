package hub

import (
	"sync"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

type sessionEntry struct {
	conn   core.SignalConnection
	user   *domain.Participant
	roomID domain.RoomID
}

// sessionRegistry maps transport session ids to their connection and,
// once joined, their participant identity and room.
type sessionRegistry struct {
	mu      sync.RWMutex
	entries map[core.SessionID]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: make(map[core.SessionID]*sessionEntry)}
}

func (r *sessionRegistry) bind(sid core.SessionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sid] = &sessionEntry{conn: conn}
}

func (r *sessionRegistry) unbind(sid core.SessionID) (sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sid]
	if !ok {
		return sessionEntry{}, false
	}
	delete(r.entries, sid)
	return *e, true
}

func (r *sessionRegistry) get(sid core.SessionID) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sid]
	return e, ok
}

func (r *sessionRegistry) membership(sid core.SessionID) (*domain.Participant, domain.RoomID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sid]; ok {
		return e.user, e.roomID
	}
	return nil, ""
}

func (r *sessionRegistry) setMembership(sid core.SessionID, user *domain.Participant, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sid]; ok {
		e.user = user
		e.roomID = roomID
	}
}

func (r *sessionRegistry) connections() map[core.SessionID]core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[core.SessionID]core.SignalConnection, len(r.entries))
	for sid, e := range r.entries {
		out[sid] = e.conn
	}
	return out
}
