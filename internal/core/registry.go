package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
)

type registryImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]RoomService
	byPin map[domain.Pin]domain.RoomID
}

func NewRoomRegistry() RoomRegistry {
	return &registryImpl{
		rooms: make(map[domain.RoomID]RoomService),
		byPin: make(map[domain.Pin]domain.RoomID),
	}
}

// Register adds a room under its already-issued id. Registering an id
// that is already present is a no-op; the existing service is returned
// with ok=false.
func (f *registryImpl) Register(room *domain.Room) (RoomService, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rooms[room.ID]; ok {
		log.Warn().Str("module", "core.registry").Str("room", string(room.ID)).
			Msg("duplicate room registration ignored")
		return existing, false
	}
	svc := NewRoomService(room)
	f.rooms[room.ID] = svc
	f.byPin[room.Pin] = room.ID
	log.Info().Str("module", "core.registry").Str("room", string(room.ID)).
		Str("name", string(room.Name)).Msg("room registered")
	return svc, true
}

func (f *registryImpl) Get(id domain.RoomID) (RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	svc, ok := f.rooms[id]
	if !ok || !svc.Room().Active {
		return nil, false
	}
	return svc, true
}

func (f *registryImpl) GetByPin(pin domain.Pin) (RoomService, bool) {
	f.mu.RLock()
	id, ok := f.byPin[pin]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f.Get(id)
}

func (f *registryImpl) List() []RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for id, svc := range f.rooms {
		out = append(out, RoomInfo{
			ID:               id,
			Name:             svc.Room().Name,
			ParticipantCount: svc.ParticipantCount(),
		})
	}
	return out
}

func (f *registryImpl) RemoveIfEmpty(id domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.rooms[id]
	if !ok || svc.ParticipantCount() > 0 {
		return false
	}
	svc.Room().Active = false
	delete(f.byPin, svc.Room().Pin)
	delete(f.rooms, id)
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("empty room deleted")
	return true
}
