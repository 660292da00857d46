package app

import (
	"sort"
	"sync"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

// Rooms is the in-memory core.RoomRegistry.
// Membership changes happen under the registry lock so a room that was
// just dropped can never pick up a late member.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]core.RoomService)}
}

var _ core.RoomRegistry = (*Rooms)(nil)

func (f *Rooms) Join(id domain.RoomID, sid core.SessionID, ms core.MemberSession) (core.RoomService, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		room = core.NewRoomService(&domain.Room{ID: id})
		f.rooms[id] = room
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	}
	added := room.AddMember(sid, ms)
	return room, added
}

func (f *Rooms) Leave(id domain.RoomID, sid core.SessionID) (core.MemberSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, false
	}
	ms, removed := room.RemoveMember(sid)
	if room.MemberCount() == 0 {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room removed")
	}
	return ms, removed
}

func (f *Rooms) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *Rooms) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Rooms) Stats() (rooms, members int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rooms = len(f.rooms)
	for _, r := range f.rooms {
		members += r.MemberCount()
	}
	return rooms, members
}
