package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/history"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotJoined      = errors.New("not joined to a room")
	ErrAlreadyJoined  = errors.New("already joined to a room")
	ErrRoomMismatch   = errors.New("event addressed to another room")
)

// Orchestrator is the room session gateway: it binds connections to rooms
// and routes their events to the relay. All calls for one sid are expected
// to come from that connection's read loop, one at a time.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomRegistry
	Relay    *app.Relay
	History  history.Store
	Now      func() time.Time
}

func New(reg *app.Registry, rooms core.RoomRegistry, relay *app.Relay, store history.Store) *Orchestrator {
	if store == nil {
		store = history.Nop{}
	}
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Relay:    relay,
		History:  store,
		Now:      time.Now,
	}
}

// Connect registers a fresh connection with no room. cancel, if set, stops
// the connection's pumps when the session is canceled.
func (o *Orchestrator) Connect(sid core.SessionID, peer app.Peer, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.BindSignal(sid, peer, conn, cancel)
}

// OnDisconnect leaves the bound room, if any. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	snap, ok := o.Registry.Unbind(sid)
	if !ok {
		return
	}
	if snap.RoomID == "" {
		return
	}
	o.leaveRoom(sid, snap.RoomID, snap.Session)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(snap.RoomID)).Msg("disconnected from room")
}
