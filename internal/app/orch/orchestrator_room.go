package orch

import (
	"fmt"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join binds sid to a room under username and announces it to the room.
// The announcement is queued before Join returns, so peers see it ahead of
// anything the joiner sends next.
func (o *Orchestrator) Join(sid core.SessionID, req protocol.JoinRoom) error {
	if err := req.RoomID.Validate(); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	peer, ok := o.Registry.PeerOf(sid)
	if !ok {
		return ErrUnknownSession
	}
	user, err := domain.NewUser(peer.UserID, req.Username)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	conn, ok := o.Registry.Signal(sid)
	if !ok {
		return ErrUnknownSession
	}
	if current, _, joined := o.Registry.RoomOf(sid); joined {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(current)).Msg("duplicate join ignored")
		return ErrAlreadyJoined
	}

	session := core.NewMemberSession(domain.NewMember(user), conn)
	if !o.Registry.AttachRoom(sid, req.RoomID, session) {
		return ErrAlreadyJoined
	}
	o.Rooms.Join(req.RoomID, sid, session)
	o.Relay.AnnounceJoin(req.RoomID, sid, user.Username)

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(req.RoomID)).
		Str("username", user.Username).Msg("joined room")
	return nil
}

// Leave unbinds sid from its room without closing the connection.
func (o *Orchestrator) Leave(sid core.SessionID, req protocol.LeaveRoom) error {
	current, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotJoined
	}
	if req.RoomID != "" && req.RoomID != current {
		return ErrRoomMismatch
	}
	roomID, session, ok := o.Registry.DetachRoom(sid)
	if !ok {
		return ErrNotJoined
	}
	o.leaveRoom(sid, roomID, session)
	return nil
}

func (o *Orchestrator) leaveRoom(sid core.SessionID, roomID domain.RoomID, session core.MemberSession) {
	if _, removed := o.Rooms.Leave(roomID, sid); !removed {
		return
	}
	o.Relay.AnnounceLeave(roomID, session.Meta().DisplayName())
}

// boundRoom resolves the room an event applies to. A payload room that
// disagrees with the binding is rejected rather than trusted.
func (o *Orchestrator) boundRoom(sid core.SessionID, claimed domain.RoomID) (domain.RoomID, core.MemberSession, error) {
	roomID, session, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", nil, ErrNotJoined
	}
	if claimed != "" && claimed != roomID {
		return "", nil, ErrRoomMismatch
	}
	return roomID, session, nil
}
