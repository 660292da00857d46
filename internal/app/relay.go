package app

import (
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Canceler stops a live connection. *Registry implements it.
type Canceler interface {
	Cancel(sid core.SessionID) bool
}

// Relay fans room-scoped events out to members. It never waits on a
// recipient: each send is queued or dropped.
type Relay struct {
	Rooms    core.RoomRegistry
	Sessions Canceler
	Policy   Policy
}

// NewRelay wires the relay. sessions may be nil, in which case a kicked
// member's connection is closed directly.
func NewRelay(rooms core.RoomRegistry, sessions Canceler, policy Policy) *Relay {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &Relay{Rooms: rooms, Sessions: sessions, Policy: policy}
}

// AnnounceJoin tells everyone but the joiner that username arrived.
func (r *Relay) AnnounceJoin(roomID domain.RoomID, joiner core.SessionID, username string) core.PublishResult {
	return r.publish(roomID, joiner, protocol.EventUserJoined, protocol.JoinedNotice(username))
}

// AnnounceLeave is sent after the leaver is gone, so it reaches every remaining member.
func (r *Relay) AnnounceLeave(roomID domain.RoomID, username string) core.PublishResult {
	return r.publish(roomID, "", protocol.EventUserLeft, protocol.LeftNotice(username))
}

func (r *Relay) RelayChat(roomID domain.RoomID, sender core.SessionID, msg domain.ChatMessage) core.PublishResult {
	return r.publish(roomID, sender, protocol.EventReceiveMessage, protocol.ReceiveMessage{
		Username: msg.Username,
		Message:  msg.Text,
	})
}

func (r *Relay) RelayVideo(roomID domain.RoomID, sender core.SessionID, state domain.PlaybackState) core.PublishResult {
	return r.publish(roomID, sender, protocol.EventSyncVideo, protocol.SyncVideo(state))
}

func (r *Relay) RequestState(roomID domain.RoomID, requester core.SessionID) core.PublishResult {
	return r.publish(roomID, requester, protocol.EventRequestVideoState, nil)
}

func (r *Relay) publish(roomID domain.RoomID, from core.SessionID, event string, payload any) core.PublishResult {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode")
		return core.PublishResult{}
	}
	room, ok := r.Rooms.Get(roomID)
	if !ok {
		return core.PublishResult{}
	}

	res := room.Broadcast(from, frame)
	for sid, slow := range res.Dropped {
		switch r.Policy.OnBackPressure(room, slow) {
		case KickMember:
			log.Warn().Str("module", "app.relay").Str("room", string(roomID)).Str("sid", string(sid)).
				Str("username", slow.Meta().DisplayName()).Msg("kicking slow member")
			r.kick(sid, slow)
		case DropFrame, NoAction:
			log.Debug().Str("module", "app.relay").Str("room", string(roomID)).Str("event", event).
				Str("username", slow.Meta().DisplayName()).Msg("frame dropped")
		}
	}
	return res
}

// kick cancels the member's connection context so its pumps stop and the
// read loop runs the usual disconnect cleanup.
func (r *Relay) kick(sid core.SessionID, slow core.MemberSession) {
	if r.Sessions != nil && r.Sessions.Cancel(sid) {
		return
	}
	slow.Signal().Close()
}
