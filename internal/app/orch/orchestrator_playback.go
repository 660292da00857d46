package orch

import (
	"fmt"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

// VideoAction relays a participant's play/pause to the rest of the room.
// The server keeps no playback state of its own.
func (o *Orchestrator) VideoAction(sid core.SessionID, req protocol.VideoAction) error {
	roomID, _, err := o.boundRoom(sid, req.RoomID)
	if err != nil {
		return err
	}
	if err := req.PlaybackState.Validate(); err != nil {
		return fmt.Errorf("video-action: %w", err)
	}
	res := o.Relay.RelayVideo(roomID, sid, req.PlaybackState)
	log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("action", string(req.Action)).
		Float64("position", req.Position).Int("sent_to", res.SendTo).Msg("sync relayed")
	return nil
}

// RequestVideoState asks the other members to re-send their player state.
func (o *Orchestrator) RequestVideoState(sid core.SessionID, req protocol.RequestVideoState) error {
	roomID, _, err := o.boundRoom(sid, req.RoomID)
	if err != nil {
		return err
	}
	o.Relay.RequestState(roomID, sid)
	return nil
}
