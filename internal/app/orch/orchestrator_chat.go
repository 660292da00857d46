package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SendMessage writes the message to history, then relays it to everyone
// in the room except the sender. A failed write does not stop the relay.
func (o *Orchestrator) SendMessage(ctx context.Context, sid core.SessionID, req protocol.SendMessage) (domain.ChatMessage, error) {
	roomID, session, err := o.boundRoom(sid, req.RoomID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	msg, err := domain.NewChatMessage(roomID, session.Meta().DisplayName(), req.Message, o.Now())
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("send-message: %w", err)
	}

	if err := o.History.Save(ctx, msg); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("id", msg.ID).Msg("history save")
	}
	res := o.Relay.RelayChat(roomID, sid, msg)
	log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("username", msg.Username).
		Int("sent_to", res.SendTo).Msg("chat relayed")
	return msg, nil
}
