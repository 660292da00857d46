package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/protocol"
)

func decode(env protocol.Envelope, v any) error {
	if err := protocol.DecodeData(env, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func (ctl *SignalWSController) handleJoin(_ context.Context, sid core.SessionID, _ *WsSignalConn, env protocol.Envelope) error {
	var p protocol.JoinRoom
	if err := decode(env, &p); err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).Msg("join")
	return ctl.Orch.Join(sid, p)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(_ context.Context, sid core.SessionID, _ *WsSignalConn, env protocol.Envelope) error {
	var p protocol.LeaveRoom
	if len(env.Data) > 0 {
		if err := decode(env, &p); err != nil {
			return err
		}
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	return ctl.Orch.Leave(sid, p)
}

func (ctl *SignalWSController) handleSendMessage(ctx context.Context, sid core.SessionID, _ *WsSignalConn, env protocol.Envelope) error {
	var p protocol.SendMessage
	if err := decode(env, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.SendMessage(ctx, sid, p)
	return err
}

func (ctl *SignalWSController) handleVideoAction(_ context.Context, sid core.SessionID, _ *WsSignalConn, env protocol.Envelope) error {
	var p protocol.VideoAction
	if err := decode(env, &p); err != nil {
		return err
	}
	return ctl.Orch.VideoAction(sid, p)
}

func (ctl *SignalWSController) handleRequestVideoState(_ context.Context, sid core.SessionID, _ *WsSignalConn, env protocol.Envelope) error {
	var p protocol.RequestVideoState
	if len(env.Data) > 0 {
		if err := decode(env, &p); err != nil {
			return err
		}
	}
	return ctl.Orch.RequestVideoState(sid, p)
}
