package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(ctl.opts.WriteWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump handles this connection's events one at a time, in arrival
// order. Its exit is the single disconnect path.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn, cancel context.CancelFunc) {
	defer func() {
		ctl.Orch.OnDisconnect(sid)
		ctl.limiter.Forget(sid)
		cancel()
		c.Close()
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(ctx, sid, c, data)
	}
}

type handlerFunc func(ctx context.Context, sid core.SessionID, c *WsSignalConn, env protocol.Envelope) error

// limited lists the events that count against the per-connection rate limit.
var limited = map[string]bool{
	protocol.EventSendMessage:       true,
	protocol.EventVideoAction:       true,
	protocol.EventRequestVideoState: true,
}

func (ctl *SignalWSController) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.EventJoinRoom:          ctl.handleJoin,
		protocol.EventLeaveRoom:         ctl.handleLeave,
		protocol.EventSendMessage:       ctl.handleSendMessage,
		protocol.EventVideoAction:       ctl.handleVideoAction,
		protocol.EventRequestVideoState: ctl.handleRequestVideoState,
		protocol.EventPing:              ctl.handlePing,
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		ctl.reject(sid, c, "", fmt.Errorf("%w: %v", errBadEnvelope, err))
		return
	}
	handler, ok := ctl.handlers[env.Type]
	if !ok {
		ctl.reject(sid, c, env.Type, errUnknownEvent)
		return
	}
	if limited[env.Type] && !ctl.limiter.Allow(sid) {
		ctl.reject(sid, c, env.Type, errRateLimited)
		return
	}
	if err := handler(ctx, sid, c, env); err != nil {
		ctl.reject(sid, c, env.Type, err)
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("encode")
		return
	}
	if err := c.TrySend(frame); err != nil && !errors.Is(err, core.ErrConnectionClosed) {
		log.Debug().Err(err).Str("module", "signal").Str("event", event).Msg("send")
	}
}
