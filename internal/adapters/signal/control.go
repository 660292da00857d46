package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
)

var (
	errBadEnvelope  = errors.New("malformed envelope")
	errBadPayload   = errors.New("malformed payload")
	errUnknownEvent = errors.New("unknown event")
	errRateLimited  = errors.New("rate limited")
)

func (ctl *SignalWSController) handlePing(_ context.Context, _ core.SessionID, c *WsSignalConn, _ protocol.Envelope) error {
	ctl.send(c, protocol.EventPong, nil)
	return nil
}

// errorCode maps a rejected event's cause to the code sent to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadEnvelope), errors.Is(err, errBadPayload):
		return "bad_payload"
	case errors.Is(err, errUnknownEvent):
		return "unknown_event"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, orch.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, orch.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, orch.ErrRoomMismatch):
		return "room_mismatch"
	case errors.Is(err, domain.ErrRoomIDEmpty), errors.Is(err, domain.ErrRoomIDTooLong), errors.Is(err, domain.ErrRoomIDInvalid):
		return "invalid_room"
	case errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong), errors.Is(err, domain.ErrUsernameInvalid):
		return "invalid_username"
	case errors.Is(err, domain.ErrMessageEmpty), errors.Is(err, domain.ErrMessageTooLong), errors.Is(err, domain.ErrMessageInvalid):
		return "invalid_message"
	case errors.Is(err, domain.ErrUnknownAction), errors.Is(err, domain.ErrInvalidPosition), errors.Is(err, domain.ErrSourceURLTooLong):
		return "invalid_playback"
	}
	return "rejected"
}

// reject drops an event. The sender only hears about it when error
// reporting is switched on.
func (ctl *SignalWSController) reject(sid core.SessionID, c *WsSignalConn, event string, err error) {
	code := errorCode(err)
	ev := log.Warn()
	if code == "not_joined" || code == "already_joined" || code == "rate_limited" {
		ev = log.Debug()
	}
	ev.Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", event).Str("code", code).Msg("event dropped")

	if ctl.opts.ReportErrors {
		ctl.send(c, protocol.EventError, protocol.Error{Code: code, Message: err.Error()})
	}
}
