// Package protocol is the JSON wire format shared by the relay and its clients.
// Every frame is an Envelope: {"type": "<event>", "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/WatchParty/internal/domain"
)

// Client to server events.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventSendMessage       = "send-message"
	EventVideoAction       = "video-action"
	EventRequestVideoState = "request-video-state"
	EventPing              = "ping"
)

// Server to client events. request-video-state is relayed under its own name.
const (
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventReceiveMessage = "receive-message"
	EventSyncVideo      = "sync-video"
	EventPong           = "pong"
	EventError          = "error"
)

var ErrMissingType = errors.New("envelope has no type")

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	RoomID   domain.RoomID `json:"roomId"`
	Username string        `json:"username"`
}

type LeaveRoom struct {
	RoomID domain.RoomID `json:"roomId"`
}

type SendMessage struct {
	RoomID   domain.RoomID `json:"roomId"`
	Username string        `json:"username"`
	Message  string        `json:"message"`
}

type ReceiveMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type VideoAction struct {
	RoomID domain.RoomID `json:"roomId"`
	domain.PlaybackState
}

// SyncVideo carries the same fields as VideoAction minus the room.
type SyncVideo = domain.PlaybackState

type RequestVideoState struct {
	RoomID domain.RoomID `json:"roomId"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals payload (nil for none) into an envelope frame.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", eventType, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

func JoinedNotice(username string) string { return username + " joined" }

func LeftNotice(username string) string { return username + " left" }
