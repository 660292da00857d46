package domain

import (
	"errors"
	"math"
)

const MaxSourceURLLen = 2048

var (
	ErrUnknownAction    = errors.New("unknown playback action")
	ErrInvalidPosition  = errors.New("invalid playback position")
	ErrSourceURLTooLong = errors.New("source url too long")
)

type PlaybackAction string

const (
	ActionPlay  PlaybackAction = "play"
	ActionPause PlaybackAction = "pause"
)

func (a PlaybackAction) Valid() bool {
	return a == ActionPlay || a == ActionPause
}

// PlaybackState is relayed as-is; the server never stores it.
type PlaybackState struct {
	Action   PlaybackAction `json:"action"`
	Position float64        `json:"currentTime"`
	Source   string         `json:"videoUrl"`
}

func (s PlaybackState) Validate() error {
	if !s.Action.Valid() {
		return ErrUnknownAction
	}
	if math.IsNaN(s.Position) || math.IsInf(s.Position, 0) || s.Position < 0 {
		return ErrInvalidPosition
	}
	if len(s.Source) > MaxSourceURLLen {
		return ErrSourceURLTooLong
	}
	return nil
}
