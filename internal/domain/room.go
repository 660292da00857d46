package domain

import (
	"errors"
	"unicode/utf8"
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrRoomIDInvalid = errors.New("room id is not valid utf-8")
)

// RoomID is an opaque caller-supplied room identifier.
type RoomID string

func (id RoomID) Validate() error {
	switch {
	case id == "":
		return ErrRoomIDEmpty
	case len(id) > MaxRoomIDLen:
		return ErrRoomIDTooLong
	case !utf8.ValidString(string(id)):
		return ErrRoomIDInvalid
	}
	return nil
}

// Room has no state besides its id; membership lives in the registry.
type Room struct {
	ID RoomID
}
