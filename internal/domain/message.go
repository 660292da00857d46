package domain

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const MaxMessageLen = 2000

// Monotonic entropy keeps ids issued within one millisecond in issue order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

var (
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrMessageInvalid = errors.New("message is not valid utf-8")
)

// ChatMessage is the unit of chat durability: written once, never mutated.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage validates text and stamps the message with a time ordered ULID.
func NewChatMessage(room RoomID, username, text string, now time.Time) (ChatMessage, error) {
	if err := ValidateMessage(text); err != nil {
		return ChatMessage{}, err
	}
	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{
		ID:        id.String(),
		RoomID:    room,
		Username:  username,
		Text:      text,
		Timestamp: now.UTC(),
	}, nil
}

func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrMessageEmpty
	}
	if len(text) > MaxMessageLen {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(text) {
		return ErrMessageInvalid
	}
	return nil
}
