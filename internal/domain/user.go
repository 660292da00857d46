// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameInvalid = errors.New("username is not valid utf-8")
)

type UserID string

// User is the display identity a connection presents in a room.
// ID is the caller supplied account id (may be empty for guests).
type User struct {
	ID       UserID `json:"id,omitempty"`
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (*User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if len(id) > MaxUserIDLen {
		id = id[:MaxUserIDLen]
	}
	return &User{ID: id, Username: name}, nil
}

// NormalizeUsername trims surrounding space and validates the result.
func NormalizeUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	if !utf8.ValidString(name) {
		return "", ErrUsernameInvalid
	}
	return name, nil
}
