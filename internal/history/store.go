// Package history persists chat messages and reads them back per room.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/WatchParty/internal/domain"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	ErrClosed        = errors.New("history store closed")
	ErrUnknownDriver = errors.New("unknown history driver")
)

// Store is write-once storage for chat messages.
type Store interface {
	Save(ctx context.Context, msg domain.ChatMessage) error
	// List returns up to limit most recent messages of a room, oldest first.
	List(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error)
	Close() error
}

// Nop drops writes and returns no history.
type Nop struct{}

func (Nop) Save(context.Context, domain.ChatMessage) error { return nil }

func (Nop) List(context.Context, domain.RoomID, int) ([]domain.ChatMessage, error) {
	return []domain.ChatMessage{}, nil
}

func (Nop) Close() error { return nil }

// Open builds the store for driver ("sqlite" or "none").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "none", "":
		return Nop{}, nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// ClampLimit maps a requested page size into [1, MaxLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
