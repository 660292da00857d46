package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	username   TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages (room_id, id);
`

type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", dsn, err)
	}
	// sqlite serializes writers anyway; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Str("module", "history").Str("dsn", dsn).Msg("sqlite store ready")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, msg domain.ChatMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}
	query := "INSERT INTO chat_messages (id, room_id, username, content, created_at) VALUES (?, ?, ?, ?, ?)"
	if _, err := s.db.ExecContext(ctx, query, msg.ID, string(msg.RoomID), msg.Username, msg.Text, msg.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	// ULIDs sort by creation time, so the newest page is the highest ids.
	query := `
		SELECT id, room_id, username, content, created_at FROM (
			SELECT id, room_id, username, content, created_at
			FROM chat_messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(roomID), ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", roomID, err)
	}
	defer rows.Close()

	out := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var (
			msg       domain.ChatMessage
			room      string
			createdAt time.Time
		)
		if err := rows.Scan(&msg.ID, &room, &msg.Username, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.RoomID = domain.RoomID(room)
		msg.Timestamp = createdAt.UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages for %s: %w", roomID, err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
