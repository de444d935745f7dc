// ABOUTME: SQLite implementation for room messages
// ABOUTME: Reflection reads recent history here and posts through AppendMessage

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMessage appends a message to a room.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *RoomMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_messages (id, room_id, author, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.Author, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting room message: %w", err)
	}

	s.logger.Debug("appended room message", "id", msg.ID, "room_id", msg.RoomID, "author", msg.Author)
	return nil
}

// RecentMessages returns the last limit messages of a room in chronological
// order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]*RoomMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, author, content, created_at FROM (
			SELECT id, room_id, author, content, created_at, rowid AS seq
			FROM room_messages
			WHERE room_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying room messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*RoomMessage
	for rows.Next() {
		m, err := scanRoomMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room messages: %w", err)
	}
	return msgs, nil
}

// LastMessage returns the newest message of a room.
// Returns ErrNotFound if the room has no messages.
func (s *SQLiteStore) LastMessage(ctx context.Context, roomID string) (*RoomMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, author, content, created_at
		FROM room_messages
		WHERE room_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, roomID)

	m, err := scanRoomMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last room message: %w", err)
	}
	return m, nil
}

func scanRoomMessage(row scanner) (*RoomMessage, error) {
	var m RoomMessage
	var createdAt string
	if err := row.Scan(&m.ID, &m.RoomID, &m.Author, &m.Content, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = t
	return &m, nil
}
