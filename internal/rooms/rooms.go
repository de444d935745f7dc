// ABOUTME: Room message posting with live-context indexing.
// ABOUTME: Messages land in SQLite first; vector indexing is best effort.

// Package rooms is the message-posting capability shared by the HTTP API
// and the reflection scheduler.
package rooms

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/vector"
)

// ErrEmptyMessage is returned for blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// Indexer stores a point without deduplication.
type Indexer interface {
	Insert(ctx context.Context, collection string, payload vector.Payload) (string, error)
}

// Service posts and reads room messages.
type Service struct {
	store      store.RoomStore
	index      Indexer
	collection string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Service. index may be nil to disable live indexing.
func New(rs store.RoomStore, index Indexer, liveCollection string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      rs,
		index:      index,
		collection: liveCollection,
		logger:     logger.With("component", "rooms"),
		now:        time.Now,
	}
}

// Post appends a message to roomID and indexes it for live context.
func (s *Service) Post(ctx context.Context, roomID, author, content string) (*store.RoomMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	msg := &store.RoomMessage{
		RoomID:    roomID,
		Author:    author,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	if s.index != nil && s.collection != "" {
		_, err := s.index.Insert(ctx, s.collection, vector.Payload{
			Content:   content,
			Category:  "message",
			Author:    author,
			RoomID:    roomID,
			Timestamp: msg.CreatedAt,
		})
		if err != nil {
			s.logger.Warn("live indexing failed", "room_id", roomID, "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// Recent returns the last limit messages of roomID, oldest first.
func (s *Service) Recent(ctx context.Context, roomID string, limit int) ([]*store.RoomMessage, error) {
	return s.store.RecentMessages(ctx, roomID, limit)
}

// Last returns the newest message of roomID or store.ErrNotFound.
func (s *Service) Last(ctx context.Context, roomID string) (*store.RoomMessage, error) {
	return s.store.LastMessage(ctx, roomID)
}
