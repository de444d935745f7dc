// ABOUTME: Store interfaces and data types for eko persistence
// ABOUTME: Defines notes, room messages, reflection entries and token usage

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Note is a user-authored note the model can search and read.
type Note struct {
	ID        string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomMessage is one message posted in a room.
type RoomMessage struct {
	ID        string
	RoomID    string
	Author    string
	Content   string
	CreatedAt time.Time
}

// Reflection actions.
const (
	ActionPass    = "pass"
	ActionMessage = "message"
)

// ReflectionEntry records one reflection run.
type ReflectionEntry struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	Action       string    `json:"action"` // pass or message
	Reason       string    `json:"reason"`
	Message      string    `json:"message,omitempty"`
	Tone         string    `json:"tone,omitempty"`
	GoalID       string    `json:"goalId,omitempty"`
	RateLimited  bool      `json:"rateLimited"`
	DryRun       bool      `json:"dryRun"`
	Forced       bool      `json:"forced"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	DurationMs   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Posted reports whether the entry put a message in a room.
func (e *ReflectionEntry) Posted() bool {
	return e.Action == ActionMessage && !e.DryRun
}

// TokenUsage is the LLM consumption of one request.
type TokenUsage struct {
	ID           string
	RequestID    string
	UserID       string
	Source       string // query, reflection, extraction
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// UsageFilter narrows GetUsageStats.
type UsageFilter struct {
	Source string
	UserID string
	Since  *time.Time
}

// UsageStats aggregates token usage.
type UsageStats struct {
	TotalInput   int64
	TotalOutput  int64
	RequestCount int64
}

// NoteStore reads and writes notes.
type NoteStore interface {
	CreateNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, id string) (*Note, error)
	SearchNotes(ctx context.Context, query string, limit int) ([]*Note, error)
}

// RoomStore reads and appends room messages.
type RoomStore interface {
	AppendMessage(ctx context.Context, msg *RoomMessage) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]*RoomMessage, error)
	LastMessage(ctx context.Context, roomID string) (*RoomMessage, error)
}

// ReflectionStore is the append-only reflection log.
type ReflectionStore interface {
	SaveReflection(ctx context.Context, entry *ReflectionEntry) error
	ListReflections(ctx context.Context, limit int) ([]*ReflectionEntry, error)
	MessageGoalIDsSince(ctx context.Context, since time.Time) ([]string, error)
	CountMessagesSince(ctx context.Context, since time.Time) (int, error)
	LastMessageAt(ctx context.Context) (time.Time, bool, error)
	ReflectionTotals(ctx context.Context) (*ReflectionTotals, error)
}

// ReflectionTotals aggregates the whole reflection log.
type ReflectionTotals struct {
	Runs         int64
	Passes       int64
	Messages     int64
	RateLimited  int64
	InputTokens  int64
	OutputTokens int64
}

// UsageStore records token consumption.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// Store is everything SQLiteStore provides.
type Store interface {
	NoteStore
	RoomStore
	ReflectionStore
	UsageStore
	Close() error
}
