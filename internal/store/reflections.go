// ABOUTME: SQLite implementation for the reflection log
// ABOUTME: Feeds rate limiting, goal non-repetition and the history feed

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveReflection appends an entry to the reflection log.
func (s *SQLiteStore) SaveReflection(ctx context.Context, entry *ReflectionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reflections (
			id, room_id, action, reason, message, tone, goal_id,
			rate_limited, dry_run, forced, input_tokens, output_tokens, duration_ms,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.RoomID,
		entry.Action,
		entry.Reason,
		entry.Message,
		entry.Tone,
		entry.GoalID,
		boolInt(entry.RateLimited),
		boolInt(entry.DryRun),
		boolInt(entry.Forced),
		entry.InputTokens,
		entry.OutputTokens,
		entry.DurationMs,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting reflection: %w", err)
	}

	s.logger.Debug("saved reflection",
		"id", entry.ID,
		"action", entry.Action,
		"goal_id", entry.GoalID,
		"rate_limited", entry.RateLimited,
	)
	return nil
}

// ListReflections returns the newest entries first.
func (s *SQLiteStore) ListReflections(ctx context.Context, limit int) ([]*ReflectionEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, action, reason, message, tone, goal_id,
		       rate_limited, dry_run, forced, input_tokens, output_tokens, duration_ms,
		       created_at
		FROM reflections
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reflections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*ReflectionEntry
	for rows.Next() {
		var e ReflectionEntry
		var rateLimited, dryRun, forced int
		var createdAt string
		if err := rows.Scan(
			&e.ID, &e.RoomID, &e.Action, &e.Reason, &e.Message, &e.Tone, &e.GoalID,
			&rateLimited, &dryRun, &forced, &e.InputTokens, &e.OutputTokens, &e.DurationMs,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning reflection: %w", err)
		}
		e.RateLimited = rateLimited != 0
		e.DryRun = dryRun != 0
		e.Forced = forced != 0
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reflections: %w", err)
	}
	return entries, nil
}

// MessageGoalIDsSince returns the goal ids surfaced by posted messages at or
// after since.
func (s *SQLiteStore) MessageGoalIDsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT goal_id FROM reflections
		WHERE action = ? AND dry_run = 0 AND goal_id != '' AND created_at >= ?
	`, ActionMessage, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying surfaced goals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning goal id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountMessagesSince counts posted messages at or after since.
func (s *SQLiteStore) CountMessagesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reflections
		WHERE action = ? AND dry_run = 0 AND created_at >= ?
	`, ActionMessage, formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting reflection messages: %w", err)
	}
	return n, nil
}

// LastMessageAt returns the time of the newest posted message.
func (s *SQLiteStore) LastMessageAt(ctx context.Context) (time.Time, bool, error) {
	var last *string
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM reflections
		WHERE action = ? AND dry_run = 0
	`, ActionMessage).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last reflection message: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	t, err := parseTime("created_at", *last)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// ReflectionTotals aggregates the whole log.
func (s *SQLiteStore) ReflectionTotals(ctx context.Context) (*ReflectionTotals, error) {
	var t ReflectionTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN action = 'pass' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'message' AND dry_run = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(rate_limited), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM reflections
	`).Scan(&t.Runs, &t.Passes, &t.Messages, &t.RateLimited, &t.InputTokens, &t.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("aggregating reflections: %w", err)
	}
	return &t, nil
}
