// Package store provides persistent storage for the agent core using SQLite.
//
// # Architecture
//
// The store is split into narrow interfaces so each consumer depends only on
// what it uses:
//
//   - NoteStore: read-mostly notes exposed to the model through tools
//   - RoomStore: room messages the reflection scheduler reads and posts to
//   - ReflectionStore: append-only reflection log used for rate limiting,
//     goal non-repetition and the operator history feed
//   - UsageStore: token consumption per request
//
// SQLiteStore implements all of them in a single struct.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 strings in UTC, so lexical order is
// chronological order.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a path under t.TempDir().
package store
