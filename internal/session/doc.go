// Package session tracks the runtime conversation session bound to each user.
//
// A session is created lazily by the first completed query of a user and
// refreshed by every later one. Sessions idle for longer than the configured
// timeout are swept by a background goroutine; a user whose turn failed is
// reset explicitly so the next query starts fresh.
package session
