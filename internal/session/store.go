// ABOUTME: Thread-safe per-user session map with idle expiry.
// ABOUTME: Holds the resumable runtime session id and last activity of each user.

package session

import (
	"sync"
	"time"

	"github.com/micktaiwan/eko/internal/metrics"
)

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 15 * time.Minute

// Session is one user's conversation state.
type Session struct {
	UserID         string
	SessionID      string
	LastActivityAt time.Time
}

// Store maps user ids to sessions. An expired session reads as absent even
// before the sweeper removes it.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	done     chan struct{}
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store whose sessions expire after ttl of inactivity. A
// background goroutine sweeps every sweepInterval; a non-positive interval
// disables it and leaves sweeping to the caller.
func New(ttl, sweepInterval time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if sweepInterval > 0 {
		go s.sweeper(sweepInterval)
	}
	return s
}

// Get returns a copy of the user's live session.
func (s *Store) Get(userID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok || s.expired(sess) {
		return Session{}, false
	}
	return *sess, true
}

// Touch records activity for userID. A non-empty sessionID replaces the
// stored one; an empty one keeps it.
func (s *Store) Touch(userID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || s.expired(sess) {
		sess = &Session{UserID: userID}
		s.sessions[userID] = sess
	}
	if sessionID != "" {
		sess.SessionID = sessionID
	}
	sess.LastActivityAt = s.now()
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
}

// Reset forgets one user's session. It reports whether one existed.
func (s *Store) Reset(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return ok
}

// ResetAll forgets every session and returns how many were dropped.
func (s *Store) ResetAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	s.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
	return n
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, userID)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// expired must be called with mu held.
func (s *Store) expired(sess *Session) bool {
	return s.now().Sub(sess.LastActivityAt) > s.ttl
}

func (s *Store) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
