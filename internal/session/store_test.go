// ABOUTME: Tests for the per-user session store.
// ABOUTME: Validates touch/replace semantics, idle expiry, sweeping, resets and concurrency.

package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := New(15*time.Minute, 0, WithClock(clock.Now))
	t.Cleanup(s.Close)
	return s, clock
}

func TestGet_Absent(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok := s.Get("alice")
	assert.False(t, ok)
}

func TestTouch_CreatesAndReplaces(t *testing.T) {
	s, clock := newTestStore(t)

	s.Touch("alice", "sess-1")
	sess, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "sess-1", sess.SessionID)
	assert.Equal(t, clock.Now(), sess.LastActivityAt)

	clock.Advance(time.Minute)
	s.Touch("alice", "")
	sess, _ = s.Get("alice")
	assert.Equal(t, "sess-1", sess.SessionID, "empty id keeps the stored session")
	assert.Equal(t, clock.Now(), sess.LastActivityAt)

	s.Touch("alice", "sess-2")
	sess, _ = s.Get("alice")
	assert.Equal(t, "sess-2", sess.SessionID)
}

func TestGet_ExpiredReadsAbsent(t *testing.T) {
	s, clock := newTestStore(t)
	s.Touch("alice", "sess-1")

	clock.Advance(15*time.Minute + time.Second)
	_, ok := s.Get("alice")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len(), "still stored until swept")
}

func TestSweep_RemovesIdleOnly(t *testing.T) {
	s, clock := newTestStore(t)
	s.Touch("alice", "a")
	clock.Advance(10 * time.Minute)
	s.Touch("bob", "b")
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Get("alice")
	assert.False(t, ok)
	_, ok = s.Get("bob")
	assert.True(t, ok)
}

func TestTouch_AfterExpiryStartsFresh(t *testing.T) {
	s, clock := newTestStore(t)
	s.Touch("alice", "old")
	clock.Advance(time.Hour)

	s.Touch("alice", "")
	sess, ok := s.Get("alice")
	require.True(t, ok)
	assert.Empty(t, sess.SessionID)
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t)
	s.Touch("alice", "a")
	s.Touch("bob", "b")

	assert.True(t, s.Reset("alice"))
	assert.False(t, s.Reset("alice"))
	_, ok := s.Get("alice")
	assert.False(t, ok)

	assert.Equal(t, 1, s.ResetAll())
	assert.Equal(t, 0, s.Len())
}

func TestBackgroundSweeper(t *testing.T) {
	s := New(10*time.Millisecond, 5*time.Millisecond)
	defer s.Close()

	s.Touch("alice", "a")
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose_Idempotent(t *testing.T) {
	s := New(time.Minute, time.Minute)
	s.Close()
	s.Close()
}

func TestConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", n%5)
			for j := range 100 {
				s.Touch(user, fmt.Sprintf("s-%d", j))
				s.Get(user)
				if j%25 == 0 {
					s.Sweep()
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}
