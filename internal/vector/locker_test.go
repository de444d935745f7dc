// ABOUTME: Tests for the in-process and Redis lockers and embedder error wrapping.
// ABOUTME: Redis cases run against miniredis

package vector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Excludes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "facts")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "facts")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(ctx, "self")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(ctx, "facts")
	require.NoError(t, err)
	again()
}

func TestFuncEmbedder_WrapsErrors(t *testing.T) {
	e := NewFuncEmbedder(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("401 unauthorized")
	})

	_, err := e.Embed(context.Background(), "hello")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ServiceEmbedding, ue.Service)

	_, err = e.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestFuncEmbedder_PassesThrough(t *testing.T) {
	e := NewFuncEmbedder(func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func newRedisLockers(t *testing.T) (*miniredis.Miniredis, *RedisLocker, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	newLocker := func() *RedisLocker {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		l := NewRedisLocker(rdb, "test:")
		l.wait = 200 * time.Millisecond
		l.poll = 10 * time.Millisecond
		return l
	}
	return mr, newLocker(), newLocker()
}

func TestRedisLocker_Excludes(t *testing.T) {
	mr, a, b := newRedisLockers(t)
	ctx := context.Background()

	unlock, err := a.Lock(ctx, "facts")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:facts"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:facts"))

	_, err = b.Lock(ctx, "facts")
	assert.ErrorIs(t, err, ErrLockTimeout)

	other, err := b.Lock(ctx, "self")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.False(t, mr.Exists("test:facts"))

	again, err := b.Lock(ctx, "facts")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	mr, a, b := newRedisLockers(t)
	ctx := context.Background()

	staleUnlock, err := a.Lock(ctx, "facts")
	require.NoError(t, err)

	// a's lease runs out while it still believes it holds the lock.
	mr.FastForward(31 * time.Second)
	require.False(t, mr.Exists("test:facts"))

	unlock, err := b.Lock(ctx, "facts")
	require.NoError(t, err)
	holder, err := mr.Get("test:facts")
	require.NoError(t, err)

	staleUnlock()
	still, err := mr.Get("test:facts")
	require.NoError(t, err)
	assert.Equal(t, holder, still)

	unlock()
	assert.False(t, mr.Exists("test:facts"))
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	_, a, b := newRedisLockers(t)
	b.wait = 10 * time.Second

	unlock, err := a.Lock(context.Background(), "facts")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = b.Lock(ctx, "facts")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}
