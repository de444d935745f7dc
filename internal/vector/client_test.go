// ABOUTME: Tests for the vector client against an in-memory Qdrant.
// ABOUTME: Covers dedup replacement, 404 handling, filters, scroll paging and errors.

package vector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, collections ...string) (*Client, *fakeQdrant, *keywordEmbedder) {
	t.Helper()
	fake, srv := newFakeQdrant(t, collections...)
	emb := newKeywordEmbedder("cat", "dog", "coffee", "paris", "music")
	c := NewClient(emb, Options{URL: srv.URL})
	return c, fake, emb
}

func TestUpsert_ReplacesNearDuplicate(t *testing.T) {
	c, fake, emb := newTestClient(t, "facts")
	ctx := context.Background()

	first, err := c.Upsert(ctx, "facts", Payload{Content: "Mickael has a cat"})
	require.NoError(t, err)
	assert.Empty(t, first.ReplacedID)

	second, err := c.Upsert(ctx, "facts", Payload{Content: "Mickael owns a cat now", Subjects: []string{"Mickael"}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ReplacedID)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 1, fake.count("facts"))
	points, err := c.Scroll(ctx, "facts", 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Mickael owns a cat now", points[0].Payload.Content)
	assert.Equal(t, []string{"Mickael"}, points[0].Payload.Subjects)

	// One embedding per upsert: the dedup search reuses the vector.
	assert.Equal(t, 2, emb.Calls())
}

func TestUpsert_KeepsDistinctContent(t *testing.T) {
	c, fake, _ := newTestClient(t, "facts")
	ctx := context.Background()

	_, err := c.Upsert(ctx, "facts", Payload{Content: "likes coffee"})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, "facts", Payload{Content: "lives in paris"})
	require.NoError(t, err)

	assert.Equal(t, 2, fake.count("facts"))
}

func TestUpsert_ConcurrentSameContentLeavesOnePoint(t *testing.T) {
	c, fake, _ := newTestClient(t, "facts")
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Upsert(ctx, "facts", Payload{Content: "plays music"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.count("facts"))
}

func TestUpsert_EmptyContent(t *testing.T) {
	c, _, _ := newTestClient(t, "facts")
	_, err := c.Upsert(context.Background(), "facts", Payload{Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestUpsert_StampsTimestamp(t *testing.T) {
	_, srv := newFakeQdrant(t, "facts")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClient(newKeywordEmbedder("cat"), Options{URL: srv.URL, Now: func() time.Time { return now }})

	_, err := c.Upsert(context.Background(), "facts", Payload{Content: "cat"})
	require.NoError(t, err)

	points, err := c.Scroll(context.Background(), "facts", 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Payload.Timestamp.Equal(now))
}

func TestSearch_MissingCollectionIsEmpty(t *testing.T) {
	c, _, _ := newTestClient(t)
	points, err := c.Search(context.Background(), "nope", Query{Text: "cat"})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestSearch_SortedAndFiltered(t *testing.T) {
	c, _, _ := newTestClient(t, "self")
	ctx := context.Background()

	_, err := c.Insert(ctx, "self", Payload{Content: "I like music", Category: "preference"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, "self", Payload{Content: "I can play music and talk about coffee", Category: "capability"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, "self", Payload{Content: "dog", Category: "preference"})
	require.NoError(t, err)

	all, err := c.Search(ctx, "self", Query{Text: "music", Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}

	prefs, err := c.Search(ctx, "self", Query{Text: "music", Limit: 10, Filter: Eq("category", "preference")})
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	for _, p := range prefs {
		assert.Equal(t, "preference", p.Payload.Category)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	c, fake, _ := newTestClient(t, "goals")
	ctx := context.Background()

	id, err := c.Insert(ctx, "goals", Payload{Content: "ask about cat"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "goals", id))
	require.NoError(t, c.Delete(ctx, "goals", id))
	require.NoError(t, c.Delete(ctx, "missing", id))
	assert.Equal(t, 0, fake.count("goals"))
}

func TestScroll_PagesAndLimits(t *testing.T) {
	c, _, _ := newTestClient(t, "facts")
	ctx := context.Background()
	for range 300 {
		_, err := c.Insert(ctx, "facts", Payload{Content: "cat"})
		require.NoError(t, err)
	}

	all, err := c.Scroll(ctx, "facts", 0)
	require.NoError(t, err)
	assert.Len(t, all, 300)

	some, err := c.Scroll(ctx, "facts", 20)
	require.NoError(t, err)
	assert.Len(t, some, 20)
}

func TestEnsureCollection(t *testing.T) {
	c, fake, _ := newTestClient(t, "facts")
	ctx := context.Background()

	require.NoError(t, c.EnsureCollection(ctx, "facts", 6))
	require.NoError(t, c.EnsureCollection(ctx, "live", 6))

	fake.mu.Lock()
	_, ok := fake.collections["live"]
	fake.mu.Unlock()
	assert.True(t, ok)
}

func TestUpstreamError_OnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(newKeywordEmbedder("cat"), Options{URL: srv.URL})
	_, err := c.Search(context.Background(), "facts", Query{Text: "cat"})
	require.Error(t, err)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.Equal(t, ServiceVector, ue.Service)
	assert.Contains(t, ue.Body, "overloaded")
	assert.True(t, IsUpstream(err))
}

func TestAPIKeyHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("api-key")
		writeJSON(w, map[string]any{"result": []any{}})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(newKeywordEmbedder("cat"), Options{URL: srv.URL, APIKey: "secret"})
	_, err := c.Search(context.Background(), "facts", Query{Text: "cat"})
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}
