// ABOUTME: Tests for the tool registry and handlers.
// ABOUTME: Uses in-memory vector and note fakes to observe handler side effects.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/vector"
)

type searchCall struct {
	collection string
	query      vector.Query
}

type fakeVectors struct {
	mu       sync.Mutex
	searches []searchCall
	upserts  map[string][]vector.Payload
	deletes  []string
	scrolled []int
	points   []vector.Point
	err      error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{upserts: make(map[string][]vector.Payload)}
}

func (f *fakeVectors) Search(_ context.Context, collection string, q vector.Query) ([]vector.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, searchCall{collection, q})
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

func (f *fakeVectors) Upsert(_ context.Context, collection string, p vector.Payload) (vector.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return vector.UpsertResult{}, f.err
	}
	f.upserts[collection] = append(f.upserts[collection], p)
	return vector.UpsertResult{ID: fmt.Sprintf("id-%d", len(f.upserts[collection]))}, nil
}

func (f *fakeVectors) Delete(_ context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, collection+"/"+id)
	return f.err
}

func (f *fakeVectors) Scroll(_ context.Context, _ string, limit int) ([]vector.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolled = append(f.scrolled, limit)
	if limit > 0 && len(f.points) > limit {
		return f.points[:limit], nil
	}
	return f.points, nil
}

type fakeNotes struct {
	notes map[string]*store.Note
}

func (f *fakeNotes) SearchNotes(_ context.Context, _ string, _ int) ([]*store.Note, error) {
	var out []*store.Note
	for _, n := range f.notes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeNotes) GetNote(_ context.Context, id string) (*store.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return n, nil
}

var testNow = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *fakeVectors) {
	t.Helper()
	vecs := newFakeVectors()
	notes := &fakeNotes{notes: map[string]*store.Note{
		"n1": {ID: "n1", Title: "Courses", Content: "lait, oeufs", UpdatedAt: testNow},
	}}
	r := NewRegistry(Deps{
		Vectors:     vecs,
		Notes:       notes,
		Collections: Collections{Facts: "facts", Self: "self", Goals: "goals"},
		Now:         func() time.Time { return testNow },
	})
	return r, vecs
}

func invoke(t *testing.T, r *Registry, turn *Turn, name Name, input string) (string, error) {
	t.Helper()
	return r.Invoke(context.Background(), turn, name, json.RawMessage(input))
}

func TestRegistry_AllToolsRegistered(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Equal(t, AllNames, r.Names())

	for _, n := range AllNames {
		tool, ok := r.Get(n)
		require.True(t, ok, n)
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tool.Schema, &schema), "schema of %s", n)
		assert.Equal(t, "object", schema["type"])
	}
}

func TestRegistry_DefinitionsRespectAllowList(t *testing.T) {
	r, _ := newTestRegistry(t)

	defs := r.Definitions([]Name{Respond, SearchMemories})
	require.Len(t, defs, 2)
	assert.Equal(t, "search_memories", defs[0].Function.Name)
	assert.Equal(t, "respond", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	params, ok := defs[1].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, params, "properties")

	assert.Len(t, r.Definitions(nil), len(AllNames))
}

func TestInvoke_UnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := invoke(t, r, NewTurn("req-1", "alice", nil), "rm_rf", `{}`)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestInvoke_ValidationRejectsBeforeHandler(t *testing.T) {
	r, vecs := newTestRegistry(t)
	turn := NewTurn("req-1", "alice", nil)

	tests := []struct {
		name  Name
		input string
		field string
	}{
		{SearchMemories, `{}`, "query"},
		{SearchMemories, `{"query":"x","limit":50}`, "limit"},
		{GetRecentMemories, `{"limit":0.5}`, ""},
		{StoreMemory, `{"content":"likes tea"}`, "subjects"},
		{StoreMemory, `{"content":"likes tea","subjects":[],"ttl":"1y"}`, "ttl"},
		{DeleteMemory, `{"id":"abc"}`, "reason"},
		{StoreSelf, `{"content":"I run on Go","category":"mood"}`, "category"},
		{SearchGoals, `{"query":"x","category":"preference"}`, "category"},
		{Respond, `{"expression":"angry","message":"hi"}`, "expression"},
		{Respond, `{"expression":"happy"}`, "message"},
		{GetNote, `not json`, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.name)+"/"+tt.input, func(t *testing.T) {
			_, err := invoke(t, r, turn, tt.name, tt.input)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.name, ve.Tool)
			if tt.field != "" {
				assert.Equal(t, tt.field, ve.Field)
			}
		})
	}

	assert.Empty(t, vecs.searches)
	assert.Empty(t, vecs.upserts)
	assert.Empty(t, vecs.deletes)
	assert.False(t, turn.HasResponded())
}

func TestStoreMemory_ResolvesTTLOnce(t *testing.T) {
	r, vecs := newTestRegistry(t)

	out, err := invoke(t, r, NewTurn("req-1", "alice", nil), StoreMemory,
		`{"content":"Mickael is in Lyon this week","subjects":["Mickael"],"ttl":"7d"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"stored"`)

	require.Len(t, vecs.upserts["facts"], 1)
	p := vecs.upserts["facts"][0]
	assert.Equal(t, []string{"Mickael"}, p.Subjects)
	assert.True(t, p.Timestamp.Equal(testNow))
	require.NotNil(t, p.ExpiresAt)
	assert.True(t, p.ExpiresAt.Equal(testNow.AddDate(0, 0, 7)))

	_, err = invoke(t, r, NewTurn("req-2", "alice", nil), StoreMemory,
		`{"content":"Mickael likes tea","subjects":["Mickael"],"ttl":null}`)
	require.NoError(t, err)
	assert.Nil(t, vecs.upserts["facts"][1].ExpiresAt)
}

func TestSearchSelf_CategoryFilterIsServerSide(t *testing.T) {
	r, vecs := newTestRegistry(t)

	_, err := invoke(t, r, NewTurn("req-1", "alice", nil), SearchSelf, `{"query":"what can I do","category":"capability"}`)
	require.NoError(t, err)

	require.Len(t, vecs.searches, 1)
	call := vecs.searches[0]
	assert.Equal(t, "self", call.collection)
	require.NotNil(t, call.query.Filter)
	assert.Equal(t, []vector.Match{{Key: "category", Value: "capability"}}, call.query.Filter.Must)
	assert.Equal(t, 10, call.query.Limit)
}

func TestStoreGoal(t *testing.T) {
	r, vecs := newTestRegistry(t)

	_, err := invoke(t, r, NewTurn("req-1", "alice", nil), StoreGoal, `{"content":"Ask what music Mickael likes","category":"curiosity"}`)
	require.NoError(t, err)
	require.Len(t, vecs.upserts["goals"], 1)
	assert.Equal(t, "curiosity", vecs.upserts["goals"][0].Category)
}

func TestGetRecentMemories_SortsAndTrims(t *testing.T) {
	r, vecs := newTestRegistry(t)
	for i := range 6 {
		vecs.points = append(vecs.points, vector.Point{
			ID:      fmt.Sprintf("p%d", i),
			Payload: vector.Payload{Content: fmt.Sprintf("fact %d", i), Timestamp: testNow.Add(time.Duration(i) * time.Hour)},
		})
	}

	out, err := invoke(t, r, NewTurn("req-1", "alice", nil), GetRecentMemories, `{"limit":2}`)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, vecs.scrolled, "fetch window is limit*2")

	var res struct {
		Results []pointView `json:"results"`
		Count   int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "p3", res.Results[0].ID)
	assert.Equal(t, "p2", res.Results[1].ID)
}

func TestDeleteMemory(t *testing.T) {
	r, vecs := newTestRegistry(t)

	out, err := invoke(t, r, NewTurn("req-1", "alice", nil), DeleteMemory, `{"id":"abc","reason":"user corrected it"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
	assert.Equal(t, []string{"facts/abc"}, vecs.deletes)

	_, err = invoke(t, r, NewTurn("req-1", "alice", nil), DeleteGoal, `{"id":"g1","reason":"asked"}`)
	require.NoError(t, err)
	assert.Equal(t, "goals/g1", vecs.deletes[1])
}

func TestUpstreamErrorReachesCaller(t *testing.T) {
	r, vecs := newTestRegistry(t)
	vecs.err = &vector.UpstreamError{Service: vector.ServiceVector, Op: "search", StatusCode: 500, Body: "down"}

	_, err := invoke(t, r, NewTurn("req-1", "alice", nil), SearchMemories, `{"query":"x"}`)
	assert.True(t, vector.IsUpstream(err))
}

func TestNotes(t *testing.T) {
	r, _ := newTestRegistry(t)
	turn := NewTurn("req-1", "alice", nil)

	out, err := invoke(t, r, turn, SearchNotes, `{"query":"courses"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"n1"`)

	out, err = invoke(t, r, turn, GetNote, `{"id":"n1"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "lait, oeufs")

	_, err = invoke(t, r, turn, GetNote, `{"id":"nope"}`)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRespond_AtMostOnce(t *testing.T) {
	r, _ := newTestRegistry(t)

	var emitted []Response
	turn := NewTurn("req-1", "alice", func(resp Response) { emitted = append(emitted, resp) })
	assert.Equal(t, Response{Expression: Neutral}, turn.Response())

	out, err := invoke(t, r, turn, Respond, `{"expression":"happy","message":"Salut Mickael !"}`)
	require.NoError(t, err)
	assert.Equal(t, "response delivered", out)

	out, err = invoke(t, r, turn, Respond, `{"expression":"sad","message":"second try"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "already responded")

	assert.True(t, turn.HasResponded())
	assert.Equal(t, Response{Expression: Happy, Message: "Salut Mickael !"}, turn.Response())
	assert.Len(t, emitted, 1)
}

func TestBind_ImplementsLangchainTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	turn := NewTurn("req-1", "alice", nil)

	bound := r.Bind(turn, []Name{Respond})
	require.Len(t, bound, 1)
	assert.Equal(t, "respond", bound[0].Name())
	assert.NotEmpty(t, bound[0].Description())
	assert.Equal(t, "respond", bound[0].Definition().Function.Name)

	_, err := bound[0].Call(context.Background(), `{"expression":"curious","message":"Tu fais quoi ?"}`)
	require.NoError(t, err)
	assert.Equal(t, Curious, turn.Response().Expression)
}
