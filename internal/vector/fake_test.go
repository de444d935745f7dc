// ABOUTME: In-memory Qdrant stand-in and deterministic embedder for tests.
// ABOUTME: Scores by keyword overlap so similarity is predictable

package vector

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// keywordEmbedder maps text onto a fixed keyword basis so that texts sharing
// keywords score high.
type keywordEmbedder struct {
	basis []string
	calls int
	mu    sync.Mutex
}

func newKeywordEmbedder(basis ...string) *keywordEmbedder {
	return &keywordEmbedder{basis: basis}
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.basis)+1)
	for i, word := range e.basis {
		if strings.Contains(lower, word) {
			vec[i] = 1
		}
	}
	vec[len(e.basis)] = 0.01
	return vec, nil
}

func (e *keywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type storedPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string][]storedPoint
	requests    []string
}

func newFakeQdrant(t *testing.T, collections ...string) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{collections: make(map[string][]storedPoint)}
	for _, c := range collections {
		f.collections[c] = nil
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[collection])
}

func (f *fakeQdrant) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}
	name := parts[1]
	points, exists := f.collections[name]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			if !exists {
				http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
				return
			}
			writeJSON(w, map[string]any{"result": map[string]any{"status": "green"}})
		case http.MethodPut:
			if exists {
				http.Error(w, `{"status":{"error":"exists"}}`, http.StatusConflict)
				return
			}
			f.collections[name] = nil
			writeJSON(w, map[string]any{"result": true})
		}
		return
	}

	if !exists {
		http.Error(w, `{"status":{"error":"Collection not found"}}`, http.StatusNotFound)
		return
	}

	var body map[string]json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch {
	case r.Method == http.MethodPut && parts[2] == "points":
		var ps []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		}
		_ = json.Unmarshal(body["points"], &ps)
		for _, p := range ps {
			f.collections[name] = append(f.collections[name], storedPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})

	case len(parts) == 4 && parts[3] == "search":
		var vec []float32
		var limit int
		var filter struct {
			Must []struct {
				Key   string `json:"key"`
				Match struct {
					Value any `json:"value"`
				} `json:"match"`
			} `json:"must"`
		}
		_ = json.Unmarshal(body["vector"], &vec)
		_ = json.Unmarshal(body["limit"], &limit)
		if raw, ok := body["filter"]; ok {
			_ = json.Unmarshal(raw, &filter)
		}
		type hit struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var hits []hit
		for _, p := range points {
			ok := true
			for _, m := range filter.Must {
				if p.Payload[m.Key] != m.Match.Value {
					ok = false
				}
			}
			if ok {
				hits = append(hits, hit{ID: p.ID, Score: cosine(vec, p.Vector), Payload: p.Payload})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > limit {
			hits = hits[:limit]
		}
		writeJSON(w, map[string]any{"result": hits})

	case len(parts) == 4 && parts[3] == "delete":
		var ids []string
		_ = json.Unmarshal(body["points"], &ids)
		kept := points[:0]
		for _, p := range points {
			drop := false
			for _, id := range ids {
				if p.ID == id {
					drop = true
				}
			}
			if !drop {
				kept = append(kept, p)
			}
		}
		f.collections[name] = kept
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})

	case len(parts) == 4 && parts[3] == "scroll":
		var limit, offset int
		_ = json.Unmarshal(body["limit"], &limit)
		_ = json.Unmarshal(body["offset"], &offset)
		end := offset + limit
		if end > len(points) {
			end = len(points)
		}
		var out []map[string]any
		for _, p := range points[offset:end] {
			out = append(out, map[string]any{"id": p.ID, "payload": p.Payload})
		}
		var next any
		if end < len(points) {
			next = end
		}
		writeJSON(w, map[string]any{"result": map[string]any{"points": out, "next_page_offset": next}})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
