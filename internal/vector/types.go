// ABOUTME: Point, payload and filter types for the vector store.
// ABOUTME: Payloads carry content, category, author, subjects and expiry

package vector

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is what a point carries besides its vector.
type Payload struct {
	Content   string     `json:"content"`
	Subjects  []string   `json:"subjects,omitempty"`
	Category  string     `json:"category,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Author    string     `json:"author,omitempty"`
	RoomID    string     `json:"roomId,omitempty"`
}

// Point is a stored item returned by Search or Scroll. Score is zero for
// scrolled points.
type Point struct {
	ID      string
	Score   float64
	Payload Payload
}

// Match is an exact-value condition on a payload key.
type Match struct {
	Key   string
	Value any
}

// Filter restricts a search. All Must conditions have to hold.
type Filter struct {
	Must []Match
}

// Eq builds a single-condition filter.
func Eq(key string, value any) *Filter {
	return &Filter{Must: []Match{{Key: key, Value: value}}}
}

// Query describes a similarity search. When Vector is nil, Text is embedded.
type Query struct {
	Text   string
	Vector []float32
	Limit  int
	Filter *Filter
}

// UpsertResult reports the id written and the id replaced by dedup, if any.
type UpsertResult struct {
	ID         string
	ReplacedID string
	Score      float64
}

type wireCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

type wireFilter struct {
	Must []wireCondition `json:"must"`
}

func (f *Filter) wire() *wireFilter {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	w := &wireFilter{Must: make([]wireCondition, 0, len(f.Must))}
	for _, m := range f.Must {
		w.Must = append(w.Must, wireCondition{Key: m.Key, Match: map[string]any{"value": m.Value}})
	}
	return w
}

type wirePoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload"`
}

// point decodes a wire point. Qdrant ids are either UUID strings or unsigned
// integers.
func (w wirePoint) point() (Point, error) {
	p := Point{Score: w.Score}
	var s string
	if err := json.Unmarshal(w.ID, &s); err == nil {
		p.ID = s
	} else {
		var n uint64
		if err := json.Unmarshal(w.ID, &n); err != nil {
			return Point{}, fmt.Errorf("decoding point id %s: %w", string(w.ID), err)
		}
		p.ID = fmt.Sprintf("%d", n)
	}
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		if err := json.Unmarshal(w.Payload, &p.Payload); err != nil {
			return Point{}, fmt.Errorf("decoding payload of %s: %w", p.ID, err)
		}
	}
	return p, nil
}
