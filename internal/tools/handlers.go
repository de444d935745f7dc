// ABOUTME: Tool table and handlers for memories, self-knowledge, goals, notes and respond.
// ABOUTME: Each tool pairs a JSON schema with a validated argument struct.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/micktaiwan/eko/internal/vector"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 20
)

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func (h *handlers) all() []*Tool {
	return []*Tool{
		define(SearchMemories,
			"Search stored facts about people and past conversations. Results are sorted by similarity; judge relevance yourself.",
			`{"type":"object","properties":{"query":{"type":"string","description":"What to look for"},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`,
			h.searchMemories),
		define(GetRecentMemories,
			"List the most recently stored facts.",
			`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":20}}}`,
			h.getRecentMemories),
		define(StoreMemory,
			"Remember a fact. Near-duplicates of an existing fact replace it.",
			`{"type":"object","properties":{"content":{"type":"string"},"subjects":{"type":"array","items":{"type":"string"},"description":"People or topics the fact is about"},"ttl":{"type":["string","null"],"enum":["7d","30d","90d",null],"description":"Forget after this long; null keeps it"}},"required":["content","subjects"]}`,
			h.storeMemory),
		define(DeleteMemory,
			"Delete a stored fact that is wrong or obsolete.",
			`{"type":"object","properties":{"id":{"type":"string"},"reason":{"type":"string"}},"required":["id","reason"]}`,
			h.deleteIn(func(c Collections) string { return c.Facts })),

		define(SearchSelf,
			"Search what you know about yourself.",
			`{"type":"object","properties":{"query":{"type":"string"},"category":{"type":"string","enum":["context","capability","limitation","preference","relation"]},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`,
			func(ctx context.Context, t *Turn, in *selfSearchInput) (string, error) {
				return h.searchCategorized(ctx, h.deps.Collections.Self, &in.searchInput)
			}),
		define(StoreSelf,
			"Record something about yourself.",
			`{"type":"object","properties":{"content":{"type":"string"},"category":{"type":"string","enum":["context","capability","limitation","preference","relation"]}},"required":["content","category"]}`,
			func(ctx context.Context, t *Turn, in *selfStoreInput) (string, error) {
				return h.storeCategorized(ctx, t, h.deps.Collections.Self, &in.categorizedInput)
			}),
		define(DeleteSelf,
			"Delete an outdated self-knowledge entry.",
			`{"type":"object","properties":{"id":{"type":"string"},"reason":{"type":"string"}},"required":["id","reason"]}`,
			h.deleteIn(func(c Collections) string { return c.Self })),

		define(SearchGoals,
			"Search your goals: things you want to learn, ask or understand.",
			`{"type":"object","properties":{"query":{"type":"string"},"category":{"type":"string","enum":["capability_request","understanding","connection","curiosity"]},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`,
			func(ctx context.Context, t *Turn, in *goalSearchInput) (string, error) {
				return h.searchCategorized(ctx, h.deps.Collections.Goals, &in.searchInput)
			}),
		define(StoreGoal,
			"Record a new goal.",
			`{"type":"object","properties":{"content":{"type":"string"},"category":{"type":"string","enum":["capability_request","understanding","connection","curiosity"]}},"required":["content","category"]}`,
			func(ctx context.Context, t *Turn, in *goalStoreInput) (string, error) {
				return h.storeCategorized(ctx, t, h.deps.Collections.Goals, &in.categorizedInput)
			}),
		define(DeleteGoal,
			"Delete a goal that is reached or no longer relevant.",
			`{"type":"object","properties":{"id":{"type":"string"},"reason":{"type":"string"}},"required":["id","reason"]}`,
			h.deleteIn(func(c Collections) string { return c.Goals })),

		define(SearchNotes,
			"Search the user's notes by title and content.",
			`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
			h.searchNotes),
		define(GetNote,
			"Read one note in full.",
			`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`,
			h.getNote),

		define(Respond,
			"Deliver your answer to the user. Call exactly once per turn; later calls are ignored.",
			`{"type":"object","properties":{"expression":{"type":"string","enum":["neutral","happy","laughing","surprised","sad","sleepy","curious"]},"message":{"type":"string"}},"required":["expression","message"]}`,
			h.respond),
	}
}

// Argument structs.

type searchInput struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

func (in *searchInput) validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return invalid("query", "is required")
	}
	return validateLimit(in.Limit)
}

// checkCategory validates in with an optional category from categories.
func (in *searchInput) checkCategory(categories []string) error {
	if err := in.validate(); err != nil {
		return err
	}
	if in.Category != "" && !slices.Contains(categories, in.Category) {
		return invalid("category", fmt.Sprintf("must be one of %v", categories))
	}
	return nil
}

type recentInput struct {
	Limit int `json:"limit"`
}

func (in *recentInput) validate() error { return validateLimit(in.Limit) }

type storeMemoryInput struct {
	Content  string    `json:"content"`
	Subjects *[]string `json:"subjects"`
	TTL      *string   `json:"ttl"`
}

func (in *storeMemoryInput) validate() error {
	if strings.TrimSpace(in.Content) == "" {
		return invalid("content", "is required")
	}
	if in.Subjects == nil {
		return invalid("subjects", "is required")
	}
	for _, s := range *in.Subjects {
		if strings.TrimSpace(s) == "" {
			return invalid("subjects", "must not contain empty strings")
		}
	}
	if in.TTL != nil {
		if _, ok := memoryTTLs[*in.TTL]; !ok {
			return invalid("ttl", `must be one of "7d", "30d", "90d" or null`)
		}
	}
	return nil
}

type categorizedInput struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

func (in *categorizedInput) check(categories []string) error {
	if strings.TrimSpace(in.Content) == "" {
		return invalid("content", "is required")
	}
	if !slices.Contains(categories, in.Category) {
		return invalid("category", fmt.Sprintf("must be one of %v", categories))
	}
	return nil
}

type selfSearchInput struct{ searchInput }

func (in *selfSearchInput) validate() error {
	return in.searchInput.checkCategory(SelfCategories)
}

type goalSearchInput struct{ searchInput }

func (in *goalSearchInput) validate() error {
	return in.searchInput.checkCategory(GoalCategories)
}

type selfStoreInput struct{ categorizedInput }

func (in *selfStoreInput) validate() error { return in.check(SelfCategories) }

type goalStoreInput struct{ categorizedInput }

func (in *goalStoreInput) validate() error { return in.check(GoalCategories) }

type deleteInput struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (in *deleteInput) validate() error {
	if strings.TrimSpace(in.ID) == "" {
		return invalid("id", "is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return invalid("reason", "is required")
	}
	return nil
}

type notesSearchInput struct {
	Query string `json:"query"`
}

func (in *notesSearchInput) validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return invalid("query", "is required")
	}
	return nil
}

type noteGetInput struct {
	ID string `json:"id"`
}

func (in *noteGetInput) validate() error {
	if strings.TrimSpace(in.ID) == "" {
		return invalid("id", "is required")
	}
	return nil
}

type respondInput struct {
	Expression Expression `json:"expression"`
	Message    *string    `json:"message"`
}

func (in *respondInput) validate() error {
	if !in.Expression.Valid() {
		return invalid("expression", fmt.Sprintf("must be one of %v", Expressions))
	}
	if in.Message == nil {
		return invalid("message", "is required")
	}
	return nil
}

func validateLimit(limit int) error {
	if limit != 0 && (limit < 1 || limit > maxSearchLimit) {
		return invalid("limit", fmt.Sprintf("must be between 1 and %d", maxSearchLimit))
	}
	return nil
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

// Result shapes.

type pointView struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Score     float64    `json:"score,omitempty"`
	Subjects  []string   `json:"subjects,omitempty"`
	Category  string     `json:"category,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func viewPoints(points []vector.Point) []pointView {
	out := make([]pointView, 0, len(points))
	for _, p := range points {
		out = append(out, pointView{
			ID:        p.ID,
			Content:   p.Payload.Content,
			Score:     p.Score,
			Subjects:  p.Payload.Subjects,
			Category:  p.Payload.Category,
			Timestamp: p.Payload.Timestamp,
			ExpiresAt: p.Payload.ExpiresAt,
		})
	}
	return out
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}

func results(points []vector.Point) (string, error) {
	return marshal(map[string]any{"results": viewPoints(points), "count": len(points)})
}

// Handlers.

func (h *handlers) searchMemories(ctx context.Context, _ *Turn, in *searchInput) (string, error) {
	points, err := h.deps.Vectors.Search(ctx, h.deps.Collections.Facts, vector.Query{
		Text:  in.Query,
		Limit: limitOr(in.Limit, defaultSearchLimit),
	})
	if err != nil {
		return "", err
	}
	return results(points)
}

func (h *handlers) getRecentMemories(ctx context.Context, _ *Turn, in *recentInput) (string, error) {
	limit := limitOr(in.Limit, defaultSearchLimit)
	points, err := h.deps.Vectors.Scroll(ctx, h.deps.Collections.Facts, limit*2)
	if err != nil {
		return "", err
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Payload.Timestamp.After(points[j].Payload.Timestamp)
	})
	if len(points) > limit {
		points = points[:limit]
	}
	return results(points)
}

func (h *handlers) storeMemory(ctx context.Context, turn *Turn, in *storeMemoryInput) (string, error) {
	now := h.deps.Now().UTC()
	payload := vector.Payload{
		Content:   strings.TrimSpace(in.Content),
		Subjects:  *in.Subjects,
		Timestamp: now,
	}
	if in.TTL != nil {
		expires := now.AddDate(0, 0, memoryTTLs[*in.TTL])
		payload.ExpiresAt = &expires
	}
	return h.store(ctx, turn, h.deps.Collections.Facts, payload)
}

func (h *handlers) store(ctx context.Context, turn *Turn, collection string, payload vector.Payload) (string, error) {
	res, err := h.deps.Vectors.Upsert(ctx, collection, payload)
	if err != nil {
		return "", err
	}
	h.logger.Info("stored point",
		"collection", collection,
		"id", res.ID,
		"replaced", res.ReplacedID,
		"request_id", turn.RequestID,
	)
	out := map[string]any{"id": res.ID, "status": "stored"}
	if res.ReplacedID != "" {
		out["replaced"] = res.ReplacedID
	}
	return marshal(out)
}

// searchCategorized searches collection, filtering on category server-side
// when one is given.
func (h *handlers) searchCategorized(ctx context.Context, collection string, in *searchInput) (string, error) {
	q := vector.Query{Text: in.Query, Limit: limitOr(in.Limit, defaultSearchLimit)}
	if in.Category != "" {
		q.Filter = vector.Eq("category", in.Category)
	}
	points, err := h.deps.Vectors.Search(ctx, collection, q)
	if err != nil {
		return "", err
	}
	return results(points)
}

func (h *handlers) storeCategorized(ctx context.Context, turn *Turn, collection string, in *categorizedInput) (string, error) {
	return h.store(ctx, turn, collection, vector.Payload{
		Content:   strings.TrimSpace(in.Content),
		Category:  in.Category,
		Timestamp: h.deps.Now().UTC(),
	})
}

func (h *handlers) deleteIn(collection func(Collections) string) func(context.Context, *Turn, *deleteInput) (string, error) {
	return func(ctx context.Context, turn *Turn, in *deleteInput) (string, error) {
		name := collection(h.deps.Collections)
		h.logger.Info("deleting point",
			"collection", name,
			"id", in.ID,
			"reason", in.Reason,
			"request_id", turn.RequestID,
		)
		if err := h.deps.Vectors.Delete(ctx, name, in.ID); err != nil {
			return "", err
		}
		return marshal(map[string]string{"id": in.ID, "status": "deleted"})
	}
}

func (h *handlers) searchNotes(ctx context.Context, _ *Turn, in *notesSearchInput) (string, error) {
	notes, err := h.deps.Notes.SearchNotes(ctx, in.Query, defaultSearchLimit)
	if err != nil {
		return "", err
	}
	type noteView struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Excerpt   string    `json:"excerpt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	out := make([]noteView, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteView{ID: n.ID, Title: n.Title, Excerpt: excerpt(n.Content, 200), UpdatedAt: n.UpdatedAt})
	}
	return marshal(map[string]any{"notes": out, "count": len(out)})
}

func (h *handlers) getNote(ctx context.Context, _ *Turn, in *noteGetInput) (string, error) {
	n, err := h.deps.Notes.GetNote(ctx, in.ID)
	if err != nil {
		return "", fmt.Errorf("note %s: %w", in.ID, err)
	}
	return marshal(map[string]any{
		"id":        n.ID,
		"title":     n.Title,
		"content":   n.Content,
		"updatedAt": n.UpdatedAt,
	})
}

// alreadyResponded is returned to the model for every respond call after the
// first one of a turn.
const alreadyResponded = "already responded: only the first respond call of a turn is delivered, this one was ignored"

func (h *handlers) respond(_ context.Context, turn *Turn, in *respondInput) (string, error) {
	if !turn.Respond(Response{Expression: in.Expression, Message: *in.Message}) {
		h.logger.Warn("duplicate respond call ignored", "request_id", turn.RequestID)
		return alreadyResponded, nil
	}
	return "response delivered", nil
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
