// ABOUTME: Post-answer fact extraction: one LLM call, then deduplicated
// ABOUTME: upserts into the facts collection.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/micktaiwan/eko/internal/agent"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/vector"
)

const extractionPrompt = `Tu extrais des faits durables d'un échange entre un utilisateur et Eko.
Ne garde que des faits concrets sur des personnes (préférences, projets, relations, événements). Ignore les banalités et ce qu'Eko dit de lui-même.
Réponds uniquement en JSON: {"facts":[{"content":"...","subjects":["..."],"ttl":"7d"|"30d"|"90d"|null}]}
Si rien ne mérite d'être retenu, réponds {"facts":[]}.`

// Upserter writes deduplicated points.
type Upserter interface {
	Upsert(ctx context.Context, collection string, payload vector.Payload) (vector.UpsertResult, error)
}

// Fact is one extracted memory.
type Fact struct {
	Content  string   `json:"content"`
	Subjects []string `json:"subjects"`
	TTL      *string  `json:"ttl"`
}

// FactExtractor implements Remembered.
type FactExtractor struct {
	model      llms.Model
	vectors    Upserter
	collection string
	usage      store.UsageStore
	maxTokens  int
	logger     *slog.Logger
	now        func() time.Time
}

// NewFactExtractor creates an extractor writing into collection. usage
// may be nil.
func NewFactExtractor(model llms.Model, vectors Upserter, collection string, usage store.UsageStore, logger *slog.Logger) *FactExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactExtractor{
		model:      model,
		vectors:    vectors,
		collection: collection,
		usage:      usage,
		maxTokens:  800,
		logger:     logger.With("component", "facts"),
		now:        time.Now,
	}
}

// Extract asks the model for the facts worth keeping from ex.
func (f *FactExtractor) Extract(ctx context.Context, ex Exchange) ([]Fact, agent.Usage, error) {
	prompt := fmt.Sprintf("Utilisateur (%s): %s\nEko: %s", ex.UserID, ex.Message, ex.Response)
	reply, usage, err := agent.Complete(ctx, f.model, extractionPrompt, prompt, f.maxTokens)
	if err != nil {
		return nil, usage, err
	}
	var out struct {
		Facts []Fact `json:"facts"`
	}
	if err := agent.ExtractJSON(reply, &out); err != nil {
		return nil, usage, err
	}

	facts := out.Facts[:0]
	for _, fact := range out.Facts {
		fact.Content = strings.TrimSpace(fact.Content)
		if fact.Content == "" {
			continue
		}
		if len(fact.Subjects) == 0 && ex.UserID != "" {
			fact.Subjects = []string{ex.UserID}
		}
		facts = append(facts, fact)
	}
	return facts, usage, nil
}

// Remember implements Remembered.
func (f *FactExtractor) Remember(ctx context.Context, ex Exchange) error {
	facts, usage, err := f.Extract(ctx, ex)
	if f.usage != nil && (usage.InputTokens > 0 || usage.OutputTokens > 0) {
		if uerr := f.usage.SaveUsage(ctx, &store.TokenUsage{
			RequestID:    ex.RequestID,
			UserID:       ex.UserID,
			Source:       "extraction",
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		}); uerr != nil {
			f.logger.Warn("saving extraction usage failed", "error", uerr)
		}
	}
	if err != nil {
		return fmt.Errorf("extracting facts: %w", err)
	}

	now := f.now().UTC()
	var errs []error
	stored := 0
	for _, fact := range facts {
		payload := vector.Payload{
			Content:   fact.Content,
			Subjects:  fact.Subjects,
			Timestamp: now,
			Author:    "extraction",
		}
		if exp, ok := expiry(now, fact.TTL); ok {
			payload.ExpiresAt = &exp
		}
		res, err := f.vectors.Upsert(ctx, f.collection, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stored++
		f.logger.Debug("fact stored", "id", res.ID, "replaced", res.ReplacedID, "request_id", ex.RequestID)
	}
	if stored > 0 {
		f.logger.Info("facts remembered", "request_id", ex.RequestID, "count", stored)
	}
	return errors.Join(errs...)
}

func expiry(now time.Time, ttl *string) (time.Time, bool) {
	if ttl == nil {
		return time.Time{}, false
	}
	switch *ttl {
	case "7d":
		return now.AddDate(0, 0, 7), true
	case "30d":
		return now.AddDate(0, 0, 30), true
	case "90d":
		return now.AddDate(0, 0, 90), true
	}
	return time.Time{}, false
}
