// ABOUTME: Text embedding through an OpenAI-compatible endpoint.
// ABOUTME: Wraps a chromem-go EmbeddingFunc and normalizes its failures.

package vector

import (
	"context"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/micktaiwan/eko/internal/metrics"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FuncEmbedder adapts a chromem EmbeddingFunc to Embedder.
type FuncEmbedder struct {
	fn chromem.EmbeddingFunc
}

// NewFuncEmbedder wraps fn.
func NewFuncEmbedder(fn chromem.EmbeddingFunc) *FuncEmbedder {
	return &FuncEmbedder{fn: fn}
}

// NewOpenAICompatEmbedder builds an embedder for any OpenAI-compatible
// /embeddings endpoint (OpenAI, Ollama, LocalAI, vLLM).
func NewOpenAICompatEmbedder(baseURL, apiKey, model string) *FuncEmbedder {
	return NewFuncEmbedder(chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil))
}

// Embed implements Embedder. Errors are returned as *UpstreamError.
func (e *FuncEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	vec, err := e.fn(ctx, text)
	metrics.VectorOperationsTotal.WithLabelValues("embed", metrics.Status(err)).Inc()
	if err != nil {
		return nil, &UpstreamError{Service: ServiceEmbedding, Op: "embed", Err: err}
	}
	return vec, nil
}
