package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/techne/internal/engine"
	"golang.org/x/sync/errgroup"
)

// VectorCache is the persistence the Embedder consults before calling the engine.
type VectorCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Put(ctx context.Context, model, text string, vec []float32) error
}

var _ VectorCache = (*Cache)(nil)

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine engine.Engine
	model  string
	dim    int
	cache  VectorCache
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// dim is the model's fixed dimensionality, used for zero-vector fallbacks.
func NewEmbedder(e engine.Engine, model string, dim int) *Embedder {
	return &Embedder{engine: e, model: model, dim: dim}
}

// WithCache returns a copy of the Embedder that reads and writes c.
func (e *Embedder) WithCache(c VectorCache) *Embedder {
	cp := *e
	cp.cache = c
	return &cp
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Dim returns the configured dimensionality.
func (e *Embedder) Dim() int { return e.dim }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		vec, ok, err := e.cache.Get(ctx, e.model, text)
		if err != nil {
			slog.Warn("embedding cache read failed", "text", text, "error", err)
		} else if ok {
			return vec, nil
		}
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, e.model, text, vec); err != nil {
			slog.Warn("embedding cache write failed", "text", text, "error", err)
		}
	}
	return vec, nil
}

// EmbedBatch returns one vector per text, computed concurrently. A text
// whose embedding fails gets a zero vector of the configured dimension, so
// one bad input never fails the batch. Returns nil for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	results := make([][]float32, len(texts))
	var g errgroup.Group
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				slog.Warn("embedding failed, using zero vector", "index", i, "error", err)
				vec = make([]float32, e.dim)
			}
			results[i] = vec
			return nil
		})
	}

	_ = g.Wait()
	return results
}
