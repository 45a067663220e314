// Package retrieval turns text into vectors and ranks candidates by cosine
// similarity against a query vector.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/whereismy/internal/engine"
)

var (
	// ErrEmbeddingUnavailable wraps any backend failure. It is retryable.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrDimensionMismatch is returned when the backend yields a vector of
	// unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder wraps an Engine to generate fixed-dimension text embeddings.
type Embedder struct {
	engine engine.Engine
	model  string
	dim    int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// A positive dim makes every result length-checked; 0 disables the check.
func NewEmbedder(e engine.Engine, model string, dim int) *Embedder {
	return &Embedder{engine: e, model: model, dim: dim}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbeddingUnavailable)
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dim)
	}
	return vec, nil
}

// Dimension returns the configured vector length, or 0 when unchecked.
func (e *Embedder) Dimension() int { return e.dim }

// Check embeds a fixed text once so a misconfigured model or dimension
// fails at startup instead of on the first user request. It returns the
// observed vector length.
func (e *Embedder) Check(ctx context.Context) (int, error) {
	vec, err := e.Embed(ctx, "whereismy startup check")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
