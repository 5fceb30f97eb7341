package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/mailrag/internal/engine"
)

// DefaultEmbedModel is the embedding model pinned for an index unless
// configured otherwise.
const DefaultEmbedModel = "text-embedding-3-small"

// Embedder wraps an Engine to generate text embeddings with one pinned model.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	if model == "" {
		model = DefaultEmbedModel
	}
	return &Embedder{engine: e, model: model}
}

// Model returns the pinned embedding model.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
