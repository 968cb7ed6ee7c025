package engine

import (
	"context"
	"fmt"
)

// Embedder binds an Engine to a fixed embedding model. It satisfies the
// single-text embedding interfaces consumed by the knowledge pipeline and
// the artifact builder.
type Embedder struct {
	engine Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
