package engine

import "context"

// Engine abstracts a local inference backend. Question and fact embedding go
// through it, and chat is used for answer synthesis when no remote synthesis
// endpoint is configured.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
