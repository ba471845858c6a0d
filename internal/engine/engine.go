package engine

import (
	"context"
	"errors"
)

// ErrPullUnsupported is returned by backends that cannot download models.
var ErrPullUnsupported = errors.New("model pull not supported by this backend")

// Engine abstracts a local inference backend (Ollama or any
// OpenAI-compatible server). The provider, ranking and intent packages
// use this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// ChatStream is Chat with incremental delivery. onChunk receives each
	// delta in order; the concatenated reply is returned.
	ChatStream(ctx context.Context, model string, messages []Message, opts ChatOptions, onChunk func(string)) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
