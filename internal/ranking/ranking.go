// Package ranking decides which candidate tags to surface for a story and
// scores tags against free-text queries.
package ranking

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/techne/internal/provider"
)

// ErrLengthMismatch is returned when the tag, type and anchor slices of a
// Candidates value differ in length.
var ErrLengthMismatch = errors.New("candidate tags, types and anchors must have the same length")

// Strategy names accepted by New.
const (
	StrategyPrompt    = "prompt"
	StrategyEmbedding = "embedding"
)

// Candidates holds index-aligned tag data for one story.
type Candidates struct {
	Tags    []string `json:"tags"`
	Types   []string `json:"types"`
	Anchors []string `json:"anchors"`
}

// Validate checks index alignment.
func (c Candidates) Validate() error {
	if len(c.Tags) != len(c.Types) || len(c.Tags) != len(c.Anchors) {
		return fmt.Errorf("%w: %d tags, %d types, %d anchors", ErrLengthMismatch, len(c.Tags), len(c.Types), len(c.Anchors))
	}
	return nil
}

// Len returns the number of candidates.
func (c Candidates) Len() int { return len(c.Tags) }

// Pick returns the candidates at the given indices, in that order.
func (c Candidates) Pick(indices []int) Candidates {
	out := Candidates{
		Tags:    make([]string, 0, len(indices)),
		Types:   make([]string, 0, len(indices)),
		Anchors: make([]string, 0, len(indices)),
	}
	for _, i := range indices {
		out.Tags = append(out.Tags, c.Tags[i])
		out.Types = append(out.Types, c.Types[i])
		out.Anchors = append(out.Anchors, c.Anchors[i])
	}
	return out
}

// Truncate returns at most n leading candidates.
func (c Candidates) Truncate(n int) Candidates {
	if n < 0 || n >= c.Len() {
		return c
	}
	return Candidates{Tags: c.Tags[:n], Types: c.Types[:n], Anchors: c.Anchors[:n]}
}

// Ranker reorders or selects candidates using the user's historical tags.
// Output slices are always index-aligned.
type Ranker interface {
	Rank(ctx context.Context, history []string, c Candidates) (Candidates, error)
}

// Chatter is the chat half of the provider adapter.
type Chatter interface {
	Chat(ctx context.Context, req provider.ChatRequest) (string, error)
}

// Embedder is the embedding half of the provider adapter. Failed items come
// back as zero vectors, never as an error.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float32
}

var (
	_ Chatter  = (*provider.Adapter)(nil)
	_ Embedder = (*provider.Adapter)(nil)
)

// New returns the Ranker for strategy. model is used only by the prompt strategy.
func New(strategy string, chat Chatter, emb Embedder, model string) (Ranker, error) {
	switch strategy {
	case StrategyPrompt:
		return &PromptRanker{chat: chat, model: model}, nil
	case "", StrategyEmbedding:
		return &SimilarityRanker{embedder: emb}, nil
	default:
		return nil, fmt.Errorf("unknown ranking strategy %q (want %s or %s)", strategy, StrategyPrompt, StrategyEmbedding)
	}
}
