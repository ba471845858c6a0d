package ranking

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/kalambet/techne/internal/retrieval"
)

// ErrNothingToMatch is returned when the query is blank or there are no tags.
var ErrNothingToMatch = errors.New("invalid input or no tags available")

// Triple is one tag attached to a discussion.
type Triple struct {
	Tag    string `json:"tag"`
	Type   string `json:"type"`
	Anchor string `json:"anchor"`
}

// TagMatch is a Triple scored against a query. Score is in [0,1].
type TagMatch struct {
	Tag    string  `json:"tag"`
	Type   string  `json:"type"`
	Anchor string  `json:"anchor"`
	Score  float64 `json:"score"`
}

// Matcher scores tags against a free-text query by embedding similarity.
type Matcher struct {
	embedder Embedder
}

// NewMatcher creates a Matcher.
func NewMatcher(emb Embedder) *Matcher {
	return &Matcher{embedder: emb}
}

// Match returns up to limit triples ordered by descending similarity to
// query. limit <= 0 returns every triple. Ties keep input order.
func (m *Matcher) Match(ctx context.Context, query string, triples []Triple, limit int) ([]TagMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(triples) == 0 {
		return nil, ErrNothingToMatch
	}

	texts := make([]string, 0, len(triples)+1)
	texts = append(texts, query)
	for _, t := range triples {
		texts = append(texts, t.Tag)
	}
	vecs := m.embedder.Embed(ctx, texts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]TagMatch, len(triples))
	for i, t := range triples {
		matches[i] = TagMatch{
			Tag:    t.Tag,
			Type:   t.Type,
			Anchor: t.Anchor,
			Score:  clamp01(retrieval.CosineSimilarity(vecs[0], vecs[i+1])),
		}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
