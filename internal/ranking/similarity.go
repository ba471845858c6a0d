package ranking

import (
	"context"
	"sort"

	"github.com/kalambet/techne/internal/retrieval"
)

var _ Ranker = (*SimilarityRanker)(nil)

// SimilarityRanker orders every candidate by the sum of its cosine
// similarities to each historical tag. Ties keep input order and nothing is
// truncated.
type SimilarityRanker struct {
	embedder Embedder
}

// NewSimilarityRanker creates a SimilarityRanker.
func NewSimilarityRanker(emb Embedder) *SimilarityRanker {
	return &SimilarityRanker{embedder: emb}
}

func (r *SimilarityRanker) Rank(ctx context.Context, history []string, c Candidates) (Candidates, error) {
	if err := c.Validate(); err != nil {
		return Candidates{}, err
	}
	if len(history) == 0 || c.Len() == 0 {
		return c, nil
	}

	// One batch so each string is embedded exactly once.
	texts := make([]string, 0, len(history)+c.Len())
	texts = append(texts, history...)
	texts = append(texts, c.Tags...)
	vecs := r.embedder.Embed(ctx, texts)
	histVecs, candVecs := vecs[:len(history)], vecs[len(history):]

	scores := CumulativeScores(candVecs, histVecs)
	order := make([]int, c.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return c.Pick(order), nil
}

// CumulativeScores returns, per candidate, the sum of its cosine
// similarities against every history vector.
func CumulativeScores(candidates, history [][]float32) []float64 {
	scores := make([]float64, len(candidates))
	for i, cv := range candidates {
		for _, hv := range history {
			scores[i] += retrieval.CosineSimilarity(cv, hv)
		}
	}
	return scores
}
