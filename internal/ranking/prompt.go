package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/techne/internal/engine"
	"github.com/kalambet/techne/internal/provider"
)

const (
	promptPicks       = 3
	promptTemperature = 0.7
	promptMaxTokens   = 128
)

var _ Ranker = (*PromptRanker)(nil)

// PromptRanker asks the chat model to pick the three candidates closest to
// the user's history. Tokens that match no candidate are dropped and the
// result is not backfilled, so it may hold fewer than three entries.
type PromptRanker struct {
	chat  Chatter
	model string
}

// NewPromptRanker creates a PromptRanker. An empty model uses the provider default.
func NewPromptRanker(chat Chatter, model string) *PromptRanker {
	return &PromptRanker{chat: chat, model: model}
}

func (r *PromptRanker) Rank(ctx context.Context, history []string, c Candidates) (Candidates, error) {
	if err := c.Validate(); err != nil {
		return Candidates{}, err
	}
	if c.Len() == 0 {
		return c, nil
	}

	reply, err := r.chat.Chat(ctx, provider.ChatRequest{
		Messages: []engine.Message{{Role: "user", Content: buildSelectionPrompt(history, c.Tags)}},
		Config: provider.ChatConfig{
			Model:       r.model,
			Temperature: promptTemperature,
			MaxTokens:   promptMaxTokens,
			Stream:      true,
		},
	})
	if err != nil {
		return Candidates{}, fmt.Errorf("selecting tags: %w", err)
	}

	picked := parseSelection(reply, c.Tags)
	slog.Debug("prompt ranker selection", "reply", reply, "picked", len(picked))
	return c.Pick(picked), nil
}

func buildSelectionPrompt(history, tags []string) string {
	return fmt.Sprintf(`Given:
Historical tags: [%s]
Story tags: [%s]

Select exactly %d story tags most similar to historical tags.
Reply only with tags separated by commas.`,
		strings.Join(history, ", "), strings.Join(tags, ", "), promptPicks)
}

// parseSelection maps a comma-separated reply to candidate indices. Each
// token resolves to its first exact match; unknown tokens are skipped and a
// repeated pick is kept once.
func parseSelection(reply string, tags []string) []int {
	first := make(map[string]int, len(tags))
	for i, t := range tags {
		if _, ok := first[t]; !ok {
			first[t] = i
		}
	}

	var picked []int
	seen := make(map[int]bool)
	for _, tok := range strings.Split(reply, ",") {
		idx, ok := first[strings.TrimSpace(tok)]
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true
		picked = append(picked, idx)
	}
	return picked
}
