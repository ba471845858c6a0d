package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/techne/internal/engine"
	"github.com/kalambet/techne/internal/storage"
)

const defaultMaxContextTokens = 4000

const systemPrompt = `You are Techne, a concise assistant for a reader of technology news discussions.
Answer directly. When the user wants to find discussions, suggest they ask you to search for a topic.`

// Composer assembles the message list sent to the chat model from a
// conversation history, keeping the newest turns that fit the token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the system prompt followed by as many of the newest history
// messages as fit in the budget, oldest first. The final message is always
// included even when it alone exceeds the budget. Streaming placeholders,
// empty messages and stored system messages are skipped. interests, when
// non-empty, are listed in the system prompt.
func (c *Composer) Compose(history []storage.Message, interests []string) []engine.Message {
	sys := buildSystem(interests)
	remaining := c.MaxContextTokens - EstimateTokens(sys)

	var picked []engine.Message
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.IsStreaming || strings.TrimSpace(m.Content) == "" || m.Role == storage.RoleSystem {
			continue
		}
		tokens := EstimateTokens(m.Content)
		if tokens > remaining && len(picked) > 0 {
			break
		}
		picked = append(picked, engine.Message{Role: string(m.Role), Content: m.Content})
		remaining -= tokens
	}

	out := make([]engine.Message, 0, len(picked)+1)
	out = append(out, engine.Message{Role: "system", Content: sys})
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, picked[i])
	}
	return out
}

func buildSystem(interests []string) string {
	if len(interests) == 0 {
		return systemPrompt
	}
	return fmt.Sprintf("%s\n\n[Recent Interests]\n%s", systemPrompt, strings.Join(interests, ", "))
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
