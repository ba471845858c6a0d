package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/techne/internal/storage"
)

func msg(role storage.Role, content string) storage.Message {
	return storage.Message{Role: role, Content: content}
}

func TestCompose_SystemFirstThenHistoryInOrder(t *testing.T) {
	c := New(4000)
	out := c.Compose([]storage.Message{
		msg(storage.RoleUser, "hello"),
		msg(storage.RoleAssistant, "hi there"),
		msg(storage.RoleUser, "what's new in go?"),
	}, nil)

	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != systemPrompt {
		t.Errorf("first message = %+v, want system prompt", out[0])
	}
	if out[1].Content != "hello" || out[3].Content != "what's new in go?" {
		t.Errorf("history out of order: %+v", out[1:])
	}
	if out[2].Role != "assistant" {
		t.Errorf("role = %q, want assistant", out[2].Role)
	}
}

func TestCompose_InterestsInjected(t *testing.T) {
	out := New(4000).Compose([]storage.Message{msg(storage.RoleUser, "hi")}, []string{"rust", "sqlite"})

	if !strings.Contains(out[0].Content, "[Recent Interests]\nrust, sqlite") {
		t.Errorf("interests missing from system prompt: %q", out[0].Content)
	}
}

func TestCompose_SkipsStreamingAndEmpty(t *testing.T) {
	out := New(4000).Compose([]storage.Message{
		msg(storage.RoleUser, "question"),
		{Role: storage.RoleAssistant, Content: "partial", IsStreaming: true},
		msg(storage.RoleAssistant, "   "),
		msg(storage.RoleSystem, "stored system"),
	}, nil)

	if len(out) != 2 {
		t.Fatalf("expected system + 1 message, got %d: %+v", len(out), out)
	}
	if out[1].Content != "question" {
		t.Errorf("content = %q, want question", out[1].Content)
	}
}

func TestCompose_BudgetKeepsNewest(t *testing.T) {
	budget := EstimateTokens(systemPrompt) + 30
	long := strings.Repeat("x", 80) // 20 tokens

	out := New(budget).Compose([]storage.Message{
		msg(storage.RoleUser, "oldest "+long),
		msg(storage.RoleAssistant, "middle "+long),
		msg(storage.RoleUser, "newest"),
	}, nil)

	if len(out) != 3 {
		t.Fatalf("expected system + 2 newest, got %d", len(out))
	}
	if !strings.HasPrefix(out[1].Content, "middle") || out[2].Content != "newest" {
		t.Errorf("unexpected selection: %+v", out[1:])
	}
}

func TestCompose_LastMessageAlwaysIncluded(t *testing.T) {
	huge := strings.Repeat("y", 10000)
	out := New(10).Compose([]storage.Message{msg(storage.RoleUser, huge)}, nil)

	if len(out) != 2 || out[1].Content != huge {
		t.Errorf("final message dropped: got %d messages", len(out))
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tc := range tests {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
