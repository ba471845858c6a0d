// Package conversation manages chat sessions: in-memory drafts, their one-way
// promotion to stored conversations, and the assistant turn that answers a
// user message with either a discussion search or a model reply.
package conversation

import (
	"strings"
	"time"

	"github.com/kalambet/techne/internal/storage"
)

// DefaultTitle is given to conversations that have no user message yet.
const DefaultTitle = "New Conversation"

const maxTitleLength = 50

// Session is either a *Draft or a *Persisted conversation.
type Session interface {
	ID() string
	Messages() []storage.Message
	session()
}

// Draft is a conversation that exists only in memory. It is promoted with
// Manager.Commit; its id is never written to the store.
type Draft struct {
	id               string
	Model            string
	ModelDisplayName string
	CreatedAt        time.Time
	messages         []storage.Message
}

func (d *Draft) ID() string { return d.id }

func (d *Draft) Messages() []storage.Message {
	out := make([]storage.Message, len(d.messages))
	copy(out, d.messages)
	return out
}

func (*Draft) session() {}

// Append adds a message to the draft, assigning an id and timestamp when
// missing.
func (d *Draft) Append(msg storage.Message) storage.Message {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = storage.NewID("msg", now)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	d.messages = append(d.messages, msg)
	return msg
}

// Persisted wraps a stored conversation.
type Persisted struct {
	storage.Conversation
}

func (p *Persisted) ID() string { return p.Conversation.ID }

func (p *Persisted) Messages() []storage.Message { return p.Conversation.Messages }

func (*Persisted) session() {}

// IsDraftID reports whether id belongs to an in-memory draft.
func IsDraftID(id string) bool {
	return strings.HasPrefix(id, storage.DraftPrefix)
}

// GenerateTitle derives a conversation title from the first user message:
// whitespace is collapsed and long text is cut to max-3 runes plus "...".
// max <= 3 uses the default of 50.
func GenerateTitle(first string, max int) string {
	if max <= 3 {
		max = maxTitleLength
	}
	cleaned := strings.Join(strings.Fields(first), " ")
	if cleaned == "" {
		return DefaultTitle
	}
	runes := []rune(cleaned)
	if len(runes) <= max {
		return cleaned
	}
	return string(runes[:max-3]) + "..."
}
