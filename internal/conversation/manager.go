package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/techne/internal/storage"
)

// Store is the conversation side of the local store. Implemented by
// storage.Store.
type Store interface {
	CreateConversation(ctx context.Context, title, model, modelDisplayName string) (storage.Conversation, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	ListConversations(ctx context.Context) ([]storage.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg storage.Message) (storage.Message, error)
	ReplaceMessageContent(ctx context.Context, conversationID, messageID, content string) error
	UpdateConversationTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
}

var _ Store = (*storage.Store)(nil)

// Manager creates, promotes and queries conversations.
type Manager struct {
	store    Store
	now      func() time.Time
	onChange func()
}

// NewManager creates a Manager. onChange, if non-nil, runs after every write.
func NewManager(store Store, onChange func()) *Manager {
	return &Manager{store: store, now: time.Now, onChange: onChange}
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// NewDraft starts an in-memory conversation.
func (m *Manager) NewDraft(model, displayName string) *Draft {
	now := m.now().UTC()
	return &Draft{
		id:               storage.NewID(strings.TrimSuffix(storage.DraftPrefix, "_"), now),
		Model:            model,
		ModelDisplayName: displayName,
		CreatedAt:        now,
	}
}

// Commit stores d as a new conversation titled after its first user message
// and copies its messages over. It is the only way a draft becomes
// persistent.
func (m *Manager) Commit(ctx context.Context, d *Draft) (*Persisted, error) {
	title := DefaultTitle
	for _, msg := range d.messages {
		if msg.Role == storage.RoleUser {
			title = GenerateTitle(msg.Content, maxTitleLength)
			break
		}
	}

	c, err := m.store.CreateConversation(ctx, title, d.Model, d.ModelDisplayName)
	if err != nil {
		return nil, fmt.Errorf("committing draft: %w", err)
	}
	for _, msg := range d.messages {
		if _, err := m.store.AppendMessage(ctx, c.ID, msg); err != nil {
			return nil, fmt.Errorf("committing draft message: %w", err)
		}
	}
	m.changed()
	return m.Open(ctx, c.ID)
}

// Open loads a stored conversation. Draft ids are rejected.
func (m *Manager) Open(ctx context.Context, id string) (*Persisted, error) {
	if IsDraftID(id) {
		return nil, storage.ErrDraftID
	}
	c, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Persisted{Conversation: c}, nil
}

// Append adds msg to a stored conversation.
func (m *Manager) Append(ctx context.Context, id string, msg storage.Message) (storage.Message, error) {
	out, err := m.store.AppendMessage(ctx, id, msg)
	if err != nil {
		return out, err
	}
	m.changed()
	return out, nil
}

// Finalize replaces a streaming message's content and marks it complete.
func (m *Manager) Finalize(ctx context.Context, id, msgID, content string) error {
	if err := m.store.ReplaceMessageContent(ctx, id, msgID, content); err != nil {
		return err
	}
	m.changed()
	return nil
}

// List returns stored conversations, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]storage.Conversation, error) {
	return m.store.ListConversations(ctx)
}

// Rename changes a conversation title.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	if err := m.store.UpdateConversationTitle(ctx, id, strings.TrimSpace(title)); err != nil {
		return err
	}
	m.changed()
	return nil
}

// Delete removes a conversation and its messages.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	m.changed()
	return nil
}

// Search returns conversations whose title or any message contains query,
// case-insensitively. An empty query returns everything.
func (m *Manager) Search(ctx context.Context, query string) ([]storage.Conversation, error) {
	all, err := m.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	var out []storage.Conversation
	for _, c := range all {
		if matches(c, q) {
			out = append(out, c)
		}
	}
	return out, nil
}

func matches(c storage.Conversation, q string) bool {
	if strings.Contains(strings.ToLower(c.Title), q) {
		return true
	}
	for _, msg := range c.Messages {
		if strings.Contains(strings.ToLower(msg.Content), q) {
			return true
		}
	}
	return false
}

// CleanupEmpty deletes conversations that never received a message and
// still carry the default title. It returns how many were removed.
func (m *Manager) CleanupEmpty(ctx context.Context) (int, error) {
	all, err := m.store.ListConversations(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range all {
		if len(c.Messages) != 0 || c.Title != DefaultTitle {
			continue
		}
		if err := m.store.DeleteConversation(ctx, c.ID); err != nil {
			slog.Warn("deleting empty conversation failed", "id", c.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		m.changed()
	}
	return n, nil
}
