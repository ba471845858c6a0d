package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// DraftPrefix marks ids of conversations that only exist in memory.
const DraftPrefix = "draft_"

// CreateConversation allocates a new empty conversation with a fresh id.
func (s *Store) CreateConversation(ctx context.Context, title, model, modelDisplayName string) (Conversation, error) {
	now := s.now()
	c := Conversation{
		ID:               NewID("conv", now),
		Title:            title,
		Messages:         []Message{},
		Model:            model,
		ModelDisplayName: modelDisplayName,
		CreatedAt:        fromMillis(millis(now)),
		UpdatedAt:        fromMillis(millis(now)),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, model_display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Model, c.ModelDisplayName, millis(now), millis(now),
	)
	if err != nil {
		return Conversation{}, wrapErr("create conversation", err)
	}
	return c, nil
}

// GetConversation returns a conversation with its messages in order.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, model, model_display_name, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Model, &c.ModelDisplayName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, wrapErr("get conversation", err)
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)

	msgs, err := s.loadMessages(ctx, `WHERE conversation_id = ?`, id)
	if err != nil {
		return Conversation{}, err
	}
	c.Messages = msgs[id]
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return c, nil
}

// ListConversations returns every conversation, most recently updated first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, model, model_display_name, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.ModelDisplayName, &created, &updated); err != nil {
			return nil, wrapErr("list conversations", err)
		}
		c.CreatedAt = fromMillis(created)
		c.UpdatedAt = fromMillis(updated)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list conversations", err)
	}
	rows.Close()

	msgs, err := s.loadMessages(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Messages = msgs[out[i].ID]
		if out[i].Messages == nil {
			out[i].Messages = []Message{}
		}
	}
	return out, nil
}

func (s *Store) loadMessages(ctx context.Context, where string, args ...any) (map[string][]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, id, role, content, timestamp, is_streaming
		FROM messages `+where+` ORDER BY conversation_id, position ASC`, args...)
	if err != nil {
		return nil, wrapErr("load messages", err)
	}
	defer rows.Close()

	out := make(map[string][]Message)
	for rows.Next() {
		var convID string
		var m Message
		var role string
		var ts int64
		var streaming int
		if err := rows.Scan(&convID, &m.ID, &role, &m.Content, &ts, &streaming); err != nil {
			return nil, wrapErr("load messages", err)
		}
		m.Role = Role(role)
		m.Timestamp = fromMillis(ts)
		m.IsStreaming = streaming != 0
		out[convID] = append(out[convID], m)
	}
	return out, wrapErr("load messages", rows.Err())
}

// AppendMessage adds msg at the end of the conversation and bumps updatedAt.
// A missing id or timestamp is filled in. When the conversation does not
// exist nothing is written and the zero Message is returned without error;
// callers that care must re-read the conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg Message) (Message, error) {
	if strings.HasPrefix(conversationID, DraftPrefix) {
		return Message{}, ErrDraftID
	}
	now := s.now()
	if msg.ID == "" {
		msg.ID = NewID("msg", now)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Timestamp = fromMillis(millis(msg.Timestamp))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, wrapErr("append message", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		return Message{}, wrapErr("append message", err)
	}
	if exists == 0 {
		return Message{}, nil
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&next); err != nil {
		return Message{}, wrapErr("append message", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, id, position, role, content, timestamp, is_streaming)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.ID, next, string(msg.Role), msg.Content, millis(msg.Timestamp), boolInt(msg.IsStreaming),
	); err != nil {
		return Message{}, wrapErr("append message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`, millis(now), conversationID,
	); err != nil {
		return Message{}, wrapErr("append message", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, wrapErr("append message", err)
	}
	return msg, nil
}

// ReplaceMessageContent sets the content of a message, clears its streaming
// flag and bumps the conversation's updatedAt. Unknown ids are ignored.
func (s *Store) ReplaceMessageContent(ctx context.Context, conversationID, messageID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("replace message", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET content = ?, is_streaming = 0 WHERE conversation_id = ? AND id = ?`,
		content, conversationID, messageID,
	)
	if err != nil {
		return wrapErr("replace message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("replace message", err)
	}
	if n == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`, millis(s.now()), conversationID,
	); err != nil {
		return wrapErr("replace message", err)
	}
	return wrapErr("replace message", tx.Commit())
}

// UpdateConversationTitle renames a conversation. Unknown ids are ignored.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = MAX(updated_at, ?) WHERE id = ?`,
		title, millis(s.now()), id,
	)
	return wrapErr("update title", err)
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete conversation", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return wrapErr("delete conversation", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return wrapErr("delete conversation", err)
	}
	return wrapErr("delete conversation", tx.Commit())
}

// ClearConversations removes every conversation.
func (s *Store) ClearConversations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("clear conversations", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return wrapErr("clear conversations", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return wrapErr("clear conversations", err)
	}
	return wrapErr("clear conversations", tx.Commit())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
