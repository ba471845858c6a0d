package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDraftID is returned when an in-memory draft id reaches the store.
var ErrDraftID = errors.New("draft conversation id cannot be persisted")

// ErrUnknownSetting is returned for setting keys outside the known set.
var ErrUnknownSetting = errors.New("unknown setting key")

// StorageError wraps a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Tag is one recorded tag interaction.
type Tag struct {
	ID        int64     `json:"id"`
	Tag       string    `json:"tag"`
	Type      string    `json:"type"`
	Anchor    string    `json:"anchor"`
	Timestamp time.Time `json:"timestamp"`
}

// Search is one submitted search query.
type Search struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// Setting is a persisted user setting. Value holds the JSON encoding.
type Setting struct {
	Key       SettingKey `json:"key"`
	Value     string     `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation. A streaming message is still being
// written and may have its content replaced.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
}

// Conversation is a persisted chat history.
type Conversation struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Messages         []Message `json:"messages"`
	Model            string    `json:"model"`
	ModelDisplayName string    `json:"modelDisplayName"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
