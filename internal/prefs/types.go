package prefs

import (
	"errors"
	"log/slog"
	"strings"
)

// ErrInvalidValue is returned when a setting value has the wrong type or is
// out of range.
var ErrInvalidValue = errors.New("invalid setting value")

// ErrReadOnly is returned for settings owned by another component.
var ErrReadOnly = errors.New("setting is not user editable")

// ChatSettings are the sampling parameters for conversation replies.
type ChatSettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	MaxTokens   int     `json:"maxTokens"`
}

// Prefs is a snapshot of every user-editable setting with defaults applied.
type Prefs struct {
	Chat                   ChatSettings `json:"chat"`
	LogLevel               string       `json:"logLevel"`
	PersonalizationEnabled bool         `json:"personalizationEnabled"`
}

// Defaults are used for settings the user never saved.
type Defaults struct {
	Chat     ChatSettings
	LogLevel string
}

// DefaultChat matches the bundled local model.
var DefaultChat = ChatSettings{
	Model:       "qwen2:0.5b",
	Temperature: 0.7,
	TopP:        0.9,
	MaxTokens:   512,
}

// ParseLevel converts a stored level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
