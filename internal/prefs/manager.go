// Package prefs provides cached, typed access to the user settings kept in
// the local store.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/techne/internal/storage"
)

// Store is the settings side of the local store. Implemented by
// storage.Store.
type Store interface {
	storage.SettingReader
	SaveSetting(ctx context.Context, key storage.SettingKey, value any) error
	DeleteSetting(ctx context.Context, key storage.SettingKey) error
}

var _ Store = (*storage.Store)(nil)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager caches the settings snapshot for a short TTL and validates writes.
type Manager struct {
	store    Store
	defaults Defaults
	clock    Clock
	ttl      time.Duration
	onChange func(storage.SettingKey, Prefs)

	mu       sync.RWMutex
	cached   *Prefs
	cachedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock and cache TTL.
func WithClock(c Clock, ttl time.Duration) Option {
	return func(m *Manager) {
		m.clock = c
		m.ttl = ttl
	}
}

// WithOnChange registers a callback invoked after every successful write
// with the fresh snapshot.
func WithOnChange(fn func(storage.SettingKey, Prefs)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store, defaults Defaults, opts ...Option) *Manager {
	if defaults.Chat.Model == "" {
		defaults.Chat.Model = DefaultChat.Model
	}
	if defaults.Chat.Temperature == 0 {
		defaults.Chat.Temperature = DefaultChat.Temperature
	}
	if defaults.Chat.TopP == 0 {
		defaults.Chat.TopP = DefaultChat.TopP
	}
	if defaults.Chat.MaxTokens == 0 {
		defaults.Chat.MaxTokens = DefaultChat.MaxTokens
	}
	if defaults.LogLevel == "" {
		defaults.LogLevel = "info"
	}
	m := &Manager{
		store:    store,
		defaults: defaults,
		clock:    realClock{},
		ttl:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the current settings snapshot, reading the store at most once
// per TTL.
func (m *Manager) Get(ctx context.Context) Prefs {
	m.mu.RLock()
	if m.fresh() {
		p := *m.cached
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh() {
		return *m.cached
	}
	p := m.load(ctx)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p
}

func (m *Manager) fresh() bool {
	return m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl))
}

func (m *Manager) load(ctx context.Context) Prefs {
	d := m.defaults
	return Prefs{
		Chat: ChatSettings{
			Model:       storage.GetSettingValue(ctx, m.store, storage.SettingChatModel, d.Chat.Model),
			Temperature: storage.GetSettingValue(ctx, m.store, storage.SettingChatTemperature, d.Chat.Temperature),
			TopP:        storage.GetSettingValue(ctx, m.store, storage.SettingChatTopP, d.Chat.TopP),
			MaxTokens:   storage.GetSettingValue(ctx, m.store, storage.SettingChatMaxTokens, d.Chat.MaxTokens),
		},
		LogLevel:               storage.GetSettingValue(ctx, m.store, storage.SettingLogLevel, d.LogLevel),
		PersonalizationEnabled: storage.GetSettingValue(ctx, m.store, storage.SettingPersonalizationEnabled, false),
	}
}

// ChatConfig returns the chat sampling settings.
func (m *Manager) ChatConfig(ctx context.Context) ChatSettings {
	return m.Get(ctx).Chat
}

// PersonalizationEnabled reports the user's personalization opt-in.
// Absent means disabled.
func (m *Manager) PersonalizationEnabled(ctx context.Context) bool {
	return m.Get(ctx).PersonalizationEnabled
}

// LogLevel returns the stored log level name.
func (m *Manager) LogLevel(ctx context.Context) string {
	return m.Get(ctx).LogLevel
}

// Set validates value for key, persists it and invalidates the cache.
func (m *Manager) Set(ctx context.Context, key storage.SettingKey, value any) error {
	v, err := validate(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	err = m.store.SaveSetting(ctx, key, v)
	m.cached = nil
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	m.notify(ctx, key)
	return nil
}

// SetJSON decodes raw into the type expected by key and calls Set.
func (m *Manager) SetJSON(ctx context.Context, key storage.SettingKey, raw json.RawMessage) error {
	var v any
	switch key {
	case storage.SettingChatModel, storage.SettingLogLevel:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidValue, key)
		}
		v = s
	case storage.SettingChatTemperature, storage.SettingChatTopP:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("%w: %s must be a number", ErrInvalidValue, key)
		}
		v = f
	case storage.SettingChatMaxTokens:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, key)
		}
		v = n
	case storage.SettingPersonalizationEnabled:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidValue, key)
		}
		v = b
	default:
		return readOnlyOrUnknown(key)
	}
	return m.Set(ctx, key, v)
}

// Reset deletes key so reads fall back to the default.
func (m *Manager) Reset(ctx context.Context, key storage.SettingKey) error {
	if !Editable(key) {
		return readOnlyOrUnknown(key)
	}
	m.mu.Lock()
	err := m.store.DeleteSetting(ctx, key)
	m.cached = nil
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("resetting setting %s: %w", key, err)
	}
	m.notify(ctx, key)
	return nil
}

// Invalidate drops the cached snapshot.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

func (m *Manager) notify(ctx context.Context, key storage.SettingKey) {
	if m.onChange != nil {
		m.onChange(key, m.Get(ctx))
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidValue}, args...)...)
}

// Value returns the effective value of an editable key.
func (m *Manager) Value(ctx context.Context, key storage.SettingKey) (any, error) {
	p := m.Get(ctx)
	switch key {
	case storage.SettingChatModel:
		return p.Chat.Model, nil
	case storage.SettingChatTemperature:
		return p.Chat.Temperature, nil
	case storage.SettingChatTopP:
		return p.Chat.TopP, nil
	case storage.SettingChatMaxTokens:
		return p.Chat.MaxTokens, nil
	case storage.SettingLogLevel:
		return p.LogLevel, nil
	case storage.SettingPersonalizationEnabled:
		return p.PersonalizationEnabled, nil
	}
	return nil, readOnlyOrUnknown(key)
}

// Editable reports whether key can be changed through the Manager.
func Editable(key storage.SettingKey) bool {
	return key.Valid() && key != storage.SettingLastSearch
}

func readOnlyOrUnknown(key storage.SettingKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrUnknownSetting, string(key))
	}
	return fmt.Errorf("%w: %s", ErrReadOnly, key)
}

// validate checks value against key's type and range and returns the value
// to persist.
func validate(key storage.SettingKey, value any) (any, error) {
	switch key {
	case storage.SettingChatModel:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, invalid("%s must be a non-empty string", key)
		}
		return strings.TrimSpace(s), nil
	case storage.SettingChatTemperature:
		f, ok := toFloat(value)
		if !ok || f < 0 || f > 2 {
			return nil, invalid("%s must be between 0 and 2", key)
		}
		return f, nil
	case storage.SettingChatTopP:
		f, ok := toFloat(value)
		if !ok || f <= 0 || f > 1 {
			return nil, invalid("%s must be in (0, 1]", key)
		}
		return f, nil
	case storage.SettingChatMaxTokens:
		n, ok := value.(int)
		if !ok || n <= 0 {
			return nil, invalid("%s must be a positive integer", key)
		}
		return n, nil
	case storage.SettingLogLevel:
		s, ok := value.(string)
		if !ok {
			return nil, invalid("%s must be a string", key)
		}
		if _, err := ParseLevel(s); err != nil {
			return nil, invalid("%s must be one of debug, info, warn, error", key)
		}
		return strings.ToLower(strings.TrimSpace(s)), nil
	case storage.SettingPersonalizationEnabled:
		b, ok := value.(bool)
		if !ok {
			return nil, invalid("%s must be a boolean", key)
		}
		return b, nil
	default:
		return nil, readOnlyOrUnknown(key)
	}
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	default:
		return 0, false
	}
}
