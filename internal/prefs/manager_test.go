package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/techne/internal/storage"
)

var ctx = context.Background()

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[storage.SettingKey]string

	getCalls int
	saveErr  error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[storage.SettingKey]string)}
}

func (m *mockStore) GetSetting(_ context.Context, key storage.SettingKey) (storage.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	v, ok := m.data[key]
	if !ok {
		return storage.Setting{}, storage.ErrNotFound
	}
	return storage.Setting{Key: key, Value: v}, nil
}

func (m *mockStore) SaveSetting(_ context.Context, key storage.SettingKey, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = string(b)
	return nil
}

func (m *mockStore) DeleteSetting(_ context.Context, key storage.SettingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_Defaults(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})

	p := mgr.Get(ctx)
	if p.Chat != DefaultChat {
		t.Errorf("chat = %+v, want %+v", p.Chat, DefaultChat)
	}
	if p.LogLevel != "info" {
		t.Errorf("log level = %q, want info", p.LogLevel)
	}
	if p.PersonalizationEnabled {
		t.Error("personalization should default to disabled")
	}
}

func TestGet_ConfigDefaultsOverrideBuiltins(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{Chat: ChatSettings{Model: "llama3.2:1b"}, LogLevel: "debug"})

	chat := mgr.ChatConfig(ctx)
	if chat.Model != "llama3.2:1b" {
		t.Errorf("model = %q, want llama3.2:1b", chat.Model)
	}
	if chat.Temperature != DefaultChat.Temperature {
		t.Errorf("temperature = %v, want %v", chat.Temperature, DefaultChat.Temperature)
	}
	if mgr.LogLevel(ctx) != "debug" {
		t.Errorf("log level = %q, want debug", mgr.LogLevel(ctx))
	}
}

func TestSet_PersistsAndInvalidates(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManager(store, Defaults{}, WithClock(clock, time.Minute))

	mgr.Get(ctx)
	if err := mgr.Set(ctx, storage.SettingPersonalizationEnabled, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mgr.PersonalizationEnabled(ctx) {
		t.Error("personalization should be enabled after Set")
	}
	if err := mgr.Set(ctx, storage.SettingChatTemperature, 0.2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mgr.ChatConfig(ctx).Temperature; got != 0.2 {
		t.Errorf("temperature = %v, want 0.2", got)
	}
}

func TestGet_CacheTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManager(store, Defaults{}, WithClock(clock, time.Minute))

	mgr.Get(ctx)
	first := store.calls()
	mgr.Get(ctx)
	if store.calls() != first {
		t.Errorf("cache miss within TTL: %d reads, want %d", store.calls(), first)
	}

	// A write made behind the manager's back becomes visible after the TTL.
	store.SaveSetting(ctx, storage.SettingChatModel, "phi3")
	if mgr.ChatConfig(ctx).Model == "phi3" {
		t.Error("stale cache expected within TTL")
	}
	clock.Advance(61 * time.Second)
	if got := mgr.ChatConfig(ctx).Model; got != "phi3" {
		t.Errorf("model = %q after TTL, want phi3", got)
	}
}

func TestSet_Validation(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})

	tests := []struct {
		key   storage.SettingKey
		value any
	}{
		{storage.SettingChatModel, ""},
		{storage.SettingChatModel, 3},
		{storage.SettingChatTemperature, 2.5},
		{storage.SettingChatTemperature, "hot"},
		{storage.SettingChatTopP, 0.0},
		{storage.SettingChatMaxTokens, -1},
		{storage.SettingChatMaxTokens, 1.5},
		{storage.SettingLogLevel, "verbose"},
		{storage.SettingPersonalizationEnabled, "yes"},
	}
	for _, tc := range tests {
		if err := mgr.Set(ctx, tc.key, tc.value); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("Set(%s, %v) = %v, want ErrInvalidValue", tc.key, tc.value, err)
		}
	}

	if err := mgr.Set(ctx, storage.SettingLastSearch, "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Set(last_search) = %v, want ErrReadOnly", err)
	}
	if err := mgr.Set(ctx, storage.SettingKey("bogus"), 1); !errors.Is(err, storage.ErrUnknownSetting) {
		t.Errorf("Set(bogus) = %v, want ErrUnknownSetting", err)
	}
}

func TestSet_LogLevelNormalised(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})
	if err := mgr.Set(ctx, storage.SettingLogLevel, " WARN "); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mgr.LogLevel(ctx); got != "warn" {
		t.Errorf("log level = %q, want warn", got)
	}
}

func TestSet_StoreError(t *testing.T) {
	store := newMockStore()
	store.saveErr = errors.New("disk full")
	mgr := NewManager(store, Defaults{})

	if err := mgr.Set(ctx, storage.SettingChatModel, "phi3"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetJSON(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})

	if err := mgr.SetJSON(ctx, storage.SettingChatMaxTokens, json.RawMessage(`1024`)); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if got := mgr.ChatConfig(ctx).MaxTokens; got != 1024 {
		t.Errorf("max tokens = %d, want 1024", got)
	}
	if err := mgr.SetJSON(ctx, storage.SettingPersonalizationEnabled, json.RawMessage(`"true"`)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetJSON(string for bool) = %v, want ErrInvalidValue", err)
	}
	if err := mgr.SetJSON(ctx, storage.SettingLastSearch, json.RawMessage(`{}`)); !errors.Is(err, ErrReadOnly) {
		t.Errorf("SetJSON(last_search) = %v, want ErrReadOnly", err)
	}
}

func TestReset(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})
	mgr.Set(ctx, storage.SettingChatModel, "phi3")

	if err := mgr.Reset(ctx, storage.SettingChatModel); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := mgr.ChatConfig(ctx).Model; got != DefaultChat.Model {
		t.Errorf("model = %q after reset, want %q", got, DefaultChat.Model)
	}
	if err := mgr.Reset(ctx, storage.SettingLastSearch); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Reset(last_search) = %v, want ErrReadOnly", err)
	}
}

func TestOnChange(t *testing.T) {
	var gotKey storage.SettingKey
	var gotPrefs Prefs
	mgr := NewManager(newMockStore(), Defaults{}, WithOnChange(func(k storage.SettingKey, p Prefs) {
		gotKey, gotPrefs = k, p
	}))

	if err := mgr.Set(ctx, storage.SettingLogLevel, "debug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if gotKey != storage.SettingLogLevel || gotPrefs.LogLevel != "debug" {
		t.Errorf("onChange got (%s, %q), want (log_level, debug)", gotKey, gotPrefs.LogLevel)
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	if err != nil || l != slog.LevelWarn {
		t.Errorf("ParseLevel(warn) = %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestGet_ConcurrentAccess(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				mgr.Set(ctx, storage.SettingChatMaxTokens, 100+i)
			} else {
				mgr.Get(ctx)
			}
		}(i)
	}
	wg.Wait()
}

func TestValue(t *testing.T) {
	mgr := NewManager(newMockStore(), Defaults{})
	if err := mgr.Set(ctx, storage.SettingChatMaxTokens, 256); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := mgr.Value(ctx, storage.SettingChatMaxTokens)
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != 256 {
		t.Errorf("max tokens = %v, want 256", v)
	}
	if v, _ := mgr.Value(ctx, storage.SettingChatModel); v != DefaultChat.Model {
		t.Errorf("model = %v, want %v", v, DefaultChat.Model)
	}
	if _, err := mgr.Value(ctx, storage.SettingLastSearch); !errors.Is(err, ErrReadOnly) {
		t.Errorf("last_search err = %v, want ErrReadOnly", err)
	}
	if _, err := mgr.Value(ctx, "nope"); !errors.Is(err, storage.ErrUnknownSetting) {
		t.Errorf("unknown err = %v, want ErrUnknownSetting", err)
	}
}
