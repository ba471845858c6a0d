package storage

import "fmt"

// SettingKey names a persisted user setting. Only the constants below are
// accepted by the store.
type SettingKey string

const (
	SettingChatModel              SettingKey = "chat_model"
	SettingChatTemperature        SettingKey = "chat_temperature"
	SettingChatTopP               SettingKey = "chat_top_p"
	SettingChatMaxTokens          SettingKey = "chat_max_tokens"
	SettingLogLevel               SettingKey = "log_level"
	SettingPersonalizationEnabled SettingKey = "personalization_enabled"
	SettingLastSearch             SettingKey = "last_search"
)

var knownSettings = []SettingKey{
	SettingChatModel,
	SettingChatTemperature,
	SettingChatTopP,
	SettingChatMaxTokens,
	SettingLogLevel,
	SettingPersonalizationEnabled,
	SettingLastSearch,
}

// SettingKeys returns every known setting key.
func SettingKeys() []SettingKey {
	out := make([]SettingKey, len(knownSettings))
	copy(out, knownSettings)
	return out
}

// Valid reports whether k is a known setting key.
func (k SettingKey) Valid() bool {
	for _, known := range knownSettings {
		if k == known {
			return true
		}
	}
	return false
}

// ParseSettingKey converts a raw string into a known SettingKey.
func ParseSettingKey(s string) (SettingKey, error) {
	k := SettingKey(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSetting, s)
	}
	return k, nil
}
