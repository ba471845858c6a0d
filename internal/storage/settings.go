package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
)

// SettingReader is the read side of settings, satisfied by *Store.
type SettingReader interface {
	GetSetting(ctx context.Context, key SettingKey) (Setting, error)
}

// GetSetting returns the stored setting or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key SettingKey) (Setting, error) {
	if !key.Valid() {
		return Setting{}, ErrUnknownSetting
	}
	var st Setting
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, timestamp FROM settings WHERE key = ?`, string(key),
	).Scan(&st.Key, &st.Value, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, ErrNotFound
	}
	if err != nil {
		return Setting{}, wrapErr("get setting", err)
	}
	st.Timestamp = fromMillis(ts)
	return st, nil
}

// SaveSetting upserts key with the JSON encoding of value. Last write wins.
func (s *Store) SaveSetting(ctx context.Context, key SettingKey, value any) error {
	if !key.Valid() {
		return ErrUnknownSetting
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return wrapErr("encode setting", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp`,
		string(key), string(raw), millis(s.now()),
	)
	return wrapErr("save setting", err)
}

// DeleteSetting removes a setting so readers fall back to their defaults.
func (s *Store) DeleteSetting(ctx context.Context, key SettingKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, string(key))
	return wrapErr("delete setting", err)
}

// GetSettingValue decodes the stored value for key into T. It always returns
// a value: def is used when the setting is absent, unreadable or malformed.
func GetSettingValue[T any](ctx context.Context, r SettingReader, key SettingKey, def T) T {
	st, err := r.GetSetting(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("reading setting failed, using default", "key", key, "error", err)
		}
		return def
	}
	var v T
	if err := json.Unmarshal([]byte(st.Value), &v); err != nil {
		slog.Warn("decoding setting failed, using default", "key", key, "error", err)
		return def
	}
	return v
}
