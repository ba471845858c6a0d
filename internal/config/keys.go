package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

// keySpec binds one dotted config key to its env var and Config field.
// Secret keys are readable from the file and env but never shown or set
// through the CLI.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TECHNE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TECHNE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "model.backend", typ: kString, env: "TECHNE_MODEL_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Model.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Backend },
	},
	{
		key: "model.base_url", typ: kString, env: "TECHNE_MODEL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Model.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.BaseURL },
	},
	{
		key: "model.api_key", typ: kString, env: "TECHNE_MODEL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Model.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.APIKey },
	},
	{
		key: "model.chat_model", typ: kString, env: "TECHNE_MODEL_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Model.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.ChatModel },
	},
	{
		key: "model.embed_model", typ: kString, env: "TECHNE_MODEL_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.EmbedModel },
	},
	{
		key: "model.embed_dim", typ: kInt, env: "TECHNE_MODEL_EMBED_DIM",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedDim = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.EmbedDim },
	},
	{
		key: "model.pull_missing", typ: kBool, env: "TECHNE_MODEL_PULL_MISSING",
		apply:   func(cfg *Config, v any) { cfg.Model.PullMissing = v.(bool) },
		extract: func(cfg Config) any { return cfg.Model.PullMissing },
	},
	{
		key: "tagging.base_url", typ: kString, env: "TECHNE_TAGGING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Tagging.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Tagging.BaseURL },
	},
	{
		key: "tagging.listing_url", typ: kString, env: "TECHNE_TAGGING_LISTING_URL",
		apply:   func(cfg *Config, v any) { cfg.Tagging.ListingURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Tagging.ListingURL },
	},
	{
		key: "tagging.timeout", typ: kDuration, env: "TECHNE_TAGGING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Tagging.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tagging.Timeout },
	},
	{
		key: "search.max_items", typ: kInt, env: "TECHNE_SEARCH_MAX_ITEMS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxItems = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxItems },
	},
	{
		key: "search.tag_types", typ: kString, env: "TECHNE_SEARCH_TAG_TYPES",
		apply:   func(cfg *Config, v any) { cfg.Search.TagTypes = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.TagTypes },
	},
	{
		key: "search.match_timeout", typ: kDuration, env: "TECHNE_SEARCH_MATCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.MatchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.MatchTimeout },
	},
	{
		key: "search.match_limit", typ: kInt, env: "TECHNE_SEARCH_MATCH_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.MatchLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MatchLimit },
	},
	{
		key: "search.stage_delay", typ: kDuration, env: "TECHNE_SEARCH_STAGE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Search.StageDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.StageDelay },
	},
	{
		key: "search.intent_threshold", typ: kFloat, env: "TECHNE_SEARCH_INTENT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.IntentThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.IntentThreshold },
	},
	{
		key: "ranking.strategy", typ: kString, env: "TECHNE_RANKING_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Ranking.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Ranking.Strategy },
	},
	{
		key: "ranking.feature_enabled", typ: kBool, env: "TECHNE_RANKING_FEATURE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Ranking.FeatureEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ranking.FeatureEnabled },
	},
	{
		key: "ranking.history_size", typ: kInt, env: "TECHNE_RANKING_HISTORY_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ranking.HistorySize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ranking.HistorySize },
	},
	{
		key: "ranking.display_limit", typ: kInt, env: "TECHNE_RANKING_DISPLAY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Ranking.DisplayLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Ranking.DisplayLimit },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TECHNE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TECHNE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text into the Go type of t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
