package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Tagging TaggingConfig
	Search  SearchConfig
	Ranking RankingConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type ModelConfig struct {
	Backend     string
	BaseURL     string
	APIKey      string
	ChatModel   string
	EmbedModel  string
	EmbedDim    int
	PullMissing bool
}

type TaggingConfig struct {
	BaseURL    string
	ListingURL string
	Timeout    time.Duration
}

type SearchConfig struct {
	MaxItems        int
	TagTypes        string
	MatchTimeout    time.Duration
	MatchLimit      int
	StageDelay      time.Duration
	IntentThreshold float64
}

// TagTypeList splits the comma-separated TagTypes.
func (c SearchConfig) TagTypeList() []string {
	var out []string
	for _, t := range strings.Split(c.TagTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type RankingConfig struct {
	Strategy       string
	FeatureEnabled bool
	HistorySize    int
	DisplayLimit   int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Model: ModelConfig{
			Backend:     "ollama",
			BaseURL:     "http://localhost:11434",
			ChatModel:   "qwen2:0.5b",
			EmbedModel:  "all-minilm",
			EmbedDim:    384,
			PullMissing: true,
		},
		Tagging: TaggingConfig{
			BaseURL:    "https://techne-pipeline-func-prod.azurewebsites.net/api",
			ListingURL: "https://hacker-news.firebaseio.com/v0/topstories.json",
			Timeout:    15 * time.Second,
		},
		Search: SearchConfig{
			MaxItems:        30,
			TagTypes:        "thread_theme",
			MatchTimeout:    15 * time.Second,
			MatchLimit:      10,
			StageDelay:      300 * time.Millisecond,
			IntentThreshold: 0.7,
		},
		Ranking: RankingConfig{
			Strategy:       "embedding",
			FeatureEnabled: true,
			HistorySize:    10,
			DisplayLimit:   3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/techne/config.json, then applies TECHNE_* environment
// overrides. A missing API token is generated and written back to the file.
func Load() (Config, error) {
	b, err := newFileBackend(configFilePath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.APIToken == "" {
		token := uuid.NewString()
		if err := b.SetString("server.api_token", token); err != nil {
			return Config{}, fmt.Errorf("persisting generated API token: %w", err)
		}
		cfg.Server.APIToken = token
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Model.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid model.backend %q: want ollama or openai", cfg.Model.Backend)
	}
	switch cfg.Ranking.Strategy {
	case "embedding", "prompt":
	default:
		return fmt.Errorf("invalid ranking.strategy %q: want embedding or prompt", cfg.Ranking.Strategy)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "techne-data"
		}
	}
	return filepath.Join(dir, "techne")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "techne", "config.json")
}
