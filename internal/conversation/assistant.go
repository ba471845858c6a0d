package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/techne/internal/composer"
	"github.com/kalambet/techne/internal/intent"
	"github.com/kalambet/techne/internal/prefs"
	"github.com/kalambet/techne/internal/provider"
	"github.com/kalambet/techne/internal/search"
	"github.com/kalambet/techne/internal/storage"
)

// DefaultIntentThreshold is the confidence above which a message is treated
// as a search request.
const DefaultIntentThreshold = 0.7

// IntentDetector classifies a user message.
type IntentDetector interface {
	Detect(ctx context.Context, message string, cb *intent.Callbacks) (intent.Result, error)
}

// Searcher runs a streaming discussion search.
type Searcher interface {
	ExecuteStreaming(ctx context.Context, query string, progress search.ProgressFunc) search.Result
}

// Chatter generates model replies.
type Chatter interface {
	Chat(ctx context.Context, req provider.ChatRequest) (string, error)
}

// ChatPrefs supplies the sampling settings for replies.
type ChatPrefs interface {
	ChatConfig(ctx context.Context) prefs.ChatSettings
}

// InterestSource lists the user's recent tags for the system prompt.
type InterestSource interface {
	RecentTags(ctx context.Context, k int) ([]storage.Tag, error)
}

var (
	_ IntentDetector = (*intent.Detector)(nil)
	_ Searcher       = (*search.Orchestrator)(nil)
	_ Chatter        = (*provider.Adapter)(nil)
	_ ChatPrefs      = (*prefs.Manager)(nil)
)

// Sink receives the assistant's progress. All fields are optional.
type Sink struct {
	// OnContent receives the full assistant text so far.
	OnContent func(content string)
	// OnLoading reports model download state; fraction is -1 when unknown.
	OnLoading func(loading bool, fraction float64)
	// OnSearch receives each search stage.
	OnSearch func(search.Progress)
}

// Reply is the outcome of one assistant turn.
type Reply struct {
	Conversation *Persisted      `json:"conversation"`
	Message      storage.Message `json:"message"`
	Intent       *intent.Result  `json:"intent,omitempty"`
	Search       *search.Result  `json:"search,omitempty"`
}

// Assistant answers user messages.
type Assistant struct {
	manager   *Manager
	detector  IntentDetector
	searcher  Searcher
	chat      Chatter
	prefs     ChatPrefs
	composer  *composer.Composer
	interests InterestSource
	threshold float64
}

// AssistantConfig wires an Assistant. Interests and Composer are optional.
type AssistantConfig struct {
	Manager   *Manager
	Detector  IntentDetector
	Searcher  Searcher
	Chat      Chatter
	Prefs     ChatPrefs
	Composer  *composer.Composer
	Interests InterestSource
	Threshold float64
}

// NewAssistant creates an Assistant.
func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.Composer == nil {
		cfg.Composer = composer.New(0)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultIntentThreshold
	}
	return &Assistant{
		manager:   cfg.Manager,
		detector:  cfg.Detector,
		searcher:  cfg.Searcher,
		chat:      cfg.Chat,
		prefs:     cfg.Prefs,
		composer:  cfg.Composer,
		interests: cfg.Interests,
		threshold: cfg.Threshold,
	}
}

const interestCount = 10

// Send appends text as a user message to s and produces the assistant's
// answer. A draft session is committed first. Model and search failures end
// up as friendly text in the assistant message; only store failures are
// returned as errors.
func (a *Assistant) Send(ctx context.Context, s Session, text string, sink Sink) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, errors.New("empty message")
	}

	conv, err := a.persist(ctx, s, text)
	if err != nil {
		return Reply{}, err
	}

	placeholder, err := a.manager.Append(ctx, conv.ID(), storage.Message{Role: storage.RoleAssistant, IsStreaming: true})
	if err != nil {
		return Reply{}, fmt.Errorf("adding assistant message: %w", err)
	}

	reply := Reply{}
	content := a.answer(ctx, conv, text, sink, &reply)

	if err := a.manager.Finalize(context.WithoutCancel(ctx), conv.ID(), placeholder.ID, content); err != nil {
		return Reply{}, fmt.Errorf("finalizing assistant message: %w", err)
	}
	conv, err = a.manager.Open(ctx, conv.ID())
	if err != nil {
		return Reply{}, err
	}
	reply.Conversation = conv
	placeholder.Content = content
	placeholder.IsStreaming = false
	reply.Message = placeholder
	return reply, nil
}

func (a *Assistant) persist(ctx context.Context, s Session, text string) (*Persisted, error) {
	user := storage.Message{Role: storage.RoleUser, Content: text}
	switch sess := s.(type) {
	case *Draft:
		sess.Append(user)
		return a.manager.Commit(ctx, sess)
	case *Persisted:
		if _, err := a.manager.Append(ctx, sess.ID(), user); err != nil {
			return nil, fmt.Errorf("adding user message: %w", err)
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("unsupported session type %T", s)
	}
}

// answer returns the final assistant text.
func (a *Assistant) answer(ctx context.Context, conv *Persisted, text string, sink Sink, reply *Reply) string {
	res, err := a.detector.Detect(ctx, text, &intent.Callbacks{
		OnModelLoading: func(loading bool) {
			if sink.OnLoading != nil {
				sink.OnLoading(loading, -1)
			}
		},
		OnModelProgress: func(f float64, _ string) {
			if sink.OnLoading != nil {
				sink.OnLoading(true, f)
			}
		},
	})
	if err != nil {
		slog.Warn("intent detection failed, answering as chat", "error", err)
	} else {
		reply.Intent = &res
		if res.IsSearch && res.Confidence >= a.threshold && res.SearchQuery != "" {
			return a.runSearch(ctx, res.SearchQuery, sink, reply)
		}
	}
	return a.runChat(ctx, conv, sink)
}

func (a *Assistant) runSearch(ctx context.Context, query string, sink Sink, reply *Reply) string {
	var narrative string
	res := a.searcher.ExecuteStreaming(ctx, query, func(p search.Progress) {
		narrative = p.Narrative
		if sink.OnSearch != nil {
			sink.OnSearch(p)
		}
		if sink.OnContent != nil {
			sink.OnContent(p.Narrative)
		}
	})
	reply.Search = &res
	if narrative == "" {
		return res.Error
	}
	return narrative
}

func (a *Assistant) runChat(ctx context.Context, conv *Persisted, sink Sink) string {
	fresh, err := a.manager.Open(ctx, conv.ID())
	if err != nil {
		slog.Error("reloading conversation failed", "id", conv.ID(), "error", err)
		return FriendlyError(err)
	}

	msgs := a.composer.Compose(fresh.Messages(), a.recentInterests(ctx))
	cfg := a.prefs.ChatConfig(ctx)
	text, err := a.chat.Chat(ctx, provider.ChatRequest{
		Messages: msgs,
		Config: provider.ChatConfig{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
			Stream:      true,
		},
		OnUpdate: func(partial, _ string) {
			if sink.OnContent != nil {
				sink.OnContent(partial)
			}
		},
		OnModelLoadingStart: func() {
			if sink.OnLoading != nil {
				sink.OnLoading(true, 0)
			}
		},
		OnModelLoadingProgress: func(f float64) {
			if sink.OnLoading != nil {
				sink.OnLoading(true, f)
			}
		},
		OnModelLoadingComplete: func() bool {
			if sink.OnLoading != nil {
				sink.OnLoading(false, 1)
			}
			return ctx.Err() == nil
		},
	})
	if err != nil {
		slog.Error("chat generation failed", "conversation", conv.ID(), "error", err)
		return FriendlyError(err)
	}
	return text
}

func (a *Assistant) recentInterests(ctx context.Context) []string {
	if a.interests == nil {
		return nil
	}
	tags, err := a.interests.RecentTags(ctx, interestCount)
	if err != nil {
		slog.Warn("loading recent tags failed", "error", err)
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		if !seen[t.Tag] {
			seen[t.Tag] = true
			out = append(out, t.Tag)
		}
	}
	return out
}
