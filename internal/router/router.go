// Package router is the coordinator between callers (HTTP, MCP, CLI) and the
// ranking, matching, intent and search components. It owns every history
// write so change notifications always follow them.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/techne/internal/ingest"
	"github.com/kalambet/techne/internal/intent"
	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/search"
	"github.com/kalambet/techne/internal/storage"
)

// ErrInvalidInput is returned by MatchTags for a blank query or no tags.
var ErrInvalidInput = ranking.ErrNothingToMatch

// HistoryStore is the history side of the local store. Implemented by
// storage.Store.
type HistoryStore interface {
	StoreTag(ctx context.Context, tag, typ, anchor string) (storage.Tag, error)
	ListTags(ctx context.Context) ([]storage.Tag, error)
	RecentTags(ctx context.Context, k int) ([]storage.Tag, error)
	ClearTags(ctx context.Context) error
	StoreSearch(ctx context.Context, query string) (storage.Search, error)
	ListSearches(ctx context.Context) ([]storage.Search, error)
	RecentSearches(ctx context.Context, k int) ([]storage.Search, error)
	ClearSearches(ctx context.Context) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

var _ HistoryStore = (*storage.Store)(nil)

// Personalization reports the user's opt-in. *prefs.Manager satisfies it.
type Personalization interface {
	PersonalizationEnabled(ctx context.Context) bool
}

// Matcher scores triples against a query. *ranking.Matcher satisfies it.
type Matcher interface {
	Match(ctx context.Context, query string, triples []ranking.Triple, limit int) ([]ranking.TagMatch, error)
}

// IntentDetector classifies a message. *intent.Detector satisfies it.
type IntentDetector interface {
	Detect(ctx context.Context, message string, cb *intent.Callbacks) (intent.Result, error)
}

// Searcher runs discussion searches. *search.Orchestrator satisfies it.
type Searcher interface {
	ExecuteStreaming(ctx context.Context, query string, progress search.ProgressFunc) search.Result
	LastSearch(ctx context.Context) (search.LastSearch, bool)
}

var (
	_ Matcher        = (*ranking.Matcher)(nil)
	_ IntentDetector = (*intent.Detector)(nil)
	_ Searcher       = (*search.Orchestrator)(nil)
)

// Config tunes the router.
type Config struct {
	// FeatureEnabled is the global personalization switch; the user setting
	// is only consulted when it is on.
	FeatureEnabled bool
	// HistorySize is how many recent tags and recent searches feed ranking.
	HistorySize int
	// MatchLimit caps TAG_MATCH results.
	MatchLimit int
	// WarmEmbeddings enqueues an embed_history job for every recorded
	// tag or search.
	WarmEmbeddings bool
}

const (
	defaultHistorySize = 10
	defaultMatchLimit  = 3
)

// Deps are the components a Router dispatches to. Searcher may be nil until
// it is attached with SetSearcher.
type Deps struct {
	Store    HistoryStore
	Ranker   ranking.Ranker
	Matcher  Matcher
	Detector IntentDetector
	Searcher Searcher
	Prefs    Personalization
	Notifier *Notifier
}

// Router dispatches requests and publishes change notifications.
type Router struct {
	store    HistoryStore
	ranker   ranking.Ranker
	matcher  Matcher
	detector IntentDetector
	searcher Searcher
	prefs    Personalization
	notifier *Notifier
	cfg      Config
}

// New creates a Router.
func New(deps Deps, cfg Config) *Router {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.MatchLimit <= 0 {
		cfg.MatchLimit = defaultMatchLimit
	}
	if deps.Notifier == nil {
		deps.Notifier = NewNotifier()
	}
	return &Router{
		store:    deps.Store,
		ranker:   deps.Ranker,
		matcher:  deps.Matcher,
		detector: deps.Detector,
		searcher: deps.Searcher,
		prefs:    deps.Prefs,
		notifier: deps.Notifier,
		cfg:      cfg,
	}
}

// SetSearcher attaches the search orchestrator. The orchestrator records
// queries through the router, so it is built after it.
func (r *Router) SetSearcher(s Searcher) { r.searcher = s }

// Notifier returns the router's change notifier.
func (r *Router) Notifier() *Notifier { return r.notifier }

// PersonalizationEnabled reports whether ranking is active: the global
// switch and the user setting must both be on.
func (r *Router) PersonalizationEnabled(ctx context.Context) bool {
	if !r.cfg.FeatureEnabled || r.prefs == nil {
		return false
	}
	return r.prefs.PersonalizationEnabled(ctx)
}

// RankTags orders a story's candidate tags by the user's history. When
// personalization is off or there is no history the input comes back
// unchanged.
func (r *Router) RankTags(ctx context.Context, c ranking.Candidates) (ranking.Candidates, error) {
	if !r.PersonalizationEnabled(ctx) {
		return c, nil
	}
	if err := c.Validate(); err != nil {
		return ranking.Candidates{}, err
	}

	history := r.historyTexts(ctx)
	if len(history) == 0 {
		return c, nil
	}
	ranked, err := r.ranker.Rank(ctx, history, c)
	if err != nil {
		return ranking.Candidates{}, fmt.Errorf("ranking tags: %w", err)
	}
	return ranked, nil
}

// historyTexts returns recent tag texts followed by recent search queries.
// Read failures are logged and yield less history.
func (r *Router) historyTexts(ctx context.Context) []string {
	var out []string
	tags, err := r.store.RecentTags(ctx, r.cfg.HistorySize)
	if err != nil {
		slog.Warn("router: loading recent tags failed", "error", err)
	}
	for _, t := range tags {
		if t.Tag != "" {
			out = append(out, t.Tag)
		}
	}
	searches, err := r.store.RecentSearches(ctx, r.cfg.HistorySize)
	if err != nil {
		slog.Warn("router: loading recent searches failed", "error", err)
	}
	for _, s := range searches {
		if s.Query != "" {
			out = append(out, s.Query)
		}
	}
	return out
}

// RecordTag stores a tag interaction and announces TagsUpdated.
func (r *Router) RecordTag(ctx context.Context, tag, typ, anchor string) (storage.Tag, error) {
	req := NewTagRequest{Tag: strings.TrimSpace(tag), Type: strings.TrimSpace(typ), Anchor: strings.TrimSpace(anchor)}
	if err := Validate(req); err != nil {
		return storage.Tag{}, err
	}
	t, err := r.store.StoreTag(ctx, req.Tag, req.Type, req.Anchor)
	if err != nil {
		return storage.Tag{}, fmt.Errorf("storing tag: %w", err)
	}
	r.notifier.Publish(TagsUpdated)
	r.warm(ctx, t.Tag)
	return t, nil
}

// RecordSearch stores a search query and announces SearchesUpdated.
func (r *Router) RecordSearch(ctx context.Context, query string) error {
	req := NewSearchRequest{Query: strings.TrimSpace(query)}
	if err := Validate(req); err != nil {
		return err
	}
	if _, err := r.store.StoreSearch(ctx, req.Query); err != nil {
		return fmt.Errorf("storing search: %w", err)
	}
	r.notifier.Publish(SearchesUpdated)
	r.warm(ctx, req.Query)
	return nil
}

func (r *Router) warm(ctx context.Context, text string) {
	if !r.cfg.WarmEmbeddings {
		return
	}
	if err := ingest.EnqueueEmbed(ctx, r.store, text); err != nil {
		slog.Warn("router: enqueueing embedding job failed", "error", err)
	}
}

// Tags lists every recorded tag.
func (r *Router) Tags(ctx context.Context) ([]storage.Tag, error) {
	return r.store.ListTags(ctx)
}

// Searches lists every recorded search.
func (r *Router) Searches(ctx context.Context) ([]storage.Search, error) {
	return r.store.ListSearches(ctx)
}

// RecentHistory returns the k most recent tags and searches.
func (r *Router) RecentHistory(ctx context.Context, k int) ([]storage.Tag, []storage.Search, error) {
	tags, err := r.store.RecentTags(ctx, k)
	if err != nil {
		return nil, nil, err
	}
	searches, err := r.store.RecentSearches(ctx, k)
	if err != nil {
		return nil, nil, err
	}
	return tags, searches, nil
}

// ClearTags deletes the tag history.
func (r *Router) ClearTags(ctx context.Context) error {
	if err := r.store.ClearTags(ctx); err != nil {
		return err
	}
	r.notifier.Publish(TagsUpdated)
	return nil
}

// ClearSearches deletes the search history.
func (r *Router) ClearSearches(ctx context.Context) error {
	if err := r.store.ClearSearches(ctx); err != nil {
		return err
	}
	r.notifier.Publish(SearchesUpdated)
	return nil
}

// MatchTags scores inputText against tags, best first, capped at the
// configured limit.
func (r *Router) MatchTags(ctx context.Context, inputText string, tags []ranking.Triple) ([]ranking.TagMatch, error) {
	if strings.TrimSpace(inputText) == "" || len(tags) == 0 {
		return nil, ErrInvalidInput
	}
	matches, err := r.matcher.Match(ctx, inputText, tags, r.cfg.MatchLimit)
	if errors.Is(err, ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("matching tags: %w", err)
	}
	return matches, nil
}

// DetectIntent classifies message.
func (r *Router) DetectIntent(ctx context.Context, message string, cb *intent.Callbacks) (intent.Result, error) {
	if err := Validate(DetectIntentRequest{Message: strings.TrimSpace(message)}); err != nil {
		return intent.Result{}, err
	}
	return r.detector.Detect(ctx, message, cb)
}

// Search runs a streaming discussion search.
func (r *Router) Search(ctx context.Context, query string, progress search.ProgressFunc) search.Result {
	return r.searcher.ExecuteStreaming(ctx, query, progress)
}

// LastSearch returns the most recent search if it is still fresh.
func (r *Router) LastSearch(ctx context.Context) (search.LastSearch, bool) {
	return r.searcher.LastSearch(ctx)
}

// SettingsChanged announces a settings write made elsewhere.
func (r *Router) SettingsChanged() { r.notifier.Publish(SettingsUpdated) }

// ConversationsChanged announces a conversation write made elsewhere.
func (r *Router) ConversationsChanged() { r.notifier.Publish(ConversationsUpdated) }
