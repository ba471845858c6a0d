// Package search runs a staged discussion search: it fetches the current top
// stories, pulls their discussion tags and matches the user's query against
// them, narrating each stage to a progress sink.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/tagging"
)

// User-facing failure messages.
const (
	msgEmptyQuery    = "Please enter a search term"
	msgNoStories     = "No story IDs found"
	msgStoriesFailed = "Failed to fetch story IDs"
	msgTagsFailed    = "Failed to fetch tags"
	msgNoTags        = "No tags returned from API"
	msgNoValidTags   = "No valid tags found"
	msgNoMatches     = "No matching discussions found"
	msgMatchFailed   = "Failed to match tags"
	msgCancelled     = "Search cancelled"
)

// Source lists top stories and their discussion tags. *tagging.Client
// satisfies it.
type Source interface {
	TopStoryIDs(ctx context.Context, limit int) ([]int64, error)
	StoryTags(ctx context.Context, ids []int64, tagTypes []string, limitPerStory bool) ([]tagging.Entry, error)
}

// Matcher scores tag triples against a query.
type Matcher interface {
	Match(ctx context.Context, query string, triples []ranking.Triple, limit int) ([]ranking.TagMatch, error)
}

// Recorder persists a search query to history. Failures are only logged.
type Recorder interface {
	RecordSearch(ctx context.Context, query string) error
}

var (
	_ Source  = (*tagging.Client)(nil)
	_ Matcher = (*ranking.Matcher)(nil)
)

// Config tunes the orchestrator. Zero fields take the defaults below.
type Config struct {
	MaxItems     int
	TagTypes     []string
	MatchTimeout time.Duration
	MatchLimit   int
}

const (
	defaultMaxItems     = 30
	defaultMatchTimeout = 15 * time.Second
	defaultMatchLimit   = 10
)

var defaultTagTypes = []string{"thread_theme"}

func (c Config) withDefaults() Config {
	if c.MaxItems <= 0 {
		c.MaxItems = defaultMaxItems
	}
	if len(c.TagTypes) == 0 {
		c.TagTypes = defaultTagTypes
	}
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = defaultMatchTimeout
	}
	if c.MatchLimit <= 0 {
		c.MatchLimit = defaultMatchLimit
	}
	return c
}

// Result is the outcome of a search. Error is set instead of returning a Go
// error so callers can relay it to the user verbatim.
type Result struct {
	Query    string             `json:"query"`
	Matches  []ranking.TagMatch `json:"matches"`
	TimedOut bool               `json:"timedOut,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Orchestrator runs searches. It is safe for concurrent use.
type Orchestrator struct {
	source   Source
	matcher  Matcher
	recorder Recorder
	state    StateStore
	pacer    Pacer
	cfg      Config
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every non-empty query to history.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithState persists the last completed search.
func WithState(s StateStore) Option { return func(o *Orchestrator) { o.state = s } }

// WithPacer overrides the delay between stages. The default is NoPacer.
func WithPacer(p Pacer) Option { return func(o *Orchestrator) { o.pacer = p } }

// WithClock overrides time.Now for last-search timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(source Source, matcher Matcher, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:  source,
		matcher: matcher,
		pacer:   NoPacer{},
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs a search without progress reporting.
func (o *Orchestrator) Execute(ctx context.Context, query string) Result {
	return o.ExecuteStreaming(ctx, query, nil)
}

// ExecuteStreaming runs a search, reporting each stage to progress. It never
// returns a Go error: failures surface as Result.Error and a StageFailed event.
func (o *Orchestrator) ExecuteStreaming(ctx context.Context, query string, progress ProgressFunc) Result {
	n := &narrator{sink: progress}
	res := Result{Query: query}
	query = strings.TrimSpace(query)

	fail := func(msg string) Result {
		n.emit(StageFailed, failedLine(msg))
		res.Error = msg
		return res
	}

	if query == "" {
		return fail(msgEmptyQuery)
	}

	o.record(ctx, query)
	n.emit(StageStarted, startedLine(query))
	o.pacer.Pause(ctx)

	n.emit(StageFetchingStories, fetchingStoriesLine())
	ids, err := o.source.TopStoryIDs(ctx, o.cfg.MaxItems)
	if err != nil {
		if ctx.Err() != nil {
			return fail(msgCancelled)
		}
		if errors.Is(err, tagging.ErrEmptyListing) {
			return fail(msgNoStories)
		}
		slog.Warn("search: listing failed", "error", err)
		return fail(msgStoriesFailed)
	}
	if len(ids) == 0 {
		return fail(msgNoStories)
	}
	o.pacer.Pause(ctx)

	n.emit(StageFetchingTags, fetchingTagsLine(len(ids)))
	entries, err := o.source.StoryTags(ctx, ids, o.cfg.TagTypes, true)
	if err != nil {
		if ctx.Err() != nil {
			return fail(msgCancelled)
		}
		slog.Warn("search: tag fetch failed", "error", err)
		return fail(msgTagsFailed)
	}
	if len(entries) == 0 {
		return fail(msgNoTags)
	}
	triples := tagging.Flatten(entries)
	if len(triples) == 0 {
		return fail(msgNoValidTags)
	}
	o.pacer.Pause(ctx)

	n.emit(StageMatching, matchingLine(len(triples)))
	matches, timedOut, err := o.match(ctx, query, triples)
	switch {
	case ctx.Err() != nil:
		return fail(msgCancelled)
	case timedOut:
		n.emit(StageTimedOut, timedOutLine())
		res.TimedOut = true
		res.Matches = []ranking.TagMatch{}
		return fail(msgNoMatches)
	case err != nil:
		slog.Warn("search: matching failed", "error", err)
		return fail(msgMatchFailed)
	case len(matches) == 0:
		return fail(msgNoMatches)
	}

	res.Matches = matches
	n.emit(StageDone, SummaryLine(matches))
	o.saveLast(ctx, res)
	return res
}

type matchOutcome struct {
	matches []ranking.TagMatch
	err     error
}

// match races the matcher against MatchTimeout. A timeout cancels the
// in-flight match and reports timedOut with no error.
func (o *Orchestrator) match(ctx context.Context, query string, triples []ranking.Triple) ([]ranking.TagMatch, bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, o.cfg.MatchTimeout)
	defer cancel()

	// Buffered so the goroutine can exit after a timeout without a reader.
	done := make(chan matchOutcome, 1)
	go func() {
		m, err := o.matcher.Match(timeoutCtx, query, triples, o.cfg.MatchLimit)
		done <- matchOutcome{matches: m, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && timeoutCtx.Err() != nil {
			return o.timedOut(ctx, len(triples))
		}
		if errors.Is(out.err, ranking.ErrNothingToMatch) {
			return nil, false, nil
		}
		return out.matches, false, out.err
	case <-timeoutCtx.Done():
		return o.timedOut(ctx, len(triples))
	}
}

func (o *Orchestrator) timedOut(ctx context.Context, tags int) ([]ranking.TagMatch, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	slog.Info("search: matching timed out", "timeout", o.cfg.MatchTimeout, "tags", tags)
	return nil, true, nil
}

// record stores the query in the background so history writes never delay
// the search.
func (o *Orchestrator) record(ctx context.Context, query string) {
	if o.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := o.recorder.RecordSearch(ctx, query); err != nil {
			slog.Warn("search: recording query failed", "error", err)
		}
	}()
}
