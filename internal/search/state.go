package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/storage"
)

// LastSearchTTL is how long a completed search stays resumable.
const LastSearchTTL = 30 * time.Minute

// StateStore persists the last search. *storage.Store satisfies it.
type StateStore interface {
	storage.SettingReader
	SaveSetting(ctx context.Context, key storage.SettingKey, value any) error
}

var _ StateStore = (*storage.Store)(nil)

// LastSearch is the most recent completed search.
type LastSearch struct {
	Query     string             `json:"query"`
	Matches   []ranking.TagMatch `json:"matches"`
	Timestamp time.Time          `json:"timestamp"`
}

// Age reports how long ago the search ran.
func (l LastSearch) Age(now time.Time) time.Duration {
	return now.Sub(l.Timestamp)
}

func (o *Orchestrator) saveLast(ctx context.Context, res Result) {
	if o.state == nil {
		return
	}
	last := LastSearch{Query: res.Query, Matches: res.Matches, Timestamp: o.now().UTC()}
	if err := o.state.SaveSetting(context.WithoutCancel(ctx), storage.SettingLastSearch, last); err != nil {
		slog.Warn("search: saving last search failed", "error", err)
	}
}

// LastSearch returns the most recent search if it ran within LastSearchTTL.
func (o *Orchestrator) LastSearch(ctx context.Context) (LastSearch, bool) {
	if o.state == nil {
		return LastSearch{}, false
	}
	last := storage.GetSettingValue(ctx, o.state, storage.SettingLastSearch, LastSearch{})
	if last.Query == "" || last.Timestamp.IsZero() {
		return LastSearch{}, false
	}
	if last.Age(o.now()) > LastSearchTTL {
		return LastSearch{}, false
	}
	return last, true
}

// FormatAge renders a duration the way the search history shows it.
func FormatAge(d time.Duration) string {
	switch mins := int(d / time.Minute); {
	case mins < 1:
		return "just now"
	case mins == 1:
		return "1 minute ago"
	case mins < 60:
		return fmt.Sprintf("%d minutes ago", mins)
	case mins < 120:
		return "1 hour ago"
	default:
		return fmt.Sprintf("%d hours ago", mins/60)
	}
}
