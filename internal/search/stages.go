package search

import (
	"fmt"
	"strings"

	"github.com/kalambet/techne/internal/ranking"
)

// Stage identifies one step of a streaming search.
type Stage int

const (
	StageStarted Stage = iota
	StageFetchingStories
	StageFetchingTags
	StageMatching
	StageTimedOut
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageStarted:         "started",
	StageFetchingStories: "fetching_stories",
	StageFetchingTags:    "fetching_tags",
	StageMatching:        "matching",
	StageTimedOut:        "timed_out",
	StageDone:            "done",
	StageFailed:          "failed",
}

func (s Stage) String() string {
	if int(s) < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText renders the stage name in JSON and SSE payloads.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Progress is delivered to the sink after every stage transition. Narrative
// holds every line emitted so far, newest last.
type Progress struct {
	Stage     Stage  `json:"stage"`
	Line      string `json:"line"`
	Narrative string `json:"narrative"`
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(Progress)

// narrator accumulates stage lines and forwards them to the sink.
type narrator struct {
	sink  ProgressFunc
	lines []string
}

func (n *narrator) emit(stage Stage, line string) {
	n.lines = append(n.lines, line)
	if n.sink != nil {
		n.sink(Progress{Stage: stage, Line: line, Narrative: strings.Join(n.lines, "\n")})
	}
}

const displayLimit = 5

func startedLine(query string) string {
	return fmt.Sprintf("Searching for %q...", query)
}

func fetchingStoriesLine() string {
	return "Fetching top stories..."
}

func fetchingTagsLine(stories int) string {
	return fmt.Sprintf("Found %d stories. Fetching discussion tags...", stories)
}

func matchingLine(tags int) string {
	return fmt.Sprintf("Matching your query against %d tags...", tags)
}

func timedOutLine() string {
	return "Matching took too long, giving up."
}

func failedLine(msg string) string {
	return "Search failed: " + msg
}

// SummaryLine renders up to five matches with a "+N more" suffix. It is the
// final line of a successful search.
func SummaryLine(matches []ranking.TagMatch) string {
	var sb strings.Builder
	if len(matches) == 1 {
		sb.WriteString("Found 1 matching discussion:")
	} else {
		fmt.Fprintf(&sb, "Found %d matching discussions:", len(matches))
	}
	shown := matches
	if len(shown) > displayLimit {
		shown = shown[:displayLimit]
	}
	for i, m := range shown {
		fmt.Fprintf(&sb, "\n%d. %s (%s) %.2f %s", i+1, m.Tag, m.Type, m.Score, m.Anchor)
	}
	if extra := len(matches) - len(shown); extra > 0 {
		fmt.Fprintf(&sb, "\n+%d more", extra)
	}
	return sb.String()
}
