// Package intent classifies chat messages as discussion searches or plain chat.
package intent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/techne/internal/engine"
	"github.com/kalambet/techne/internal/provider"
)

const (
	detectTemperature = 0.1
	detectTopP        = 0.9
	detectMaxTokens   = 200
)

// ErrNoResponse means the model produced no answer at all, as opposed to an
// answer that could not be parsed (which yields Fallback instead).
var ErrNoResponse = errors.New("intent detection failed")

// Result is the classification of one message. An empty SearchQuery means
// no query was extracted.
type Result struct {
	IsSearch    bool    `json:"isSearch"`
	SearchQuery string  `json:"searchQuery,omitempty"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// Callbacks report model loading state while a detection runs.
type Callbacks struct {
	OnModelLoading  func(loading bool)
	OnModelProgress func(fraction float64, text string)
}

// Chatter is the provider contract the detector needs.
type Chatter interface {
	Chat(ctx context.Context, req provider.ChatRequest) (string, error)
}

// Detector asks the chat model whether a message is a search request.
type Detector struct {
	chat  Chatter
	model string
}

// NewDetector creates a Detector. An empty model uses the provider default.
func NewDetector(chat Chatter, model string) *Detector {
	return &Detector{chat: chat, model: model}
}

var percentRe = regexp.MustCompile(`(\d+)%`)

// isLoadingChunk reports whether a streamed chunk is loading chatter rather
// than model output.
func isLoadingChunk(chunk string) bool {
	return strings.Contains(chunk, "Loading") ||
		strings.Contains(chunk, "Initializing") ||
		strings.Contains(chunk, "%")
}

// Detect classifies message. A reply that cannot be parsed yields Fallback
// with a nil error; a provider failure is returned as an error wrapping
// ErrNoResponse.
func (d *Detector) Detect(ctx context.Context, message string, cb *Callbacks) (Result, error) {
	if cb == nil {
		cb = &Callbacks{}
	}
	setLoading := func(v bool) {
		if cb.OnModelLoading != nil {
			cb.OnModelLoading(v)
		}
	}
	progress := func(f float64, text string) {
		if cb.OnModelProgress != nil {
			cb.OnModelProgress(f, text)
		}
	}

	setLoading(true)
	reply, err := d.chat.Chat(ctx, provider.ChatRequest{
		Messages: []engine.Message{{Role: "user", Content: BuildPrompt(message)}},
		Config: provider.ChatConfig{
			Model:       d.model,
			Temperature: detectTemperature,
			TopP:        detectTopP,
			MaxTokens:   detectMaxTokens,
			Stream:      true,
		},
		OnUpdate: func(_, chunk string) {
			if chunk == "" {
				return
			}
			if !isLoadingChunk(chunk) {
				setLoading(false)
				return
			}
			progress(0, chunk)
			if m := percentRe.FindStringSubmatch(chunk); m != nil {
				if pct, err := strconv.Atoi(m[1]); err == nil {
					progress(float64(pct)/100, chunk)
				}
			}
		},
		OnModelLoadingStart:    func() { setLoading(true) },
		OnModelLoadingProgress: func(f float64) { progress(f, "Loading model") },
	})
	setLoading(false)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	return ParseResponse(reply), nil
}
