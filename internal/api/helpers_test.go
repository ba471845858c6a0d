package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/techne/internal/conversation"
	"github.com/kalambet/techne/internal/intent"
	"github.com/kalambet/techne/internal/prefs"
	"github.com/kalambet/techne/internal/provider"
	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/router"
	"github.com/kalambet/techne/internal/search"
	"github.com/kalambet/techne/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type reverseRanker struct{}

func (reverseRanker) Rank(_ context.Context, _ []string, c ranking.Candidates) (ranking.Candidates, error) {
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = c.Len() - 1 - i
	}
	return c.Pick(idx), nil
}

type stubMatcher struct{}

func (stubMatcher) Match(_ context.Context, query string, triples []ranking.Triple, limit int) ([]ranking.TagMatch, error) {
	if strings.TrimSpace(query) == "" || len(triples) == 0 {
		return nil, ranking.ErrNothingToMatch
	}
	out := make([]ranking.TagMatch, 0, len(triples))
	for _, t := range triples {
		out = append(out, ranking.TagMatch{Tag: t.Tag, Type: t.Type, Anchor: t.Anchor, Score: 0.8})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockDetector struct {
	res intent.Result
}

func (d *mockDetector) Detect(context.Context, string, *intent.Callbacks) (intent.Result, error) {
	return d.res, nil
}

type mockSearcher struct {
	mu   sync.Mutex
	last *search.LastSearch
}

func (s *mockSearcher) ExecuteStreaming(_ context.Context, q string, progress search.ProgressFunc) search.Result {
	if progress != nil {
		progress(search.Progress{Stage: search.StageStarted, Line: "Searching...", Narrative: "Searching..."})
		progress(search.Progress{Stage: search.StageDone, Line: "Found 1 matching discussion:", Narrative: "Searching...\nFound 1 matching discussion:"})
	}
	res := search.Result{Query: q, Matches: []ranking.TagMatch{{Tag: "rust", Type: "thread_theme", Anchor: "https://news.ycombinator.com/item?id=1", Score: 0.9}}}
	s.mu.Lock()
	s.last = &search.LastSearch{Query: q, Matches: res.Matches, Timestamp: time.Now()}
	s.mu.Unlock()
	return res
}

func (s *mockSearcher) LastSearch(context.Context) (search.LastSearch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return search.LastSearch{}, false
	}
	return *s.last, true
}

type mockChat struct{}

func (mockChat) Chat(_ context.Context, req provider.ChatRequest) (string, error) {
	if req.OnUpdate != nil {
		req.OnUpdate("Hel", "Hel")
		req.OnUpdate("Hello!", "lo!")
	}
	return "Hello!", nil
}

type mockModels struct{}

func (mockModels) ListModels(context.Context) ([]string, error) {
	return []string{"qwen2:0.5b", "all-minilm"}, nil
}

// --- helpers ---

type testEnv struct {
	store    *storage.Store
	router   *router.Router
	detector *mockDetector
}

func setupHandler(t *testing.T) (http.Handler, *testEnv) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pm := prefs.NewManager(store, prefs.Defaults{})
	det := &mockDetector{}
	srch := &mockSearcher{}
	rt := router.New(router.Deps{
		Store:    store,
		Ranker:   reverseRanker{},
		Matcher:  stubMatcher{},
		Detector: det,
		Searcher: srch,
		Prefs:    pm,
	}, router.Config{FeatureEnabled: true})

	convs := conversation.NewManager(store, rt.ConversationsChanged)
	asst := conversation.NewAssistant(conversation.AssistantConfig{
		Manager:   convs,
		Detector:  det,
		Searcher:  srch,
		Chat:      mockChat{},
		Prefs:     pm,
		Interests: store,
	})

	h := NewHandler(Deps{
		Router:        rt,
		Prefs:         pm,
		Conversations: convs,
		Assistant:     asst,
		Models:        mockModels{},
		Token:         testToken,
	})
	return h, &testEnv{store: store, router: rt, detector: det}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}
