package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with the given body. An empty
// body answers 204, a body starting with "event:" is sent as SSE.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		resp, ok := responses[r.Method+" "+r.URL.Path]
		switch {
		case !ok:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
		case resp == "":
			w.WriteHeader(http.StatusNoContent)
		case strings.HasPrefix(resp, "event:"):
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte(resp))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
		}
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// runCmd executes the root command against ts and returns what it printed
// to stdout. Flags are reset first since cobra keeps them between runs.
func runCmd(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()

	oldClient, oldOut, oldColor := newAPIClient, stdout, noColor
	t.Cleanup(func() { newAPIClient, stdout, noColor = oldClient, oldOut, oldColor })

	if ts != nil {
		newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	}
	var out bytes.Buffer
	stdout = &out

	resetFlags(rootCmd)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestAPIClient_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"setting value out of range","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var v map[string]any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if err.Error() != "server returned 400: setting value out of range" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := decodeJSON(resp, nil); err == nil || !strings.Contains(err.Error(), "500: boom") {
		t.Errorf("error = %v, want 500: boom", err)
	}
}

func TestReadEvents(t *testing.T) {
	stream := "event: progress\ndata: {\"line\":\"a\"}\n\n" +
		": comment\n\n" +
		"event: result\ndata: {\"query\":\"q\"}\n\n"
	resp := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(stream))}

	var got []string
	if err := readEvents(resp, func(ev sseEvent) error {
		got = append(got, ev.Name+"="+string(ev.Data))
		return nil
	}); err != nil {
		t.Fatalf("readEvents: %v", err)
	}

	want := []string{`progress={"line":"a"}`, `result={"query":"q"}`}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search": "event: progress\ndata: {\"stage\":\"fetching\",\"line\":\"Fetching top stories\"}\n\n" +
			"event: result\ndata: {\"query\":\"rust async\",\"matches\":[{\"tag\":\"Tokio internals\",\"type\":\"thread_theme\",\"anchor\":\"https://news.ycombinator.com/item?id=7\",\"score\":0.91}]}\n\n",
	})

	out, err := runCmd(t, ts, "search", "rust", "async")
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["query"] != "rust async" {
		t.Errorf("query = %q, want %q", body["query"], "rust async")
	}
	if !strings.Contains(out, "Tokio internals [0.910]") {
		t.Errorf("output missing match line:\n%s", out)
	}
	if !strings.Contains(out, "https://news.ycombinator.com/item?id=7") {
		t.Errorf("output missing anchor:\n%s", out)
	}
}

func TestSearchCommand_ResultError(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search": "event: result\ndata: {\"query\":\"x\",\"matches\":[],\"error\":\"Couldn't reach the tagging service\"}\n\n",
	})

	_, err := runCmd(t, ts, "search", "x")
	if err == nil || !strings.Contains(err.Error(), "tagging service") {
		t.Errorf("err = %v, want search failure", err)
	}
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := runCmd(t, ts, "search")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("err = %v, want it to mention 'required'", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("made %d requests, want 0", len(ts.requests))
	}
}

func TestSearchCommand_Last(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /search/last": `{"query":"sqlite wal","matches":[],"timestamp":"2025-01-01T00:00:00Z","age":"5 minutes ago"}`,
	})

	out, err := runCmd(t, ts, "search", "--last")
	if err != nil {
		t.Fatalf("search --last: %v", err)
	}
	if !strings.Contains(out, "sqlite wal (5 minutes ago)") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "No matching discussions found.") {
		t.Errorf("output = %q, want empty-match message", out)
	}
}

func TestRankCommand_AlignedArrays(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /rank": `{"result":{"tags":["zig","rust"],"types":["thread_theme","thread_theme"],"anchors":["a","a"]}}`,
	})

	out, err := runCmd(t, ts, "rank", "rust", "zig", "--anchor", "a")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}

	var body struct {
		StoryTags  []string `json:"storyTags"`
		TagTypes   []string `json:"tagTypes"`
		TagAnchors []string `json:"tagAnchors"`
	}
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if len(body.StoryTags) != 2 || len(body.TagTypes) != 2 || len(body.TagAnchors) != 2 {
		t.Fatalf("unaligned request: %+v", body)
	}
	if body.TagTypes[0] != "thread_theme" || body.TagAnchors[1] != "a" {
		t.Errorf("request = %+v", body)
	}
	if out != " 1. zig\n 2. rust\n" {
		t.Errorf("output = %q", out)
	}
}

func TestIntentCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /intent": `{"isSearch":true,"searchQuery":"rust","confidence":0.9}`,
	})

	if _, err := runCmd(t, ts, "intent", "find", "rust", "threads"); err != nil {
		t.Fatalf("intent: %v", err)
	}
	if !strings.Contains(ts.requests[0].Body, `"message":"find rust threads"`) {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestHistoryTags_Limit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /tags": `[{"id":3,"tag":"zig","type":"t","anchor":"c","timestamp":"2025-01-03T00:00:00Z"},` +
			`{"id":2,"tag":"go","type":"t","anchor":"b","timestamp":"2025-01-02T00:00:00Z"},` +
			`{"id":1,"tag":"rust","type":"t","anchor":"a","timestamp":"2025-01-01T00:00:00Z"}]`,
	})

	out, err := runCmd(t, ts, "history", "tags", "--limit", "2")
	if err != nil {
		t.Fatalf("history tags: %v", err)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("printed %d lines, want 2:\n%s", strings.Count(out, "\n"), out)
	}
	if strings.Contains(out, "rust") {
		t.Errorf("oldest tag printed past the limit:\n%s", out)
	}
}

func TestHistoryClear_NeedsConfirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{"DELETE /searches": ""})

	if _, err := runCmd(t, ts, "history", "searches", "--clear"); err != nil {
		t.Fatalf("history searches --clear: %v", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("made %d requests without --confirm, want 0", len(ts.requests))
	}

	if _, err := runCmd(t, ts, "history", "searches", "--clear", "--confirm"); err != nil {
		t.Fatalf("history searches --clear --confirm: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Method != http.MethodDelete || ts.requests[0].Path != "/searches" {
		t.Errorf("requests = %+v, want one DELETE /searches", ts.requests)
	}
}

func TestSettingValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0.4", "0.4"},
		{"true", "true"},
		{`"quoted"`, `"quoted"`},
		{"llama3.2:1b", `"llama3.2:1b"`},
		{"debug", `"debug"`},
	}
	for _, tt := range tests {
		if got := string(settingValue(tt.in)); got != tt.want {
			t.Errorf("settingValue(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSettingsSet(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /settings/chat_model": `{"chat":{"model":"llama3.2:1b"}}`,
	})

	if _, err := runCmd(t, ts, "settings", "set", "chat_model", "llama3.2:1b"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	if ts.requests[0].Body != `{"value":"llama3.2:1b"}` {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestSettingsSet_ServerRejects(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := runCmd(t, ts, "settings", "set", "bogus", "1")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "test message"); got != "test message" {
		t.Errorf("colorize with noColor=true = %q, want plain text", got)
	}

	noColor = false
	if got := colorize(colorGreen, "test message"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still readable after remove")
	}
}
