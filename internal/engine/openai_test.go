package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOpenAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if stream, _ := req["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"rust", ", go"} {
				chunk := map[string]any{
					"id":      "c1",
					"object":  "chat.completion.chunk",
					"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": part}}},
				}
				b, _ := json.Marshal(chunk)
				fmt.Fprintf(w, "data: %s\n\n", b)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "c1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": "hello from openai"},
			}},
		})
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{0.5, 0.25}}},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "gpt-4o-mini", "object": "model"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEngine_Chat(t *testing.T) {
	srv := newOpenAIServer(t)
	e := NewOpenAIEngine(srv.URL+"/v1", "test-key")

	got, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, ChatOptions{Temperature: 0.7})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello from openai" {
		t.Errorf("got %q, want %q", got, "hello from openai")
	}
}

func TestOpenAIEngine_ChatStream(t *testing.T) {
	srv := newOpenAIServer(t)
	e := NewOpenAIEngine(srv.URL+"/v1", "test-key")

	var chunks []string
	got, err := e.ChatStream(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, ChatOptions{}, func(s string) {
		chunks = append(chunks, s)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if got != "rust, go" {
		t.Errorf("got %q, want %q", got, "rust, go")
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %v, want 2", chunks)
	}
}

func TestOpenAIEngine_EmbedAndModels(t *testing.T) {
	srv := newOpenAIServer(t)
	e := NewOpenAIEngine(srv.URL+"/v1", "test-key")
	ctx := context.Background()

	vec, err := e.Embed(ctx, "text-embedding-3-small", "rust")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
	if !e.IsRunning(ctx) {
		t.Error("IsRunning() = false, want true")
	}
	if !e.HasModel(ctx, "gpt-4o-mini") || e.HasModel(ctx, "qwen2:0.5b") {
		t.Error("HasModel mismatch")
	}
	if err := e.PullModel(ctx, "x", nil); !errors.Is(err, ErrPullUnsupported) {
		t.Errorf("PullModel err = %v, want ErrPullUnsupported", err)
	}
}
