package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var _ Engine = (*OllamaEngine)(nil)

const (
	ollamaProbeTimeout = 2 * time.Second
	ollamaListTimeout  = 10 * time.Second
)

// OllamaEngine speaks the Ollama REST API (/api/chat, /api/embed,
// /api/tags, /api/pull). Generation requests carry no client timeout;
// callers bound them through ctx.
type OllamaEngine struct {
	baseURL string
	http    *http.Client
}

// NewOllamaEngine creates an OllamaEngine for the server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

// ollamaChatLine is both the non-streaming reply and one NDJSON line of a
// streamed one.
type ollamaChatLine struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

type ollamaPullLine struct {
	PullProgress
	Error string `json:"error,omitempty"`
}

func chatRequest(model string, messages []Message, opts ChatOptions, stream bool) ollamaChatRequest {
	req := ollamaChatRequest{Model: model, Messages: messages, Stream: stream}
	if opts != (ChatOptions{}) {
		req.Options = &ollamaOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
		}
	}
	return req
}

// send issues a request and fails on any non-200 reply. The caller owns
// the returned body.
func (e *OllamaEngine) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", path, err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return resp, nil
}

// eachLine decodes newline-delimited JSON from r into T, stopping when fn
// returns stop or an error.
func eachLine[T any](r io.Reader, fn func(T) (stop bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("decoding stream line: %w", err)
		}
		stop, err := fn(v)
		if err != nil || stop {
			return err
		}
	}
	return scanner.Err()
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	resp, err := e.send(ctx, http.MethodPost, "/api/chat", chatRequest(model, messages, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var line ollamaChatLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if line.Error != "" {
		return "", fmt.Errorf("chat: %s", line.Error)
	}
	return line.Message.Content, nil
}

func (e *OllamaEngine) ChatStream(ctx context.Context, model string, messages []Message, opts ChatOptions, onChunk func(string)) (string, error) {
	resp, err := e.send(ctx, http.MethodPost, "/api/chat", chatRequest(model, messages, opts, true))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = eachLine(resp.Body, func(line ollamaChatLine) (bool, error) {
		if line.Error != "" {
			return true, fmt.Errorf("chat: %s", line.Error)
		}
		if delta := line.Message.Content; delta != "" {
			full.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		}
		if line.Done {
			return true, nil
		}
		return false, ctx.Err()
	})
	return full.String(), err
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.send(ctx, http.MethodPost, "/api/embed", map[string]string{"model": model, "input": text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, errors.New("embed: empty embeddings array")
	}
	return out.Embeddings[0], nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	resp, err := e.send(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaListTimeout)
	defer cancel()
	resp, err := e.send(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HasModel treats a bare name as its ":latest" tag, so "all-minilm"
// matches "all-minilm:latest".
func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := e.send(ctx, http.MethodPost, "/api/pull", map[string]any{"name": name, "stream": true})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", name, err)
	}
	defer resp.Body.Close()

	return eachLine(resp.Body, func(line ollamaPullLine) (bool, error) {
		if line.Error != "" {
			return true, fmt.Errorf("pull %s: %s", name, line.Error)
		}
		if onProgress != nil {
			onProgress(line.PullProgress)
		}
		return false, nil
	})
}
