package engine

import (
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
	pullErr   error
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ ChatOptions) (string, error) {
	return "", nil
}
func (m *mockEngine) ChatStream(_ context.Context, _ string, _ []Message, _ ChatOptions, _ func(string)) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	if m.pullErr != nil {
		return m.pullErr
	}
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "downloading", Total: 10, Completed: 5})
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"qwen2:0.5b": true, "all-minilm": true},
	}
	err := EnsureReady(context.Background(), m, []string{"qwen2:0.5b", "all-minilm"}, true, io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissingOnce(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"qwen2:0.5b": true},
	}
	var out strings.Builder
	err := EnsureReady(context.Background(), m, []string{"qwen2:0.5b", "all-minilm", "all-minilm"}, true, &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "all-minilm" {
		t.Errorf("expected one pull of all-minilm, got %v", m.pulled)
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Errorf("progress output missing percentage:\n%s", out.String())
	}
}

func TestEnsureReady_MissingWithoutPull(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, []string{"all-minilm"}, false, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "all-minilm") {
		t.Fatalf("err = %v, want mention of all-minilm", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("pulled %v with pull disabled", m.pulled)
	}
}

func TestEnsureReady_PullUnsupported(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}, pullErr: ErrPullUnsupported}
	err := EnsureReady(context.Background(), m, []string{"gpt-4o-mini"}, true, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "cannot pull") {
		t.Errorf("err = %v, want cannot pull", err)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, []string{"qwen2:0.5b"}, true, io.Discard)
	if err == nil {
		t.Fatal("expected error when engine is down")
	}
}

func TestPullProgressFraction(t *testing.T) {
	tests := []struct {
		p    PullProgress
		want float64
	}{
		{PullProgress{Total: 200, Completed: 50}, 0.25},
		{PullProgress{Total: 0, Completed: 50}, -1},
		{PullProgress{Total: 10, Completed: 20}, 1},
	}
	for _, tt := range tests {
		if got := tt.p.Fraction(); got != tt.want {
			t.Errorf("Fraction(%+v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
