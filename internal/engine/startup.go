package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and that every named model
// is available. When pull is true, missing models are downloaded with
// progress written to w; otherwise a missing model is an error.
func EnsureReady(ctx context.Context, e Engine, models []string, pull bool, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("model backend is not running; start Ollama or point model.base_url at a reachable server")
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		if !pull {
			return fmt.Errorf("model %s is not available", model)
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if f := p.Fraction(); f >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, f*100)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if errors.Is(err, ErrPullUnsupported) {
			return fmt.Errorf("model %s is not available and the backend cannot pull it", model)
		}
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
