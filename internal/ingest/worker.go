// Package ingest runs background jobs that precompute embeddings for the
// user's tag and search history.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/techne/internal/storage"
)

// JobEmbedHistory embeds history texts so later rankings hit the cache.
const JobEmbedHistory = "embed_history"

// EmbedPayload is the JSON payload of an embed_history job.
type EmbedPayload struct {
	Texts []string `json:"texts"`
}

// Enqueuer is the write side of the job queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	Enqueuer
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

var _ JobStore = (*storage.Store)(nil)

// TextEmbedder generates and caches embeddings for text.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EnqueueEmbed queues an embed_history job for the non-blank texts.
// It is a no-op when nothing remains after trimming.
func EnqueueEmbed(ctx context.Context, store Enqueuer, texts ...string) error {
	var clean []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	payload, err := json.Marshal(EmbedPayload{Texts: clean})
	if err != nil {
		return err
	}
	return store.EnqueueJob(ctx, storage.Job{
		ID:          uuid.NewString(),
		Type:        JobEmbedHistory,
		PayloadJSON: string(payload),
	})
}

// Worker processes embed_history jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder TextEmbedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder TextEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_history job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobEmbedHistory})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload EmbedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if len(payload.Texts) == 0 {
		return errors.New("payload has no texts")
	}

	var failed []string
	for _, text := range payload.Texts {
		if _, err := w.embedder.Embed(ctx, text); err != nil {
			w.logger.Debug("embedding history text failed", "text", text, "error", err)
			failed = append(failed, text)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("embedding %d of %d texts failed", len(failed), len(payload.Texts))
	}
	return nil
}
