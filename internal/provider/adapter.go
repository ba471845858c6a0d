// Package provider puts a single-flight chat queue and a batch embedding
// contract in front of an inference engine.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/techne/internal/engine"
	"github.com/kalambet/techne/internal/retrieval"
)

var (
	// ErrAborted is returned when OnModelLoadingComplete asks to stop
	// before generation.
	ErrAborted = errors.New("generation aborted after model load")

	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("provider closed")

	// ErrModelUnavailable wraps failures to find or download a model.
	ErrModelUnavailable = errors.New("model unavailable")
)

// ChatConfig selects the model and sampling parameters for one request.
type ChatConfig struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stream      bool
}

// ChatRequest is one queued generation. All callbacks are optional and run
// on the worker goroutine.
type ChatRequest struct {
	Messages []engine.Message
	Config   ChatConfig

	OnUpdate func(partial, chunk string)
	OnFinish func(final string)
	OnError  func(msg string)

	OnModelLoadingStart    func()
	OnModelLoadingProgress func(fraction float64)
	// OnModelLoadingComplete runs after the model is ready and before any
	// tokens are generated. Returning false aborts the request.
	OnModelLoadingComplete func() bool
}

// Options configures an Adapter.
type Options struct {
	DefaultModel string
	// PullMissing downloads models that are not present locally on first use.
	PullMissing bool
}

type chatResult struct {
	text string
	err  error
}

type job struct {
	ctx    context.Context
	req    ChatRequest
	result chan chatResult
}

// Adapter owns the engine. Chat requests are served one at a time in
// arrival order by a single worker goroutine; embeddings run in parallel.
type Adapter struct {
	eng      engine.Engine
	embedder *retrieval.Embedder
	opts     Options

	queue     chan *job
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// loaded is only touched by the worker goroutine.
	loaded map[string]bool
}

// New starts the worker goroutine. Call Close to stop it.
func New(eng engine.Engine, embedder *retrieval.Embedder, opts Options) *Adapter {
	a := &Adapter{
		eng:      eng,
		embedder: embedder,
		opts:     opts,
		queue:    make(chan *job, 64),
		done:     make(chan struct{}),
		loaded:   make(map[string]bool),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Close stops the worker after the in-flight request. Queued requests that
// have not started fail with ErrClosed.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() { close(a.done) })
	a.wg.Wait()
}

// Chat queues req and blocks until it has finished, returning the final
// text. Errors are reported both through OnError and the returned error;
// OnError is the channel UI callers should rely on.
func (a *Adapter) Chat(ctx context.Context, req ChatRequest) (string, error) {
	j := &job{ctx: ctx, req: req, result: make(chan chatResult, 1)}

	select {
	case <-a.done:
		return "", ErrClosed
	default:
	}

	select {
	case a.queue <- j:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-a.done:
		return "", ErrClosed
	}

	select {
	case r := <-j.result:
		return r.text, r.err
	case <-a.done:
		// The worker may have finished j just before stopping.
		select {
		case r := <-j.result:
			return r.text, r.err
		default:
			return "", ErrClosed
		}
	}
}

func (a *Adapter) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case j := <-a.queue:
			text, err := a.serve(j.ctx, j.req)
			j.result <- chatResult{text: text, err: err}
		}
	}
}

func (a *Adapter) serve(ctx context.Context, req ChatRequest) (string, error) {
	fail := func(err error) (string, error) {
		if req.OnError != nil {
			req.OnError(err.Error())
		}
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	model := req.Config.Model
	if model == "" {
		model = a.opts.DefaultModel
	}
	if model == "" {
		return fail(errors.New("no chat model configured"))
	}

	if !a.loaded[model] {
		if err := a.load(ctx, model, req); err != nil {
			slog.Error("model initialization failed", "model", model, "error", err)
			return fail(fmt.Errorf("%w: initializing %s: %w", ErrModelUnavailable, model, err))
		}
		a.loaded[model] = true
	}

	if req.OnModelLoadingComplete != nil && !req.OnModelLoadingComplete() {
		return fail(ErrAborted)
	}

	opts := engine.ChatOptions{
		Temperature: req.Config.Temperature,
		TopP:        req.Config.TopP,
		MaxTokens:   req.Config.MaxTokens,
	}

	var (
		text string
		err  error
	)
	if req.Config.Stream {
		var partial string
		text, err = a.eng.ChatStream(ctx, model, req.Messages, opts, func(chunk string) {
			partial += chunk
			if req.OnUpdate != nil {
				req.OnUpdate(partial, chunk)
			}
		})
	} else {
		text, err = a.eng.Chat(ctx, model, req.Messages, opts)
		if err == nil && req.OnUpdate != nil {
			req.OnUpdate(text, text)
		}
	}
	if err != nil {
		return fail(err)
	}

	if req.OnFinish != nil {
		req.OnFinish(text)
	}
	return text, nil
}

// load makes model available, pulling it when allowed. Loading callbacks
// fire only when the model was not yet present.
func (a *Adapter) load(ctx context.Context, model string, req ChatRequest) error {
	if a.eng.HasModel(ctx, model) {
		return nil
	}
	if !a.opts.PullMissing {
		return fmt.Errorf("model %s is not available locally", model)
	}

	if req.OnModelLoadingStart != nil {
		req.OnModelLoadingStart()
	}
	slog.Info("pulling model", "model", model)
	return a.eng.PullModel(ctx, model, func(p engine.PullProgress) {
		if f := p.Fraction(); f >= 0 && req.OnModelLoadingProgress != nil {
			req.OnModelLoadingProgress(f)
		}
	})
}

// Embed returns one vector per text. Failed items become zero vectors.
func (a *Adapter) Embed(ctx context.Context, texts []string) [][]float32 {
	return a.embedder.EmbedBatch(ctx, texts)
}

// EmbedModel returns the embedding model name.
func (a *Adapter) EmbedModel() string { return a.embedder.Model() }

// Engine exposes the underlying engine for status and model listing.
func (a *Adapter) Engine() engine.Engine { return a.eng }
