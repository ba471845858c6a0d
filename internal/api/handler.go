// Package api exposes techne over a local HTTP API and an MCP server.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/techne/internal/conversation"
	"github.com/kalambet/techne/internal/prefs"
	"github.com/kalambet/techne/internal/router"
)

// ModelLister lists the models the inference backend can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Deps holds everything the HTTP handlers need. Conversations, Assistant and
// Models are optional; their routes answer 503 when unset.
type Deps struct {
	Router        *router.Router
	Prefs         *prefs.Manager
	Conversations *conversation.Manager
	Assistant     *conversation.Assistant
	Models        ModelLister
	Token         string
}

// NewHandler returns the techne HTTP API. Everything except /health needs a
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/rank", handleRank(deps))
		r.Post("/match", handleMatch(deps))
		r.Post("/intent", handleIntent(deps))
		r.Post("/messages", handleMessage(deps))

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", handleListTags(deps))
			r.Post("/", handleRecordTag(deps))
			r.Delete("/", handleClearTags(deps))
		})
		r.Route("/searches", func(r chi.Router) {
			r.Get("/", handleListSearches(deps))
			r.Post("/", handleRecordSearch(deps))
			r.Delete("/", handleClearSearches(deps))
		})

		r.Post("/search", handleSearch(deps))
		r.Get("/search/last", handleLastSearch(deps))
		r.Get("/events", handleEvents(deps))

		r.Get("/settings", handleGetSettings(deps))
		r.Get("/settings/{key}", handleGetSetting(deps))
		r.Put("/settings/{key}", handlePutSetting(deps))
		r.Delete("/settings/{key}", handleResetSetting(deps))
		r.Get("/models", handleModels(deps))

		r.Route("/conversations", func(r chi.Router) {
			r.Use(requireConversations(deps))
			r.Get("/", handleListConversations(deps))
			r.Post("/", handleStartConversation(deps))
			r.Post("/cleanup", handleCleanupConversations(deps))
			r.Get("/{id}", handleGetConversation(deps))
			r.Patch("/{id}", handleRenameConversation(deps))
			r.Delete("/{id}", handleDeleteConversation(deps))
			r.Post("/{id}/messages", handleSendMessage(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
