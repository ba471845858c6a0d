package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/techne/internal/conversation"
	"github.com/kalambet/techne/internal/search"
	"github.com/kalambet/techne/internal/storage"
)

func requireConversations(deps Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Conversations == nil || deps.Assistant == nil {
				httpError(w, http.StatusServiceUnavailable, "api_error", "conversations are not available")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			convs []storage.Conversation
			err   error
		)
		if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
			convs, err = deps.Conversations.Search(r.Context(), q)
		} else {
			convs, err = deps.Conversations.List(r.Context())
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Conversations.Open(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv.Conversation)
	}
}

type renameRequest struct {
	Title string `json:"title"`
}

func handleRenameConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renameRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Conversations.Rename(r.Context(), id, req.Title); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Conversations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCleanupConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Conversations.CleanupEmpty(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

type sendRequest struct {
	Message string `json:"message"`
}

// handleStartConversation answers the first message of a new conversation.
// The draft only reaches the store once the message is accepted.
func handleStartConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := deps.Prefs.ChatConfig(r.Context()).Model
		streamReply(w, r, deps, deps.Conversations.NewDraft(model, model))
	}
}

func handleSendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Conversations.Open(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		streamReply(w, r, deps, conv)
	}
}

type loadingEvent struct {
	Loading  bool    `json:"loading"`
	Fraction float64 `json:"fraction"`
}

type contentEvent struct {
	Content string `json:"content"`
}

// streamReply runs one assistant turn over SSE: content, loading and search
// events while it works, then done with the final reply.
func streamReply(w http.ResponseWriter, r *http.Request, deps Deps, sess conversation.Session) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return
	}

	sse, ok := newSSE(w)
	if !ok {
		return
	}
	send := func(event string, v any) {
		if err := sse.send(event, v); err != nil {
			slog.Debug("api: chat event not delivered", "event", event, "error", err)
		}
	}

	reply, err := deps.Assistant.Send(r.Context(), sess, req.Message, conversation.Sink{
		OnContent: func(content string) { send("content", contentEvent{Content: content}) },
		OnLoading: func(loading bool, f float64) { send("loading", loadingEvent{Loading: loading, Fraction: f}) },
		OnSearch:  func(p search.Progress) { send("search", p) },
	})
	if err != nil {
		slog.Error("api: assistant turn failed", "error", err)
		send("error", map[string]string{"error": conversation.FriendlyError(err)})
		return
	}
	send("done", reply)
}
