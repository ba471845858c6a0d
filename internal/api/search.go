package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/techne/internal/search"
)

type searchRequest struct {
	Query string `json:"query"`
}

// handleSearch streams progress events followed by a single result event.
// With ?stream=false it answers with the result as plain JSON.
func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if r.URL.Query().Get("stream") == "false" {
			writeJSON(w, http.StatusOK, deps.Router.Search(r.Context(), req.Query, nil))
			return
		}

		sse, ok := newSSE(w)
		if !ok {
			return
		}
		res := deps.Router.Search(r.Context(), req.Query, func(p search.Progress) {
			if err := sse.send("progress", p); err != nil {
				slog.Debug("api: search progress not delivered", "error", err)
			}
		})
		if err := sse.send("result", res); err != nil {
			slog.Debug("api: search result not delivered", "error", err)
		}
	}
}

type lastSearchResponse struct {
	search.LastSearch
	Age string `json:"age"`
}

func handleLastSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last, ok := deps.Router.LastSearch(r.Context())
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no recent search")
			return
		}
		writeJSON(w, http.StatusOK, lastSearchResponse{
			LastSearch: last,
			Age:        search.FormatAge(last.Age(time.Now())),
		})
	}
}

type eventPayload struct {
	Type string `json:"type"`
}

// handleEvents streams change notifications until the client disconnects.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, unsubscribe := deps.Router.Notifier().Subscribe(16)
		defer unsubscribe()

		sse, ok := newSSE(w)
		if !ok {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case e, open := <-events:
				if !open {
					return
				}
				if err := sse.send("update", eventPayload{Type: string(e)}); err != nil {
					return
				}
			}
		}
	}
}
