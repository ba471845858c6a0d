package api

import (
	"net/http"

	"github.com/kalambet/techne/internal/router"
	"github.com/kalambet/techne/internal/storage"
)

func handleRank(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.RankTagsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		out, err := deps.Router.RankTags(r.Context(), req.Candidates())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, router.RankTagsResponse{Result: out})
	}
}

func handleMatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.TagMatchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		matches, err := deps.Router.MatchTags(r.Context(), req.InputText, req.Tags)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, router.TagMatchResponse{Matches: matches})
	}
}

func handleIntent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.DetectIntentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Router.DetectIntent(r.Context(), req.Message, nil)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleMessage accepts a raw router envelope. Failures are reported inside
// the response envelope, so the status is always 200 once the body parses.
func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env router.Envelope
		if !decodeBody(w, r, &env) {
			return
		}
		writeJSON(w, http.StatusOK, deps.Router.Dispatch(r.Context(), env))
	}
}

func handleListTags(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := deps.Router.Tags(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if tags == nil {
			tags = []storage.Tag{}
		}
		writeJSON(w, http.StatusOK, tags)
	}
}

func handleRecordTag(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.NewTagRequest
		if !decodeBody(w, r, &req) {
			return
		}
		tag, err := deps.Router.RecordTag(r.Context(), req.Tag, req.Type, req.Anchor)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	}
}

func handleClearTags(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Router.ClearTags(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListSearches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		searches, err := deps.Router.Searches(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if searches == nil {
			searches = []storage.Search{}
		}
		writeJSON(w, http.StatusOK, searches)
	}
}

func handleRecordSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.NewSearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Router.RecordSearch(r.Context(), req.Query); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
	}
}

func handleClearSearches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Router.ClearSearches(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
