package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/techne/internal/storage"
)

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Prefs.Get(r.Context()))
	}
}

func handleGetSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := storage.SettingKey(chi.URLParam(r, "key"))
		v, err := deps.Prefs.Value(r.Context(), key)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
	}
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

func handlePutSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := storage.SettingKey(chi.URLParam(r, "key"))
		var req settingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Value) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}
		if err := deps.Prefs.SetJSON(r.Context(), key, req.Value); err != nil {
			writeErr(w, err)
			return
		}
		v, _ := deps.Prefs.Value(r.Context(), key)
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
	}
}

func handleResetSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := storage.SettingKey(chi.URLParam(r, "key"))
		if err := deps.Prefs.Reset(r.Context(), key); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "no inference backend configured")
			return
		}
		models, err := deps.Models.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		if models == nil {
			models = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	}
}
