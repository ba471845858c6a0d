package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/techne/internal/prefs"
	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/router"
	"github.com/kalambet/techne/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: writing response failed", "error", err)
	}
}

// decodeBody reads a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeErr maps domain errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrValidation),
		errors.Is(err, router.ErrInvalidInput),
		errors.Is(err, ranking.ErrLengthMismatch),
		errors.Is(err, prefs.ErrInvalidValue),
		errors.Is(err, storage.ErrDraftID):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, prefs.ErrReadOnly):
		httpError(w, http.StatusForbidden, "permission_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrUnknownSetting):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		slog.Error("api: request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}
