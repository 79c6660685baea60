package httputil

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
)

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, "Internal Server Error", http.StatusInternalServerError)
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	writeError(w, msg, http.StatusBadRequest)
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("not found", "message", msg, "error", err)
	} else {
		slog.Warn("not found", "message", msg)
	}
	writeError(w, msg, http.StatusNotFound)
}

// Error maps service error kinds to HTTP status codes.
func Error(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bracket.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		slog.Warn("not found", "error", err)
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bracket.ErrConflict):
		slog.Warn("conflict", "error", err)
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, bracket.ErrInvalidState):
		slog.Warn("invalid state", "error", err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, bracket.ErrUnauthorized):
		slog.Warn("unauthorized", "error", err)
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, bracket.ErrValidation):
		slog.Warn("validation", "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		InternalServerError(w, "unexpected error", err)
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
