package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do but log.
		slog.Error("failed encoding response", "error", err)
	}
}

// writeError maps a domain error to an HTTP status and JSON body.
//
// Ownership mismatches answer 404 on purpose: the API does not reveal
// whether an ID exists under a different owner.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		resp.RequestID = id
	}

	status := http.StatusInternalServerError
	var ve core.ValidationError
	var bue *core.BalanceUpdateError
	var ae *core.AggregationError

	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrOwnershipMismatch):
		status = http.StatusNotFound
		resp.Error = "not found"
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		resp.Field = ve.Field
	case core.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &bue), errors.As(err, &ae):
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			"error", err, "method", r.Method, "url", r.URL.Path)
		// Internal details stay in the logs.
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}

// writeBadRequest is for malformed payloads and parameters, before any
// domain validation runs.
func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		resp.RequestID = id
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
