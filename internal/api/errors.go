// Package api serves the dashboard statistics queries over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes returned in error bodies.
const (
	ErrCodeValidation = "validation_error"
	ErrCodeBadRequest = "bad_request"
	ErrCodeInternal   = "internal_error"
)

// ErrorResponse is the body of every failed request:
// {"error": {"code": "...", "message": "...", "field": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, status int, detail ErrorDetail) {
	writeJSON(w, status, ErrorResponse{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
