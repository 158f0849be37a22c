package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the "error" field of error responses.
const (
	ErrorValidation         = "validation_error"
	ErrorNotFound           = "not_found"
	ErrorSessionBusy        = "session_busy"
	ErrorNoTurn             = "no_turn_in_progress"
	ErrorUnauthorized       = "unauthorized"
	ErrorSpawnFailed        = "spawn_failed"
	ErrorHistoryUnavailable = "history_unavailable"
	ErrorInternal           = "internal_error"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given code and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// DecodeJSON decodes a request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
