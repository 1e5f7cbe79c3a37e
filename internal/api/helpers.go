package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"quake-alerts/internal/alert"
	"quake-alerts/internal/broker"
	"quake-alerts/internal/events"
)

// maxBodyBytes bounds request bodies; invocation payloads are a few hundred bytes.
const maxBodyBytes = 64 << 10

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Message: message})
}

// respondInvocationError maps an alert service error to a status code.
func respondInvocationError(w http.ResponseWriter, err error) {
	var verr *events.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: "Missing required fields.",
			Missing: verr.Missing,
		})
	case errors.Is(err, alert.ErrConfiguration):
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Message: "Configuration error",
			Error:   err.Error(),
		})
	case errors.Is(err, broker.ErrUnavailable):
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Message: "Broker unavailable",
			Error:   err.Error(),
		})
	default:
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Message: "Internal error",
			Error:   err.Error(),
		})
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
