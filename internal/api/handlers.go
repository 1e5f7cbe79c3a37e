package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quake-alerts/internal/events"
	"quake-alerts/pkg/metrics"
)

// HandleAlert handles POST /api/v1/alerts. Each request runs under its own
// deadline of timeout.
func HandleAlert(svc EventHandler, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req events.Request
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		res, err := svc.HandleEvent(ctx, req)
		if err != nil {
			respondInvocationError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, AlertResponse{
			Message: "Processed earthquake notification event.",
			Result:  res,
		})
	}
}

// HandlePoll handles POST /api/v1/alerts/poll.
func HandlePoll(svc RecentHandler, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req events.PollRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		res, err := svc.HandleRecent(ctx, req)
		if err != nil {
			respondInvocationError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, PollResponse{
			Message:    "Processed recent earthquakes.",
			PollResult: res,
		})
	}
}

// HandleMetrics handles GET /api/v1/metrics.
func HandleMetrics(reader MetricsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		processes, err := reader.List(r.Context())
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Failed to list metrics", Error: err.Error()})
			return
		}

		resp := MetricsResponse{Processes: make([]*metrics.Snapshot, 0, len(processes))}
		for _, p := range processes {
			snap, err := reader.Get(r.Context(), p)
			if err != nil {
				// The snapshot may expire between List and Get.
				slog.Warn("Skipping process metrics", "process", p, "error", err)
				continue
			}
			resp.Processes = append(resp.Processes, snap)
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// HandleHealth handles GET /health.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
