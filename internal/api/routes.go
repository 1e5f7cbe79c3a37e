package api

import (
	"net/http"
	"time"
)

// Service is everything the HTTP API invokes.
type Service interface {
	EventHandler
	RecentHandler
}

// NewMux registers the API routes. A nil reader leaves /api/v1/metrics out.
func NewMux(svc Service, invocationTimeout time.Duration, reader MetricsReader) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/api/v1/alerts", HandleAlert(svc, invocationTimeout))
	mux.HandleFunc("/api/v1/alerts/poll", HandlePoll(svc, invocationTimeout))
	if reader != nil {
		mux.HandleFunc("/api/v1/metrics", HandleMetrics(reader))
	}
	return corsMiddleware(mux)
}

// corsMiddleware adds CORS headers so the operator dashboard can call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
