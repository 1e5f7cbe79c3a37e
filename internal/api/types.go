// Package api exposes the alert service over HTTP.
package api

import (
	"context"

	"quake-alerts/internal/alert"
	"quake-alerts/internal/events"
	"quake-alerts/pkg/metrics"
)

// EventHandler handles a single-earthquake invocation.
type EventHandler interface {
	HandleEvent(ctx context.Context, req events.Request) (*alert.Result, error)
}

// RecentHandler handles a recent-earthquakes invocation.
type RecentHandler interface {
	HandleRecent(ctx context.Context, req events.PollRequest) (*alert.PollResult, error)
}

// MetricsReader reads process metrics snapshots.
type MetricsReader interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, process string) (*metrics.Snapshot, error)
}

// AlertResponse is the body of a successful POST /api/v1/alerts.
type AlertResponse struct {
	Message string `json:"message"`
	*alert.Result
}

// PollResponse is the body of a successful POST /api/v1/alerts/poll.
type PollResponse struct {
	Message string `json:"message"`
	*alert.PollResult
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Message string   `json:"message"`
	Error   string   `json:"error,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// MetricsResponse lists the snapshot of every reporting process.
type MetricsResponse struct {
	Processes []*metrics.Snapshot `json:"processes"`
}
