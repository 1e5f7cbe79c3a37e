// Package events defines the earthquake event and the invocation payloads
// accepted over HTTP and Kafka.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Earthquake is a single recorded earthquake.
type Earthquake struct {
	ID          int     `json:"earthquake_id"`
	CountryID   int     `json:"country_id"`
	Magnitude   float64 `json:"magnitude"`
	OccurredAt  string  `json:"occurred_at"` // ISO-8601
	Place       string  `json:"place,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
}

// Request is the payload of a single-event invocation. Required fields are
// pointers so that an absent field can be told apart from a zero value.
type Request struct {
	EarthquakeID *int     `json:"earthquake_id"`
	CountryID    *int     `json:"country_id"`
	Magnitude    *float64 `json:"magnitude"`
	OccurredAt   *string  `json:"occurred_at"`
	Place        string   `json:"place,omitempty"`

	// Optional overrides of the deployment defaults.
	TopicARN           string `json:"topic_arn,omitempty"`
	TopicPrefix        string `json:"topic_prefix,omitempty"`
	Strategy           string `json:"strategy,omitempty"`
	Schema             string `json:"schema,omitempty"`
	SubscriberTable    string `json:"subscriber_table,omitempty"`
	CountryTable       string `json:"country_table,omitempty"`
	SubscribeEveryTime *bool  `json:"subscribe_every_time,omitempty"`
}

// ValidationError reports required request fields that were missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Validate checks that every required field is present.
func (r *Request) Validate() error {
	var missing []string
	if r.EarthquakeID == nil {
		missing = append(missing, "earthquake_id")
	}
	if r.CountryID == nil {
		missing = append(missing, "country_id")
	}
	if r.Magnitude == nil {
		missing = append(missing, "magnitude")
	}
	if r.OccurredAt == nil || strings.TrimSpace(*r.OccurredAt) == "" {
		missing = append(missing, "occurred_at")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Earthquake converts a validated request into an Earthquake.
// It panics if called on a request that fails Validate.
func (r *Request) Earthquake() Earthquake {
	return Earthquake{
		ID:         *r.EarthquakeID,
		CountryID:  *r.CountryID,
		Magnitude:  *r.Magnitude,
		OccurredAt: *r.OccurredAt,
		Place:      strings.TrimSpace(r.Place),
	}
}

// DefaultPollWindow is how far back a poll looks for new earthquakes.
const DefaultPollWindow = 5 * time.Minute

// PollRequest is the payload of a recent-earthquakes invocation.
type PollRequest struct {
	Window             time.Duration `json:"-"`
	WindowText         string        `json:"window,omitempty"` // e.g. "5m"
	SubscribeEveryTime *bool         `json:"subscribe_every_time,omitempty"`
}

// ResolveWindow parses WindowText into Window, applying DefaultPollWindow when
// neither is set.
func (p *PollRequest) ResolveWindow() error {
	if p.WindowText != "" {
		d, err := time.ParseDuration(p.WindowText)
		if err != nil || d <= 0 {
			return &ValidationError{Missing: []string{"window (positive duration such as 5m)"}}
		}
		p.Window = d
	}
	if p.Window <= 0 {
		p.Window = DefaultPollWindow
	}
	return nil
}
