package reconciler

import (
	"context"
	"fmt"

	"quake-alerts/internal/broker"
)

// State is the subscription state of one endpoint on one topic.
type State int

const (
	Absent State = iota
	Pending
	Confirmed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	default:
		return "absent"
	}
}

// StateOf classifies a subscription handle.
func StateOf(handle string) State {
	switch {
	case handle == "":
		return Absent
	case broker.IsPending(handle):
		return Pending
	default:
		return Confirmed
	}
}

// Directory is a snapshot of a topic's subscriptions keyed by endpoint.
// It is not safe for concurrent use; each reconciliation pass owns its own.
type Directory struct {
	handles map[string]string
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{handles: make(map[string]string)}
}

// Lookup returns the handle recorded for endpoint and its state. Endpoints
// never seen are Absent.
func (d *Directory) Lookup(endpoint string) (string, State) {
	h := d.handles[endpoint]
	return h, StateOf(h)
}

// Record stores handle for endpoint. A pending handle never replaces a
// confirmed one.
func (d *Directory) Record(endpoint, handle string) {
	if handle == "" {
		return
	}
	if StateOf(handle) == Pending && StateOf(d.handles[endpoint]) == Confirmed {
		return
	}
	d.handles[endpoint] = handle
}

// Len returns the number of endpoints in the snapshot.
func (d *Directory) Len() int {
	return len(d.handles)
}

// Lister reads one page of a topic's subscriptions.
type Lister interface {
	ListSubscriptions(ctx context.Context, topicARN, nextToken string) (broker.Page, error)
}

// ListByTopic builds the directory of topicARN, following next tokens until
// the listing is exhausted. When an endpoint appears more than once the
// confirmed handle wins, otherwise the first one seen is kept.
func ListByTopic(ctx context.Context, l Lister, topicARN string) (*Directory, error) {
	dir := NewDirectory()
	token := ""
	for {
		page, err := l.ListSubscriptions(ctx, topicARN, token)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, s := range page.Subscriptions {
			if s.Endpoint == "" {
				continue
			}
			if _, state := dir.Lookup(s.Endpoint); state != Absent {
				if state == Confirmed || StateOf(s.SubscriptionARN) != Confirmed {
					continue
				}
			}
			dir.Record(s.Endpoint, s.SubscriptionARN)
		}
		if page.NextToken == "" {
			return dir, nil
		}
		if page.NextToken == token {
			return nil, fmt.Errorf("subscription listing of %s did not advance past token %q", topicARN, token)
		}
		token = page.NextToken
	}
}
