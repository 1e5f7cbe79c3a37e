// Package broker abstracts the pub/sub service that delivers alert emails.
package broker

import (
	"context"
	"strings"
)

// ProtocolEmail is the only delivery protocol the alert engine subscribes with.
const ProtocolEmail = "email"

// PendingConfirmation is the handle SNS returns from Subscribe while the
// endpoint has not clicked the confirmation link yet.
const PendingConfirmation = "pending confirmation"

// Attribute data types understood by SNS message filtering.
const (
	DataTypeString = "String"
	DataTypeNumber = "Number"
)

// Subscription is one entry of a topic's subscription list.
type Subscription struct {
	Endpoint        string
	Protocol        string
	SubscriptionARN string
}

// Page is one page of ListSubscriptions. An empty NextToken ends the listing.
type Page struct {
	Subscriptions []Subscription
	NextToken     string
}

// Attribute is a typed message attribute used for broker-side filtering.
type Attribute struct {
	Name     string
	DataType string
	Value    string
}

// Message is a single publish request.
type Message struct {
	TopicARN   string
	Subject    string
	Body       string
	Attributes []Attribute
}

// Client is the set of broker operations the alert engine uses.
// Implementations must be safe for concurrent use; one instance is shared by
// every invocation in a process.
type Client interface {
	// CreateTopic returns the ARN of the named topic, creating it if needed.
	CreateTopic(ctx context.Context, name string) (string, error)

	// Subscribe requests a subscription and returns its ARN, or a handle for
	// which IsPending is true while confirmation is outstanding.
	Subscribe(ctx context.Context, topicARN, protocol, endpoint string) (string, error)

	// SetFilterPolicy replaces the filter policy of a confirmed subscription.
	SetFilterPolicy(ctx context.Context, subscriptionARN, policyJSON string) error

	// ListSubscriptions returns one page of a topic's subscriptions.
	ListSubscriptions(ctx context.Context, topicARN, nextToken string) (Page, error)

	// Publish sends a message to a topic and returns the broker message ID.
	Publish(ctx context.Context, msg Message) (string, error)
}

// IsPending reports whether a subscription handle denotes a subscription that
// is still waiting for confirmation. SNS uses "pending confirmation" from
// Subscribe and "PendingConfirmation" in listings.
func IsPending(handle string) bool {
	return strings.HasPrefix(strings.ToLower(handle), "pending")
}
