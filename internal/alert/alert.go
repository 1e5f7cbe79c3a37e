// Package alert orchestrates one alert invocation: load subscribers, match
// them against the earthquake, reconcile their email subscriptions and
// publish the alert.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quake-alerts/internal/broker"
	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
	"quake-alerts/internal/metrics"
	"quake-alerts/internal/publisher"
	"quake-alerts/internal/reconciler"
)

// ErrConfiguration marks an invocation that cannot run with the resolved
// settings, such as a missing topic ARN. It is never a validation error.
var ErrConfiguration = errors.New("configuration error")

// Strategy selects how alerts reach subscribers.
type Strategy string

const (
	// SharedTopic publishes each event once to one topic; the broker fans it
	// out through every subscription's filter policy.
	SharedTopic Strategy = "shared"
	// SubscriberTopic gives every subscriber their own topic and publishes
	// once per matched subscriber.
	SubscriberTopic Strategy = "per-subscriber"
)

// ParseStrategy parses a strategy name. An empty name yields "".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "shared", "shared-topic":
		return SharedTopic, nil
	case "per-subscriber", "subscriber-topic", "per_subscriber":
		return SubscriberTopic, nil
	default:
		return "", fmt.Errorf("%w: unknown alert strategy %q", ErrConfiguration, s)
	}
}

// Store is the data the service reads and the one write it makes.
type Store interface {
	FetchSubscribers(ctx context.Context) ([]database.Subscriber, error)
	FetchCountryName(ctx context.Context, countryID int) (string, error)
	FetchRecentEvents(ctx context.Context, window time.Duration) ([]events.Earthquake, error)
	UpdateSubscriberTopicARN(ctx context.Context, subscriberID int, topicARN string) error
}

// Options are the deployment defaults. Requests may override most of them.
type Options struct {
	Strategy           Strategy
	TopicARN           string
	TopicPrefix        string
	SubscribeEveryTime bool
	// SkipWhenNoMatch skips reconciliation and publishing for an event no
	// subscriber matches.
	SkipWhenNoMatch bool
}

// Service handles alert invocations. It holds no per-invocation state and is
// safe for concurrent use when its collaborators are.
type Service struct {
	store      Store
	broker     broker.Client
	reconciler *reconciler.Reconciler
	publisher  *publisher.Publisher
	ledger     publisher.Ledger
	metrics    metrics.Recorder
	scope      func(database.Tables) Store
	opts       Options
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithLedger sets the publish ledger.
func WithLedger(l publisher.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithTableScope enables per-request table overrides. fn returns a store
// reading from the given tables.
func WithTableScope(fn func(database.Tables) Store) Option {
	return func(s *Service) { s.scope = fn }
}

// NewService creates a Service.
func NewService(store Store, client broker.Client, opts Options, options ...Option) *Service {
	if opts.Strategy == "" {
		opts.Strategy = SharedTopic
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = broker.DefaultTopicPrefix
	}

	s := &Service{
		store:      store,
		broker:     client,
		reconciler: reconciler.New(client),
		metrics:    metrics.NoOp{},
		opts:       opts,
	}
	for _, opt := range options {
		opt(s)
	}
	s.publisher = publisher.New(client, publisher.WithLedger(s.ledger))
	return s
}

// Counts are the operational counters of an invocation.
type Counts struct {
	Published         int      `json:"published"`
	ReconcileAttempts int      `json:"subscribed_attempts"`
	NewlySubscribed   int      `json:"newly_subscribed"`
	AlreadySubscribed int      `json:"already_subscribed"`
	Pending           int      `json:"pending_confirmations"`
	PoliciesApplied   int      `json:"filter_policies_set"`
	Provisioned       int      `json:"topics_provisioned"`
	Failed            []string `json:"failed,omitempty"`
	Errors            []error  `json:"-"`
}

func (c *Counts) addSummary(sum reconciler.Summary) {
	c.ReconcileAttempts += sum.Attempts
	c.NewlySubscribed += sum.Newly
	c.AlreadySubscribed += sum.Already
	c.Pending += sum.Pending
	c.PoliciesApplied += sum.PoliciesApplied
	c.Failed = append(c.Failed, sum.Failed...)
	c.Errors = append(c.Errors, sum.Errors...)
}

func (c *Counts) fail(endpoint string, err error) {
	c.Failed = append(c.Failed, endpoint)
	c.Errors = append(c.Errors, fmt.Errorf("%s: %w", endpoint, err))
}

// invocation is the resolved configuration of one call.
type invocation struct {
	id          string
	strategy    Strategy
	topicARN    string
	topicPrefix string
	subscribe   bool
	store       Store
	log         *slog.Logger
}

// overrides are the request fields that may replace deployment defaults.
type overrides struct {
	topicARN    string
	topicPrefix string
	strategy    string
	subscribe   *bool
	tables      database.Tables
}

func (s *Service) resolve(o overrides) (invocation, error) {
	id := uuid.NewString()
	inv := invocation{
		id:          id,
		strategy:    s.opts.Strategy,
		topicARN:    s.opts.TopicARN,
		topicPrefix: s.opts.TopicPrefix,
		subscribe:   s.opts.SubscribeEveryTime,
		store:       s.store,
		log:         slog.With("invocation_id", id),
	}

	strategy, err := ParseStrategy(o.strategy)
	if err != nil {
		return inv, err
	}
	if strategy != "" {
		inv.strategy = strategy
	}
	if o.topicARN != "" {
		inv.topicARN = o.topicARN
	}
	if o.topicPrefix != "" {
		inv.topicPrefix = o.topicPrefix
	}
	if o.subscribe != nil {
		inv.subscribe = *o.subscribe
	}

	if inv.strategy == SharedTopic && inv.topicARN == "" {
		return inv, fmt.Errorf("%w: SNS topic ARN is not set", ErrConfiguration)
	}

	if !o.tables.IsZero() {
		if s.scope == nil {
			return inv, fmt.Errorf("%w: table overrides are not supported by this store", ErrConfiguration)
		}
		inv.store = s.scope(o.tables)
	}
	return inv, nil
}

func (s *Service) recordOutcome(start time.Time, c *Counts, err error) {
	if err != nil {
		s.metrics.RecordInvocationError()
		return
	}
	s.metrics.RecordInvocation(time.Since(start))
	s.metrics.RecordPublished(c.Published)
	s.metrics.RecordReconcile(c.ReconcileAttempts, c.Pending, len(c.Failed))
}
