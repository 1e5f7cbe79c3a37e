package alert

import (
	"context"
	"fmt"
	"time"

	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
	"quake-alerts/internal/matcher"
	"quake-alerts/internal/policy"
	"quake-alerts/internal/reconciler"
)

// Result is the outcome of HandleEvent.
type Result struct {
	InvocationID string   `json:"invocation_id"`
	Strategy     Strategy `json:"strategy"`
	EarthquakeID int      `json:"earthquake_id"`
	CountryID    int      `json:"country_id"`
	CountryName  string   `json:"country_name"`
	Magnitude    float64  `json:"magnitude"`
	TopicARN     string   `json:"topic_arn,omitempty"`
	Matched      int      `json:"matched"`
	Counts
}

// HandleEvent processes one earthquake. Validation and configuration errors
// are returned before any store or broker call. A store or shared-topic
// broker failure aborts the invocation; per-subscriber failures are counted
// in the result.
func (s *Service) HandleEvent(ctx context.Context, req events.Request) (*Result, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		s.metrics.IncrementCustom("validation_errors")
		return nil, err
	}

	inv, err := s.resolve(overrides{
		topicARN:    req.TopicARN,
		topicPrefix: req.TopicPrefix,
		strategy:    req.Strategy,
		subscribe:   req.SubscribeEveryTime,
		tables: database.Tables{
			Schema:      req.Schema,
			Subscribers: req.SubscriberTable,
			Countries:   req.CountryTable,
		},
	})
	if err != nil {
		s.metrics.IncrementCustom("configuration_errors")
		return nil, err
	}

	eq := req.Earthquake()
	res := &Result{
		InvocationID: inv.id,
		Strategy:     inv.strategy,
		EarthquakeID: eq.ID,
		CountryID:    eq.CountryID,
		Magnitude:    eq.Magnitude,
	}
	if inv.strategy == SharedTopic {
		res.TopicARN = inv.topicARN
	}

	err = s.handleEvent(ctx, inv, eq, res)
	s.recordOutcome(start, &res.Counts, err)
	if err != nil {
		inv.log.Error("Earthquake alert failed",
			"earthquake_id", eq.ID,
			"error", err,
		)
		return nil, err
	}

	inv.log.Info("Processed earthquake notification event",
		"earthquake_id", eq.ID,
		"strategy", inv.strategy,
		"matched", res.Matched,
		"published", res.Published,
		"subscribed_attempts", res.ReconcileAttempts,
		"pending_confirmations", res.Pending,
		"failed", len(res.Failed),
		"duration", time.Since(start),
	)
	return res, nil
}

func (s *Service) handleEvent(ctx context.Context, inv invocation, eq events.Earthquake, res *Result) error {
	countryName, err := inv.store.FetchCountryName(ctx, eq.CountryID)
	if err != nil {
		return fmt.Errorf("failed to resolve country name: %w", err)
	}
	eq.CountryName = countryName
	res.CountryName = countryName

	subs, err := inv.store.FetchSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch subscribers: %w", err)
	}

	matched := matcher.Filter(subs, eq)
	res.Matched = len(matched)

	if len(matched) == 0 && s.opts.SkipWhenNoMatch {
		inv.log.Info("No subscriber matches earthquake, skipping",
			"earthquake_id", eq.ID,
			"subscribers", len(subs),
		)
		return nil
	}

	if inv.strategy == SubscriberTopic {
		pass := s.newSubscriberPass(inv, &res.Counts)
		for _, sub := range matched {
			pass.publish(ctx, sub, eq)
		}
		return nil
	}

	if inv.subscribe {
		if err := s.reconcileShared(ctx, inv, subs, &res.Counts); err != nil {
			return err
		}
	}

	published, err := s.publisher.Publish(ctx, inv.topicARN, eq)
	if err != nil {
		return fmt.Errorf("failed to publish earthquake %d: %w", eq.ID, err)
	}
	if published {
		res.Published = 1
	}
	return nil
}

// reconcileShared runs one reconciliation pass of every subscriber against
// the shared topic, each with a filter policy built from their preferences.
func (s *Service) reconcileShared(ctx context.Context, inv invocation, subs []database.Subscriber, c *Counts) error {
	dir, err := reconciler.ListByTopic(ctx, s.broker, inv.topicARN)
	if err != nil {
		return err
	}

	desired := make([]reconciler.Desired, 0, len(subs))
	for _, sub := range subs {
		p := policy.Build(sub.CountryID, sub.MinMagnitude)
		desired = append(desired, reconciler.Desired{Endpoint: sub.Email, Policy: &p})
	}

	sum := s.reconciler.ReconcileAll(ctx, inv.topicARN, desired, dir)
	c.addSummary(sum)

	inv.log.Debug("Reconciled shared topic subscriptions",
		"topic_arn", inv.topicARN,
		"directory_size", dir.Len(),
		"attempts", sum.Attempts,
		"newly_subscribed", sum.Newly,
		"pending_confirmations", sum.Pending,
		"failed", len(sum.Failed),
	)
	return nil
}
