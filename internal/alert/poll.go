package alert

import (
	"context"
	"fmt"
	"time"

	"quake-alerts/internal/events"
	"quake-alerts/internal/matcher"
)

// PollResult is the outcome of HandleRecent.
type PollResult struct {
	InvocationID     string        `json:"invocation_id"`
	Strategy         Strategy      `json:"strategy"`
	TopicARN         string        `json:"topic_arn,omitempty"`
	Window           time.Duration `json:"-"`
	WindowText       string        `json:"window"`
	Subscribers      int           `json:"subscribers"`
	EarthquakesFound int           `json:"earthquakes_found"`
	Counts
}

// HandleRecent publishes every earthquake recorded within the request window.
// Subscriptions are reconciled once per pass, not once per earthquake.
func (s *Service) HandleRecent(ctx context.Context, req events.PollRequest) (*PollResult, error) {
	start := time.Now()

	if err := req.ResolveWindow(); err != nil {
		s.metrics.IncrementCustom("validation_errors")
		return nil, err
	}

	inv, err := s.resolve(overrides{subscribe: req.SubscribeEveryTime})
	if err != nil {
		s.metrics.IncrementCustom("configuration_errors")
		return nil, err
	}

	res := &PollResult{
		InvocationID: inv.id,
		Strategy:     inv.strategy,
		Window:       req.Window,
		WindowText:   req.Window.String(),
	}
	if inv.strategy == SharedTopic {
		res.TopicARN = inv.topicARN
	}

	err = s.handleRecent(ctx, inv, req.Window, res)
	s.recordOutcome(start, &res.Counts, err)
	if err != nil {
		inv.log.Error("Recent earthquakes poll failed", "window", req.Window, "error", err)
		return nil, err
	}

	inv.log.Info("Processed recent earthquakes",
		"window", req.Window,
		"strategy", inv.strategy,
		"subscribers", res.Subscribers,
		"earthquakes_found", res.EarthquakesFound,
		"published", res.Published,
		"subscribed_attempts", res.ReconcileAttempts,
		"pending_confirmations", res.Pending,
		"failed", len(res.Failed),
		"duration", time.Since(start),
	)
	return res, nil
}

func (s *Service) handleRecent(ctx context.Context, inv invocation, window time.Duration, res *PollResult) error {
	subs, err := inv.store.FetchSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch subscribers: %w", err)
	}
	quakes, err := inv.store.FetchRecentEvents(ctx, window)
	if err != nil {
		return fmt.Errorf("failed to fetch recent earthquakes: %w", err)
	}
	res.Subscribers = len(subs)
	res.EarthquakesFound = len(quakes)

	var pass *subscriberPass
	if inv.strategy == SubscriberTopic {
		pass = s.newSubscriberPass(inv, &res.Counts)
	} else if inv.subscribe {
		if err := s.reconcileShared(ctx, inv, subs, &res.Counts); err != nil {
			return err
		}
	}

	for _, eq := range quakes {
		countryName, err := inv.store.FetchCountryName(ctx, eq.CountryID)
		if err != nil {
			return fmt.Errorf("failed to resolve country name: %w", err)
		}
		eq.CountryName = countryName

		matched := matcher.Filter(subs, eq)
		if len(matched) == 0 && s.opts.SkipWhenNoMatch {
			inv.log.Debug("No subscriber matches earthquake, skipping", "earthquake_id", eq.ID)
			continue
		}

		if pass != nil {
			for _, sub := range matched {
				pass.publish(ctx, sub, eq)
			}
			continue
		}

		published, err := s.publisher.Publish(ctx, inv.topicARN, eq)
		if err != nil {
			return fmt.Errorf("failed to publish earthquake %d: %w", eq.ID, err)
		}
		if published {
			res.Published++
		}
	}
	return nil
}
