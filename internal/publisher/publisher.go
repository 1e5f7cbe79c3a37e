// Package publisher formats earthquake alerts and publishes them to a topic.
package publisher

import (
	"context"
	"log/slog"

	"quake-alerts/internal/broker"
	"quake-alerts/internal/events"
)

// Sender is the part of broker.Client the publisher uses.
type Sender interface {
	Publish(ctx context.Context, msg broker.Message) (string, error)
}

// Publisher publishes one alert per (topic, event).
type Publisher struct {
	sender Sender
	ledger Ledger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLedger makes the publisher skip events the ledger has already seen.
func WithLedger(l Ledger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.ledger = l
		}
	}
}

// New creates a Publisher. Without WithLedger every call publishes.
func New(s Sender, opts ...Option) *Publisher {
	p := &Publisher{sender: s, ledger: NoOpLedger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends eq to topicARN. It returns false without error when the
// ledger reports the event was already published to that topic.
func (p *Publisher) Publish(ctx context.Context, topicARN string, eq events.Earthquake) (bool, error) {
	claimed, err := p.ledger.Claim(ctx, topicARN, eq.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		slog.Info("Earthquake already published to topic, skipping",
			"earthquake_id", eq.ID,
			"topic_arn", topicARN,
		)
		return false, nil
	}

	msg := Message(topicARN, eq)
	messageID, err := p.sender.Publish(ctx, msg)
	if err != nil {
		if rerr := p.ledger.Release(ctx, topicARN, eq.ID); rerr != nil {
			slog.Warn("Failed to release publish claim",
				"earthquake_id", eq.ID,
				"topic_arn", topicARN,
				"error", rerr,
			)
		}
		return false, err
	}

	slog.Info("Published earthquake alert",
		"earthquake_id", eq.ID,
		"topic_arn", topicARN,
		"message_id", messageID,
		"subject", msg.Subject,
	)
	return true, nil
}
