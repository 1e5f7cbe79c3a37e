package alert

import (
	"context"
	"fmt"

	"quake-alerts/internal/broker"
	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
	"quake-alerts/internal/reconciler"
)

// subscriberPass tracks per-subscriber topics over one invocation so each
// subscriber is provisioned and reconciled at most once, however many events
// the invocation publishes.
type subscriberPass struct {
	svc    *Service
	inv    invocation
	counts *Counts
	ready  map[int]string // subscriber ID -> topic ARN
	broken map[int]bool
}

func (s *Service) newSubscriberPass(inv invocation, c *Counts) *subscriberPass {
	return &subscriberPass{
		svc:    s,
		inv:    inv,
		counts: c,
		ready:  make(map[int]string),
		broken: make(map[int]bool),
	}
}

// publish sends eq to sub's own topic. Failures are counted against the
// subscriber and never returned.
func (p *subscriberPass) publish(ctx context.Context, sub database.Subscriber, eq events.Earthquake) {
	topicARN, ok := p.prepare(ctx, sub)
	if !ok {
		return
	}

	published, err := p.svc.publisher.Publish(ctx, topicARN, eq)
	if err != nil {
		p.inv.log.Warn("Failed to publish to subscriber topic",
			"subscriber_id", sub.ID,
			"topic_arn", topicARN,
			"earthquake_id", eq.ID,
			"error_code", broker.ErrorCode(err),
			"error", err,
		)
		p.counts.fail(sub.Email, err)
		return
	}
	if published {
		p.counts.Published++
	}
}

// prepare returns the subscriber's topic once it exists and, when enabled,
// their subscription to it has been reconciled.
func (p *subscriberPass) prepare(ctx context.Context, sub database.Subscriber) (string, bool) {
	if topicARN, ok := p.ready[sub.ID]; ok {
		return topicARN, true
	}
	if p.broken[sub.ID] {
		return "", false
	}

	topicARN, err := p.ensureTopic(ctx, sub)
	if err == nil && p.inv.subscribe {
		err = p.reconcile(ctx, topicARN, sub)
	}
	if err != nil {
		p.broken[sub.ID] = true
		return "", false
	}

	p.ready[sub.ID] = topicARN
	return topicARN, true
}

// ensureTopic returns the subscriber's topic ARN, creating the topic and
// writing its ARN back to the subscriber row the first time.
func (p *subscriberPass) ensureTopic(ctx context.Context, sub database.Subscriber) (string, error) {
	if sub.TopicARN != "" {
		return sub.TopicARN, nil
	}

	name := broker.SubscriberTopicName(p.inv.topicPrefix, sub.ID)
	topicARN, err := p.svc.broker.CreateTopic(ctx, name)
	if err == nil && topicARN == "" {
		err = fmt.Errorf("broker returned no ARN for topic %s", name)
	}
	if err != nil {
		p.inv.log.Warn("Failed to provision subscriber topic",
			"subscriber_id", sub.ID,
			"topic", name,
			"error", err,
		)
		p.counts.fail(sub.Email, err)
		return "", err
	}

	if err := p.inv.store.UpdateSubscriberTopicARN(ctx, sub.ID, topicARN); err != nil {
		// CreateTopic is idempotent per name, so the next invocation converges.
		p.inv.log.Warn("Failed to store subscriber topic ARN",
			"subscriber_id", sub.ID,
			"topic_arn", topicARN,
			"error", err,
		)
	}
	p.counts.Provisioned++

	p.inv.log.Info("Provisioned subscriber topic",
		"subscriber_id", sub.ID,
		"topic_arn", topicARN,
	)
	return topicARN, nil
}

// reconcile subscribes the subscriber's email to their own topic. The topic
// only carries their alerts, so no filter policy is managed.
func (p *subscriberPass) reconcile(ctx context.Context, topicARN string, sub database.Subscriber) error {
	dir, err := reconciler.ListByTopic(ctx, p.svc.broker, topicARN)
	if err != nil {
		p.inv.log.Warn("Failed to list subscriber topic",
			"subscriber_id", sub.ID,
			"topic_arn", topicARN,
			"error", err,
		)
		p.counts.fail(sub.Email, err)
		return err
	}

	sum := p.svc.reconciler.ReconcileAll(ctx, topicARN, []reconciler.Desired{{Endpoint: sub.Email}}, dir)
	p.counts.addSummary(sum)
	return sum.Err()
}
