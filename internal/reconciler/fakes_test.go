package reconciler

import (
	"context"
	"fmt"

	"quake-alerts/internal/broker"
)

// FakeBroker is a test fake for Broker.
type FakeBroker struct {
	SubscribeHandle string
	SubscribeErr    map[string]error
	PolicyErr       error

	Subscribed []string
	Policies   []PolicyCall
}

type PolicyCall struct {
	SubscriptionARN string
	PolicyJSON      string
}

func (f *FakeBroker) Subscribe(ctx context.Context, topicARN, protocol, endpoint string) (string, error) {
	f.Subscribed = append(f.Subscribed, endpoint)
	if err := f.SubscribeErr[endpoint]; err != nil {
		return "", err
	}
	if f.SubscribeHandle != "" {
		return f.SubscribeHandle, nil
	}
	return broker.PendingConfirmation, nil
}

func (f *FakeBroker) SetFilterPolicy(ctx context.Context, subscriptionARN, policyJSON string) error {
	f.Policies = append(f.Policies, PolicyCall{SubscriptionARN: subscriptionARN, PolicyJSON: policyJSON})
	return f.PolicyErr
}

// FakeLister serves canned pages keyed by the token that requests them.
type FakeLister struct {
	Pages    map[string]broker.Page
	Err      error
	Requests []string
}

func (f *FakeLister) ListSubscriptions(ctx context.Context, topicARN, nextToken string) (broker.Page, error) {
	f.Requests = append(f.Requests, nextToken)
	if f.Err != nil {
		return broker.Page{}, f.Err
	}
	page, ok := f.Pages[nextToken]
	if !ok {
		return broker.Page{}, fmt.Errorf("unexpected token %q", nextToken)
	}
	return page, nil
}
