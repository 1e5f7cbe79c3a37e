package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	topic := m.AddTopic("alerts")
	b := NewBreaker(m, BreakerSettings{FailureThreshold: 2, Cooldown: time.Hour})

	m.FailNext("Publish", "", errors.New("connection reset by peer"))
	m.FailNext("Publish", "", errors.New("connection reset by peer"))
	for i := 0; i < 2; i++ {
		if _, err := b.Publish(ctx, Message{TopicARN: topic}); err == nil {
			t.Fatalf("Publish() #%d error = nil, want injected failure", i+1)
		}
	}

	_, err := b.Publish(ctx, Message{TopicARN: topic})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Publish() with open breaker error = %v, want ErrUnavailable", err)
	}
	if got := m.Calls("Publish"); got != 2 {
		t.Errorf("broker Publish calls = %d, want 2", got)
	}
	if b.State() != "open" {
		t.Errorf("State() = %q, want open", b.State())
	}

	// The breaker is shared by every operation.
	if _, err := b.Subscribe(ctx, topic, ProtocolEmail, "a@example.com"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Subscribe() error = %v, want ErrUnavailable", err)
	}
}

func TestBreaker_ClientFaultsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	topic := m.AddTopic("alerts")
	b := NewBreaker(m, BreakerSettings{FailureThreshold: 2, Cooldown: time.Hour})

	invalid := &smithy.GenericAPIError{Code: "InvalidParameter", Message: "bad endpoint", Fault: smithy.FaultClient}
	for i := 0; i < 3; i++ {
		m.FailNext("Subscribe", "", invalid)
		if _, err := b.Subscribe(ctx, topic, ProtocolEmail, "bad"); err == nil {
			t.Fatal("Subscribe() error = nil, want InvalidParameter")
		}
	}

	handle, err := b.Subscribe(ctx, topic, ProtocolEmail, "a@example.com")
	if err != nil {
		t.Fatalf("Subscribe() after client faults error = %v", err)
	}
	if !IsPending(handle) {
		t.Errorf("handle = %q, want pending", handle)
	}
}

func TestBreaker_ThrottlingTrips(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	topic := m.AddTopic("alerts")
	b := NewBreaker(m, BreakerSettings{FailureThreshold: 1, Cooldown: 20 * time.Millisecond})

	m.FailNext("ListSubscriptions", "", &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient})
	if _, err := b.ListSubscriptions(ctx, topic, ""); err == nil {
		t.Fatal("ListSubscriptions() error = nil, want throttling")
	}
	if _, err := b.ListSubscriptions(ctx, topic, ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ListSubscriptions() error = %v, want ErrUnavailable", err)
	}

	// After the cooldown one probe goes through and closes the breaker.
	time.Sleep(40 * time.Millisecond)
	if _, err := b.ListSubscriptions(ctx, topic, ""); err != nil {
		t.Fatalf("probe ListSubscriptions() error = %v", err)
	}
	if b.State() != "closed" {
		t.Errorf("State() = %q, want closed", b.State())
	}
}

func TestBreaker_PassesResultsThrough(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := NewBreaker(m, DefaultBreakerSettings())

	topic, err := b.CreateTopic(ctx, "earthquake-alerts-1")
	if err != nil || topic != TopicARN("earthquake-alerts-1") {
		t.Fatalf("CreateTopic() = %q, %v", topic, err)
	}
	handle, _ := b.Subscribe(ctx, topic, ProtocolEmail, "a@example.com")
	if _, err := m.Confirm(topic, "a@example.com"); err != nil {
		t.Fatal(err)
	}
	handle, _ = b.Subscribe(ctx, topic, ProtocolEmail, "a@example.com")
	if err := b.SetFilterPolicy(ctx, handle, `{"country_id":["81"]}`); err != nil {
		t.Fatalf("SetFilterPolicy() error = %v", err)
	}
	page, err := b.ListSubscriptions(ctx, topic, "")
	if err != nil || len(page.Subscriptions) != 1 || page.Subscriptions[0].SubscriptionARN != handle {
		t.Errorf("ListSubscriptions() = %+v, %v", page, err)
	}
	if id, err := b.Publish(ctx, Message{TopicARN: topic}); err != nil || id == "" {
		t.Errorf("Publish() = %q, %v", id, err)
	}
}
