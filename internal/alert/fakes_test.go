package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
)

// FakeStore is a test fake for Store.
type FakeStore struct {
	Subscribers []database.Subscriber
	Countries   map[int]string
	Recent      []events.Earthquake

	SubscribersErr error
	CountryErr     error
	RecentErr      error
	UpdateErr      error

	Calls   []string
	Updates []TopicUpdate
	Window  time.Duration
}

type TopicUpdate struct {
	SubscriberID int
	TopicARN     string
}

func (f *FakeStore) FetchSubscribers(ctx context.Context) ([]database.Subscriber, error) {
	f.Calls = append(f.Calls, "FetchSubscribers")
	if f.SubscribersErr != nil {
		return nil, f.SubscribersErr
	}
	return append([]database.Subscriber(nil), f.Subscribers...), nil
}

func (f *FakeStore) FetchCountryName(ctx context.Context, countryID int) (string, error) {
	f.Calls = append(f.Calls, "FetchCountryName")
	if f.CountryErr != nil {
		return "", f.CountryErr
	}
	return f.Countries[countryID], nil
}

func (f *FakeStore) FetchRecentEvents(ctx context.Context, window time.Duration) ([]events.Earthquake, error) {
	f.Calls = append(f.Calls, "FetchRecentEvents")
	f.Window = window
	if f.RecentErr != nil {
		return nil, f.RecentErr
	}
	return append([]events.Earthquake(nil), f.Recent...), nil
}

func (f *FakeStore) UpdateSubscriberTopicARN(ctx context.Context, subscriberID int, topicARN string) error {
	f.Calls = append(f.Calls, "UpdateSubscriberTopicARN")
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.Updates = append(f.Updates, TopicUpdate{SubscriberID: subscriberID, TopicARN: topicARN})
	for i := range f.Subscribers {
		if f.Subscribers[i].ID == subscriberID {
			f.Subscribers[i].TopicARN = topicARN
		}
	}
	return nil
}

// FakeRecorder is a test fake for metrics.Recorder.
type FakeRecorder struct {
	mu          sync.Mutex
	Invocations int
	Errors      int
	Published   int
	Attempts    int
	Pending     int
	Failed      int
	Custom      map[string]int
}

func (f *FakeRecorder) RecordInvocation(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invocations++
}

func (f *FakeRecorder) RecordInvocationError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors++
}

func (f *FakeRecorder) RecordPublished(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published += n
}

func (f *FakeRecorder) RecordReconcile(attempts, pending, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attempts += attempts
	f.Pending += pending
	f.Failed += failed
}

func (f *FakeRecorder) IncrementCustom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Custom == nil {
		f.Custom = make(map[string]int)
	}
	f.Custom[name]++
}

// FakeLedger is an in-memory publisher.Ledger.
type FakeLedger struct {
	seen map[string]bool
}

func (f *FakeLedger) key(topicARN string, eventID int) string {
	return fmt.Sprintf("%s#%d", topicARN, eventID)
}

func (f *FakeLedger) Claim(ctx context.Context, topicARN string, eventID int) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	k := f.key(topicARN, eventID)
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

func (f *FakeLedger) Release(ctx context.Context, topicARN string, eventID int) error {
	delete(f.seen, f.key(topicARN, eventID))
	return nil
}
