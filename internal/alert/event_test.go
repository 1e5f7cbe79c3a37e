package alert

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"quake-alerts/internal/broker"
	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }
func boolPtr(v bool) *bool        { return &v }

func quakeRequest(countryID int, magnitude float64) events.Request {
	return events.Request{
		EarthquakeID: intPtr(1001),
		CountryID:    intPtr(countryID),
		Magnitude:    floatPtr(magnitude),
		OccurredAt:   strPtr("2026-02-06T00:00:00Z"),
		Place:        "Near Tokyo",
	}
}

func testSubscribers() []database.Subscriber {
	return []database.Subscriber{
		{ID: 1, Name: "Japan", Email: "japan@example.com", CountryID: intPtr(81), MinMagnitude: floatPtr(2.0)},
		{ID: 2, Name: "Any", Email: "any@example.com"},
		{ID: 3, Name: "US", Email: "us@example.com", CountryID: intPtr(1)},
	}
}

func newSharedService(t *testing.T, store *FakeStore, opts ...Option) (*Service, *broker.Memory, string) {
	t.Helper()
	mem := broker.NewMemory()
	topic := mem.AddTopic("earthquake-alerts")
	svc := NewService(store, mem, Options{TopicARN: topic, SubscribeEveryTime: true}, opts...)
	return svc, mem, topic
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", "", false},
		{"shared", SharedTopic, false},
		{"Shared-Topic", SharedTopic, false},
		{"per-subscriber", SubscriberTopic, false},
		{"subscriber-topic", SubscriberTopic, false},
		{"fanout", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v is not ErrConfiguration", err)
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHandleEvent_ValidationBeforeSideEffects(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()}
	rec := &FakeRecorder{}
	svc, mem, _ := newSharedService(t, store, WithMetrics(rec))

	req := quakeRequest(81, 5)
	req.Magnitude = nil
	req.OccurredAt = strPtr("  ")

	_, err := svc.HandleEvent(context.Background(), req)
	var verr *events.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("HandleEvent() error = %v, want ValidationError", err)
	}
	if want := []string{"magnitude", "occurred_at"}; !reflect.DeepEqual(verr.Missing, want) {
		t.Errorf("Missing = %v, want %v", verr.Missing, want)
	}
	if len(store.Calls) != 0 {
		t.Errorf("store calls = %v, want none", store.Calls)
	}
	if mem.Calls("Subscribe")+mem.Calls("Publish")+mem.Calls("ListSubscriptions") != 0 {
		t.Error("broker was called for an invalid request")
	}
	if rec.Custom["validation_errors"] != 1 {
		t.Errorf("validation_errors = %d, want 1", rec.Custom["validation_errors"])
	}
}

func TestHandleEvent_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		mutate func(*events.Request)
		scope  bool
	}{
		{
			name: "missing topic",
			opts: Options{},
		},
		{
			name:   "unknown strategy",
			opts:   Options{TopicARN: "arn:topic"},
			mutate: func(r *events.Request) { r.Strategy = "broadcast" },
		},
		{
			name:   "table override without scope",
			opts:   Options{TopicARN: "arn:topic"},
			mutate: func(r *events.Request) { r.SubscriberTable = "subscriber_v2" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &FakeStore{}
			svc := NewService(store, broker.NewMemory(), tt.opts)
			req := quakeRequest(81, 5)
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := svc.HandleEvent(context.Background(), req)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("HandleEvent() error = %v, want ErrConfiguration", err)
			}
			var verr *events.ValidationError
			if errors.As(err, &verr) {
				t.Error("configuration error must not be a validation error")
			}
			if len(store.Calls) != 0 {
				t.Errorf("store calls = %v, want none", store.Calls)
			}
		})
	}
}

func TestHandleEvent_SharedTopicLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &FakeStore{Subscribers: testSubscribers(), Countries: map[int]string{81: "Japan"}}
	rec := &FakeRecorder{}
	svc, mem, topic := newSharedService(t, store, WithMetrics(rec))

	res, err := svc.HandleEvent(ctx, quakeRequest(81, 5.0))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if res.Matched != 2 || res.Published != 1 {
		t.Errorf("matched/published = %d/%d, want 2/1", res.Matched, res.Published)
	}
	if res.ReconcileAttempts != 3 || res.NewlySubscribed != 3 || res.Pending != 3 || res.PoliciesApplied != 0 {
		t.Errorf("first pass counts = %+v", res.Counts)
	}
	if res.CountryName != "Japan" || res.TopicARN != topic || res.Strategy != SharedTopic {
		t.Errorf("result = %+v", res)
	}
	if res.InvocationID == "" {
		t.Error("InvocationID not set")
	}

	for _, e := range []string{"japan@example.com", "us@example.com"} {
		if _, err := mem.Confirm(topic, e); err != nil {
			t.Fatal(err)
		}
	}

	res, err = svc.HandleEvent(ctx, quakeRequest(81, 5.0))
	if err != nil {
		t.Fatalf("second HandleEvent() error = %v", err)
	}
	if res.AlreadySubscribed != 3 || res.NewlySubscribed != 0 || res.Pending != 1 || res.PoliciesApplied != 2 {
		t.Errorf("second pass counts = %+v", res.Counts)
	}
	if got := mem.Calls("Subscribe"); got != 3 {
		t.Errorf("Subscribe calls = %d, want 3 across both invocations", got)
	}
	if got := mem.Calls("Publish"); got != 2 {
		t.Errorf("Publish calls = %d, want 2", got)
	}

	stored, ok := mem.FilterPolicyOf(topic, "japan@example.com")
	if !ok || stored != `{"country_id":["81"],"magnitude":[{"numeric":[">=",2.0]}]}` {
		t.Errorf("japan filter policy = %q", stored)
	}

	deliveries := mem.Deliveries()
	if len(deliveries) != 1 || deliveries[0].Endpoint != "japan@example.com" {
		t.Errorf("deliveries = %+v, want japan@example.com only", deliveries)
	}
	if deliveries[0].Subject != "Earthquake alert: M5.0 in Japan - Near Tokyo" {
		t.Errorf("subject = %q", deliveries[0].Subject)
	}

	if rec.Invocations != 2 || rec.Published != 2 || rec.Attempts != 6 {
		t.Errorf("metrics = %+v", rec)
	}
}

func TestHandleEvent_SharedZeroMatchesStillPublishesOnce(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()}
	svc, mem, _ := newSharedService(t, store)

	res, err := svc.HandleEvent(context.Background(), quakeRequest(44, 1.0))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if res.Matched != 1 {
		t.Fatalf("Matched = %d, want 1 (the wildcard subscriber)", res.Matched)
	}

	store.Subscribers = store.Subscribers[:1]
	res, err = svc.HandleEvent(context.Background(), quakeRequest(44, 1.0))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if res.Matched != 0 || res.Published != 1 {
		t.Errorf("matched/published = %d/%d, want 0/1", res.Matched, res.Published)
	}
	if got := mem.Calls("Publish"); got != 2 {
		t.Errorf("Publish calls = %d, want 2", got)
	}
}

func TestHandleEvent_SkipWhenNoMatch(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()[:1]}
	mem := broker.NewMemory()
	topic := mem.AddTopic("alerts")
	svc := NewService(store, mem, Options{TopicARN: topic, SubscribeEveryTime: true, SkipWhenNoMatch: true})

	res, err := svc.HandleEvent(context.Background(), quakeRequest(44, 6.0))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if res.Published != 0 || res.ReconcileAttempts != 0 {
		t.Errorf("counts = %+v, want nothing issued", res.Counts)
	}
	if mem.Calls("Subscribe")+mem.Calls("Publish") != 0 {
		t.Error("broker was called although nothing matched")
	}
}

func TestHandleEvent_SubscribeDisabled(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()}
	svc, mem, _ := newSharedService(t, store)

	req := quakeRequest(81, 5.0)
	req.SubscribeEveryTime = boolPtr(false)
	res, err := svc.HandleEvent(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if res.ReconcileAttempts != 0 || mem.Calls("ListSubscriptions") != 0 || mem.Calls("Subscribe") != 0 {
		t.Errorf("reconciliation ran although disabled: %+v", res.Counts)
	}
	if res.Published != 1 {
		t.Errorf("Published = %d, want 1", res.Published)
	}
}

func TestHandleEvent_PerItemFailureDoesNotAbort(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()}
	svc, mem, _ := newSharedService(t, store)
	mem.FailNext("Subscribe", "any@example.com", errors.New("throttled"))

	res, err := svc.HandleEvent(context.Background(), quakeRequest(81, 5.0))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if !reflect.DeepEqual(res.Failed, []string{"any@example.com"}) {
		t.Errorf("Failed = %v", res.Failed)
	}
	if res.NewlySubscribed != 2 || res.Published != 1 {
		t.Errorf("counts = %+v", res.Counts)
	}
}

func TestHandleEvent_CollaboratorFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(*FakeStore, *broker.Memory)
	}{
		{"country lookup", func(s *FakeStore, _ *broker.Memory) { s.CountryErr = boom }},
		{"subscribers", func(s *FakeStore, _ *broker.Memory) { s.SubscribersErr = boom }},
		{"directory listing", func(_ *FakeStore, m *broker.Memory) { m.FailNext("ListSubscriptions", "", boom) }},
		{"publish", func(_ *FakeStore, m *broker.Memory) { m.FailNext("Publish", "", boom) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &FakeStore{Subscribers: testSubscribers()}
			rec := &FakeRecorder{}
			svc, mem, _ := newSharedService(t, store, WithMetrics(rec))
			tt.setup(store, mem)

			_, err := svc.HandleEvent(context.Background(), quakeRequest(81, 5.0))
			if !errors.Is(err, boom) {
				t.Fatalf("HandleEvent() error = %v, want wrapped boom", err)
			}
			if errors.Is(err, ErrConfiguration) {
				t.Error("collaborator failure reported as configuration error")
			}
			if rec.Errors != 1 || rec.Invocations != 0 {
				t.Errorf("metrics errors/invocations = %d/%d, want 1/0", rec.Errors, rec.Invocations)
			}
		})
	}
}

func TestHandleEvent_TableScope(t *testing.T) {
	base := &FakeStore{}
	scoped := &FakeStore{Subscribers: testSubscribers()}
	var gotTables database.Tables
	scope := func(tables database.Tables) Store {
		gotTables = tables
		return scoped
	}
	svc, _, _ := newSharedService(t, base, WithTableScope(scope))

	req := quakeRequest(81, 5.0)
	req.Schema = "staging"
	req.SubscriberTable = "subscriber_v2"
	res, err := svc.HandleEvent(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	want := database.Tables{Schema: "staging", Subscribers: "subscriber_v2"}
	if gotTables != want {
		t.Errorf("scope tables = %+v, want %+v", gotTables, want)
	}
	if len(base.Calls) != 0 {
		t.Errorf("default store used: %v", base.Calls)
	}
	if res.Matched != 2 {
		t.Errorf("Matched = %d, want 2", res.Matched)
	}
}

func TestHandleEvent_TopicOverride(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()}
	svc, mem, _ := newSharedService(t, store)
	other := mem.AddTopic("other")

	req := quakeRequest(81, 5.0)
	req.TopicARN = other
	res, err := svc.HandleEvent(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if res.TopicARN != other {
		t.Errorf("TopicARN = %q, want %q", res.TopicARN, other)
	}
	if msgs := mem.Published(); len(msgs) != 1 || msgs[0].TopicARN != other {
		t.Errorf("published = %+v", msgs)
	}
}

func TestHandleEvent_LedgerPreventsRepublish(t *testing.T) {
	store := &FakeStore{Subscribers: testSubscribers()}
	svc, mem, _ := newSharedService(t, store, WithLedger(&FakeLedger{}))

	for i, want := range []int{1, 0} {
		res, err := svc.HandleEvent(context.Background(), quakeRequest(81, 5.0))
		if err != nil {
			t.Fatalf("call %d: HandleEvent() error = %v", i, err)
		}
		if res.Published != want {
			t.Errorf("call %d: Published = %d, want %d", i, res.Published, want)
		}
	}
	if got := mem.Calls("Publish"); got != 1 {
		t.Errorf("Publish calls = %d, want 1", got)
	}
}

func TestResult_JSON(t *testing.T) {
	res := Result{
		EarthquakeID: 1,
		TopicARN:     "arn:topic",
		Matched:      2,
		Counts:       Counts{Published: 1, Pending: 3, Errors: []error{errors.New("x")}},
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["published"] != float64(1) || got["pending_confirmations"] != float64(3) || got["matched"] != float64(2) {
		t.Errorf("json = %s", data)
	}
	if _, ok := got["Errors"]; ok {
		t.Error("errors must not be serialized")
	}
}
