package broker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"quake-alerts/internal/policy"
)

const (
	memoryARNPrefix     = "arn:aws:sns:local:000000000000:"
	defaultMemoryPage   = 100
	memoryPendingListed = "PendingConfirmation"
)

// Delivery is a message the in-memory broker handed to one endpoint.
type Delivery struct {
	TopicARN string
	Endpoint string
	Subject  string
}

type memorySub struct {
	topicARN  string
	endpoint  string
	protocol  string
	arn       string
	confirmed bool
	policy    string
	seq       int
}

type memoryFailure struct {
	op  string
	key string
	err error
}

// Memory is an in-process broker with SNS semantics: new email subscriptions
// stay pending until Confirm is called, listings are paginated, and published
// messages are delivered to confirmed subscriptions whose filter policy
// accepts the message attributes. It backs the -dry-run mode and tests.
type Memory struct {
	mu sync.Mutex

	pageSize    int
	autoConfirm bool

	topics     map[string]bool
	subs       []*memorySub
	calls      map[string]int
	published  []Message
	deliveries []Delivery
	failures   []memoryFailure
	seq        int
}

// MemoryOption configures a Memory broker.
type MemoryOption func(*Memory)

// WithPageSize sets how many subscriptions ListSubscriptions returns per page.
func WithPageSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithAutoConfirm makes new subscriptions confirmed immediately.
func WithAutoConfirm() MemoryOption {
	return func(m *Memory) { m.autoConfirm = true }
}

// WithExistingTopics registers topics by ARN, such as a configured shared
// topic that was created outside the process.
func WithExistingTopics(arns ...string) MemoryOption {
	return func(m *Memory) {
		for _, arn := range arns {
			if arn != "" {
				m.topics[arn] = true
			}
		}
	}
}

// NewMemory creates an empty in-memory broker.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		pageSize: defaultMemoryPage,
		topics:   make(map[string]bool),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TopicARN returns the ARN the in-memory broker assigns to a topic name.
func TopicARN(name string) string {
	return memoryARNPrefix + name
}

// AddTopic registers a topic without counting a CreateTopic call.
func (m *Memory) AddTopic(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	arn := TopicARN(name)
	m.topics[arn] = true
	return arn
}

// Confirm marks the endpoint's subscription on topicARN as confirmed, as if
// the recipient clicked the confirmation link. It returns the subscription ARN.
func (m *Memory) Confirm(topicARN, endpoint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.find(topicARN, endpoint)
	if s == nil {
		return "", fmt.Errorf("no subscription for %s on %s", endpoint, topicARN)
	}
	s.confirmed = true
	return s.arn, nil
}

// FailNext makes the next call of op ("Subscribe", "Publish", ...) whose key
// matches return err. The key is the endpoint for Subscribe, the subscription
// ARN for SetFilterPolicy, the topic name for CreateTopic and the topic ARN
// otherwise. An empty key matches any call.
func (m *Memory) FailNext(op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, memoryFailure{op: op, key: key, err: err})
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Published returns every message accepted by Publish.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// Deliveries returns every per-endpoint delivery made so far.
func (m *Memory) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}

// FilterPolicyOf returns the stored filter policy of a subscription.
func (m *Memory) FilterPolicyOf(topicARN, endpoint string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.find(topicARN, endpoint)
	if s == nil || s.policy == "" {
		return "", false
	}
	return s.policy, true
}

// CreateTopic implements Client.
func (m *Memory) CreateTopic(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateTopic"]++
	if err := m.failure("CreateTopic", name); err != nil {
		return "", err
	}
	arn := TopicARN(name)
	m.topics[arn] = true
	return arn, nil
}

// Subscribe implements Client. Subscribing an endpoint that is already
// subscribed returns the existing ARN when confirmed and the pending handle
// otherwise.
func (m *Memory) Subscribe(_ context.Context, topicARN, protocol, endpoint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Subscribe"]++
	if err := m.failure("Subscribe", endpoint); err != nil {
		return "", err
	}
	if !m.topics[topicARN] {
		return "", fmt.Errorf("topic does not exist: %s", topicARN)
	}

	s := m.find(topicARN, endpoint)
	if s == nil {
		m.seq++
		s = &memorySub{
			topicARN:  topicARN,
			endpoint:  endpoint,
			protocol:  protocol,
			arn:       topicARN + ":sub-" + strconv.Itoa(m.seq),
			confirmed: m.autoConfirm,
			seq:       m.seq,
		}
		m.subs = append(m.subs, s)
	}
	if !s.confirmed {
		return PendingConfirmation, nil
	}
	return s.arn, nil
}

// SetFilterPolicy implements Client.
func (m *Memory) SetFilterPolicy(_ context.Context, subscriptionARN, policyJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["SetFilterPolicy"]++
	if err := m.failure("SetFilterPolicy", subscriptionARN); err != nil {
		return err
	}
	if _, err := policy.Parse(policyJSON); err != nil {
		return err
	}
	for _, s := range m.subs {
		if s.arn == subscriptionARN && s.confirmed {
			s.policy = policyJSON
			return nil
		}
	}
	return fmt.Errorf("subscription not found: %s", subscriptionARN)
}

// ListSubscriptions implements Client. The next token is the offset of the
// following page.
func (m *Memory) ListSubscriptions(_ context.Context, topicARN, nextToken string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListSubscriptions"]++
	if err := m.failure("ListSubscriptions", topicARN); err != nil {
		return Page{}, err
	}

	var all []*memorySub
	for _, s := range m.subs {
		if s.topicARN == topicARN {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	start := 0
	if nextToken != "" {
		n, err := strconv.Atoi(nextToken)
		if err != nil || n < 0 || n > len(all) {
			return Page{}, fmt.Errorf("invalid next token: %q", nextToken)
		}
		start = n
	}
	end := min(start+m.pageSize, len(all))

	var page Page
	for _, s := range all[start:end] {
		arn := s.arn
		if !s.confirmed {
			arn = memoryPendingListed
		}
		page.Subscriptions = append(page.Subscriptions, Subscription{
			Endpoint:        s.endpoint,
			Protocol:        s.protocol,
			SubscriptionARN: arn,
		})
	}
	if end < len(all) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// Publish implements Client.
func (m *Memory) Publish(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Publish"]++
	if err := m.failure("Publish", msg.TopicARN); err != nil {
		return "", err
	}
	if !m.topics[msg.TopicARN] {
		return "", fmt.Errorf("topic does not exist: %s", msg.TopicARN)
	}

	m.published = append(m.published, msg)
	for _, s := range m.subs {
		if s.topicARN != msg.TopicARN || !s.confirmed {
			continue
		}
		if !accepts(s.policy, msg.Attributes) {
			continue
		}
		m.deliveries = append(m.deliveries, Delivery{
			TopicARN: msg.TopicARN,
			Endpoint: s.endpoint,
			Subject:  msg.Subject,
		})
	}
	return "msg-" + strconv.Itoa(len(m.published)), nil
}

func (m *Memory) find(topicARN, endpoint string) *memorySub {
	for _, s := range m.subs {
		if s.topicARN == topicARN && s.endpoint == endpoint {
			return s
		}
	}
	return nil
}

// failure pops the first queued failure matching op and key.
func (m *Memory) failure(op, key string) error {
	for i, f := range m.failures {
		if f.op == op && (f.key == "" || f.key == key) {
			m.failures = append(m.failures[:i], m.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

// accepts evaluates a stored filter policy against message attributes.
// A message missing an attribute the policy constrains is not delivered.
func accepts(policyJSON string, attrs []Attribute) bool {
	if policyJSON == "" {
		return true
	}
	fp, err := policy.Parse(policyJSON)
	if err != nil {
		return false
	}
	if fp.IsEmpty() {
		return true
	}

	var countryID int
	var magnitude float64
	var hasCountry, hasMag bool
	for _, a := range attrs {
		switch a.Name {
		case policy.AttrCountryID:
			if n, err := strconv.Atoi(a.Value); err == nil {
				countryID, hasCountry = n, true
			}
		case policy.AttrMagnitude:
			if f, err := strconv.ParseFloat(a.Value, 64); err == nil {
				magnitude, hasMag = f, true
			}
		}
	}
	if fp.Country != nil && !hasCountry {
		return false
	}
	if fp.Magnitude != nil && !hasMag {
		return false
	}
	return fp.Allows(countryID, magnitude)
}

var _ Client = (*Memory)(nil)
