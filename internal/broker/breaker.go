package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned without calling the broker while the circuit
// breaker is open.
var ErrUnavailable = errors.New("broker unavailable")

// BreakerSettings configure NewBreaker.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before letting a probe
	// request through.
	Cooldown time.Duration
}

// DefaultBreakerSettings returns the settings used by the binaries.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// Breaker wraps a Client in a circuit breaker so that a broker outage fails
// every remaining call of a batch immediately instead of once per timeout.
// Client errors such as an invalid parameter do not count as failures.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next Client, s BreakerSettings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	threshold := s.FailureThreshold

	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sns",
			MaxRequests: 1,
			Timeout:     s.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: isBrokerHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				switch to {
				case gobreaker.StateOpen:
					slog.Warn("Broker circuit breaker opened", "breaker", name, "from", from.String())
				case gobreaker.StateHalfOpen:
					slog.Info("Broker circuit breaker half-open", "breaker", name)
				case gobreaker.StateClosed:
					slog.Info("Broker circuit breaker closed", "breaker", name)
				}
			},
		}),
	}
}

// isBrokerHealthy reports whether err says nothing about broker health.
// Rejections of the request itself and caller cancellation leave the breaker
// alone.
func isBrokerHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultClient && !throttlingCodes[apiErr.ErrorCode()]
	}
	return false
}

// Throttling is reported as a client fault but means the broker is overloaded.
var throttlingCodes = map[string]bool{
	"Throttling":          true,
	"ThrottlingException": true,
	"ThrottledException":  true,
}

// State returns the breaker state, for logging.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, err
}

// CreateTopic implements Client.
func (b *Breaker) CreateTopic(ctx context.Context, name string) (string, error) {
	v, err := b.execute(func() (any, error) { return b.next.CreateTopic(ctx, name) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Subscribe implements Client.
func (b *Breaker) Subscribe(ctx context.Context, topicARN, protocol, endpoint string) (string, error) {
	v, err := b.execute(func() (any, error) { return b.next.Subscribe(ctx, topicARN, protocol, endpoint) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetFilterPolicy implements Client.
func (b *Breaker) SetFilterPolicy(ctx context.Context, subscriptionARN, policyJSON string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.SetFilterPolicy(ctx, subscriptionARN, policyJSON)
	})
	return err
}

// ListSubscriptions implements Client.
func (b *Breaker) ListSubscriptions(ctx context.Context, topicARN, nextToken string) (Page, error) {
	v, err := b.execute(func() (any, error) { return b.next.ListSubscriptions(ctx, topicARN, nextToken) })
	if err != nil {
		return Page{}, err
	}
	return v.(Page), nil
}

// Publish implements Client.
func (b *Breaker) Publish(ctx context.Context, msg Message) (string, error) {
	v, err := b.execute(func() (any, error) { return b.next.Publish(ctx, msg) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
