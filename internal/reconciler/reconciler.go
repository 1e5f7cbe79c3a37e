// Package reconciler brings a topic's email subscriptions in line with what
// subscribers asked for, without sending a second confirmation email to
// anyone who already has one outstanding.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"quake-alerts/internal/broker"
	"quake-alerts/internal/policy"
)

// Broker is the part of broker.Client the reconciler writes through.
type Broker interface {
	Subscribe(ctx context.Context, topicARN, protocol, endpoint string) (string, error)
	SetFilterPolicy(ctx context.Context, subscriptionARN, policyJSON string) error
}

// Reconciler applies the Absent/Pending/Confirmed state machine.
type Reconciler struct {
	broker Broker
}

// New creates a Reconciler.
func New(b Broker) *Reconciler {
	return &Reconciler{broker: b}
}

// Outcome describes what one reconcile did.
type Outcome struct {
	Handle string
	// AlreadyKnown is true when the endpoint was in the directory before the
	// call, so no subscribe request was sent.
	AlreadyKnown  bool
	State         State
	PolicyApplied bool
}

// Reconcile brings endpoint's subscription on topicARN to the desired state.
//
//   - Absent: one subscribe request. The resulting handle is recorded in dir
//     so repeating the call in the same pass does not subscribe again.
//   - Pending: no broker calls.
//   - Confirmed: the desired filter policy is written.
//
// A nil desired policy leaves filter policies unmanaged.
func (r *Reconciler) Reconcile(ctx context.Context, topicARN, endpoint string, desired *policy.FilterPolicy, dir *Directory) (Outcome, error) {
	handle, state := dir.Lookup(endpoint)

	switch state {
	case Pending:
		return Outcome{Handle: handle, AlreadyKnown: true, State: Pending}, nil

	case Confirmed:
		applied, err := r.applyPolicy(ctx, handle, desired)
		if err != nil {
			return Outcome{Handle: handle, AlreadyKnown: true, State: Confirmed}, err
		}
		return Outcome{Handle: handle, AlreadyKnown: true, State: Confirmed, PolicyApplied: applied}, nil
	}

	handle, err := r.broker.Subscribe(ctx, topicARN, broker.ProtocolEmail, endpoint)
	if err != nil {
		return Outcome{State: Absent}, err
	}
	if handle == "" {
		handle = broker.PendingConfirmation
	}
	dir.Record(endpoint, handle)

	out := Outcome{Handle: handle, State: StateOf(handle)}
	slog.Debug("Subscribed endpoint",
		"topic_arn", topicARN,
		"endpoint", endpoint,
		"state", out.State,
	)

	if out.State == Confirmed {
		// SNS hands back the existing ARN when the endpoint had already confirmed.
		out.PolicyApplied, err = r.applyPolicy(ctx, handle, desired)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (r *Reconciler) applyPolicy(ctx context.Context, subscriptionARN string, desired *policy.FilterPolicy) (bool, error) {
	if desired == nil {
		return false, nil
	}
	if err := r.broker.SetFilterPolicy(ctx, subscriptionARN, desired.JSON()); err != nil {
		return false, err
	}
	return true, nil
}

// Desired is the target state for one endpoint.
type Desired struct {
	Endpoint string
	Policy   *policy.FilterPolicy
}

// Summary aggregates a batch of reconciles.
type Summary struct {
	Attempts        int
	Newly           int
	Already         int
	Pending         int
	PoliciesApplied int
	Failed          []string
	Errors          []error
}

// Err joins the per-endpoint errors, or returns nil when every reconcile succeeded.
func (s Summary) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d subscriptions failed to reconcile: %w", len(s.Errors), s.Attempts, s.Errors[0])
}

// ReconcileAll reconciles every entry against dir. A failure for one endpoint
// is logged and collected and the batch continues.
func (r *Reconciler) ReconcileAll(ctx context.Context, topicARN string, desired []Desired, dir *Directory) Summary {
	var sum Summary
	for _, d := range desired {
		sum.Attempts++

		out, err := r.Reconcile(ctx, topicARN, d.Endpoint, d.Policy, dir)
		if err != nil {
			slog.Warn("Failed to reconcile subscription",
				"topic_arn", topicARN,
				"endpoint", d.Endpoint,
				"error_code", broker.ErrorCode(err),
				"error", err,
			)
			sum.Failed = append(sum.Failed, d.Endpoint)
			sum.Errors = append(sum.Errors, fmt.Errorf("%s: %w", d.Endpoint, err))
			continue
		}
		sum.Add(out)
	}
	return sum
}

// Add counts one successful outcome.
func (s *Summary) Add(out Outcome) {
	if out.AlreadyKnown {
		s.Already++
	} else {
		s.Newly++
	}
	if out.State == Pending {
		s.Pending++
	}
	if out.PolicyApplied {
		s.PoliciesApplied++
	}
}
