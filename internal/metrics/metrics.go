// Package metrics defines the counters the alert engine records.
package metrics

import (
	"time"

	"quake-alerts/pkg/metrics"
)

// Recorder records per-invocation metrics.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordInvocation records one completed invocation and its duration.
	RecordInvocation(latency time.Duration)
	// RecordInvocationError counts an invocation that failed.
	RecordInvocationError()
	// RecordPublished adds n publish calls.
	RecordPublished(n int)
	// RecordReconcile adds the outcome counts of one reconciliation pass.
	RecordReconcile(attempts, pending, failed int)
	// IncrementCustom increments a named counter.
	IncrementCustom(name string)
}

// NoOp is a Recorder that discards everything.
type NoOp struct{}

func (NoOp) RecordInvocation(time.Duration) {}
func (NoOp) RecordInvocationError()         {}
func (NoOp) RecordPublished(int)            {}
func (NoOp) RecordReconcile(int, int, int)  {}
func (NoOp) IncrementCustom(string)         {}

var _ Recorder = NoOp{}

// collectorAdapter adapts *metrics.Collector to Recorder.
type collectorAdapter struct {
	c *metrics.Collector
}

// NewAdapter wraps a collector as a Recorder. A nil collector yields NoOp.
func NewAdapter(c *metrics.Collector) Recorder {
	if c == nil {
		return NoOp{}
	}
	return &collectorAdapter{c: c}
}

func (a *collectorAdapter) RecordInvocation(d time.Duration) { a.c.RecordInvocation(d) }
func (a *collectorAdapter) RecordInvocationError()           { a.c.RecordInvocationError() }
func (a *collectorAdapter) RecordPublished(n int)            { a.c.AddPublished(n) }
func (a *collectorAdapter) IncrementCustom(name string)      { a.c.Add(name, 1) }

func (a *collectorAdapter) RecordReconcile(attempts, pending, failed int) {
	a.c.AddReconcileAttempts(attempts)
	if pending > 0 {
		a.c.Add("pending_confirmations", uint64(pending))
	}
	if failed > 0 {
		a.c.Add("reconcile_failures", uint64(failed))
	}
}
