// Package metrics collects per-process alerting counters and publishes them
// to Redis so operators can inspect every running alert-service and poller.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for process metrics.
	KeyPrefix = "quake-alerts:metrics:"
	// TTL is how long a snapshot stays in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing snapshots to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is the JSON document written to Redis for one process.
type Snapshot struct {
	Process     string    `json:"process"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "stale"

	Invocations       uint64 `json:"invocations"`
	InvocationErrors  uint64 `json:"invocation_errors"`
	EventsPublished   uint64 `json:"events_published"`
	ReconcileAttempts uint64 `json:"reconcile_attempts"`

	AvgInvocationLatencyNs float64 `json:"avg_invocation_latency_ns"`

	Counters map[string]uint64 `json:"counters,omitempty"`
}

// Collector accumulates counters in memory and periodically flushes them.
// All Record methods are safe for concurrent use.
type Collector struct {
	process        string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	invocations       atomic.Uint64
	invocationErrors  atomic.Uint64
	eventsPublished   atomic.Uint64
	reconcileAttempts atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	countersMu sync.RWMutex
	counters   map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector for the named process. A nil Redis client
// keeps counters in memory only.
func NewCollector(process string, redisClient *redis.Client) *Collector {
	return &Collector{
		process:        process,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		counters:       make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the flush interval. Call before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins periodic flushing until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.Flush(context.Background())
				return
			case <-c.stopCh:
				c.Flush(context.Background())
				return
			case <-ticker.C:
				c.Flush(ctx)
			}
		}
	}()
}

// Stop ends periodic flushing after a final write. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordInvocation records one finished invocation and its latency.
func (c *Collector) RecordInvocation(latency time.Duration) {
	c.invocations.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordInvocationError records an invocation that ended in an error.
func (c *Collector) RecordInvocationError() {
	c.invocationErrors.Add(1)
}

// AddPublished adds n broker publish calls.
func (c *Collector) AddPublished(n int) {
	if n > 0 {
		c.eventsPublished.Add(uint64(n))
	}
}

// AddReconcileAttempts adds n reconcile attempts.
func (c *Collector) AddReconcileAttempts(n int) {
	if n > 0 {
		c.reconcileAttempts.Add(uint64(n))
	}
}

// Add adds value to a named counter, creating it on first use.
func (c *Collector) Add(name string, value uint64) {
	c.countersMu.RLock()
	counter, exists := c.counters[name]
	c.countersMu.RUnlock()

	if !exists {
		c.countersMu.Lock()
		if counter, exists = c.counters[name]; !exists {
			counter = &atomic.Uint64{}
			c.counters[name] = counter
		}
		c.countersMu.Unlock()
	}
	counter.Add(value)
}

// Snapshot returns the current counters without touching Redis.
func (c *Collector) Snapshot() *Snapshot {
	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.countersMu.RLock()
	counters := make(map[string]uint64, len(c.counters))
	for name, counter := range c.counters {
		counters[name] = counter.Load()
	}
	c.countersMu.RUnlock()

	return &Snapshot{
		Process:                c.process,
		StartedAt:              c.startedAt,
		LastUpdated:            time.Now().UTC(),
		Status:                 "healthy",
		Invocations:            c.invocations.Load(),
		InvocationErrors:       c.invocationErrors.Load(),
		EventsPublished:        c.eventsPublished.Load(),
		ReconcileAttempts:      c.reconcileAttempts.Load(),
		AvgInvocationLatencyNs: avgLatencyNs,
		Counters:               counters,
	}
}

// Flush writes the current snapshot to Redis. Failures are logged, never returned:
// metrics must not take an alert invocation down with them.
func (c *Collector) Flush(ctx context.Context) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "process", c.process, "error", err)
		return
	}

	key := KeyPrefix + c.process
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "process", c.process, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "process", c.process, "key", key)
}

// Reader reads process snapshots back from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new metrics reader.
func NewReader(redisClient *redis.Client) *Reader {
	return &Reader{redis: redisClient}
}

// Get retrieves the snapshot of one process. Snapshots older than TTL are
// reported with Status "stale".
func (r *Reader) Get(ctx context.Context, process string) (*Snapshot, error) {
	data, err := r.redis.Get(ctx, KeyPrefix+process).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("no metrics found for process: %s", process)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics for %s: %w", process, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics for %s: %w", process, err)
	}
	if time.Since(snap.LastUpdated) > TTL {
		snap.Status = "stale"
	}
	return &snap, nil
}

// List returns the names of all processes that currently have a snapshot, sorted.
func (r *Reader) List(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		names  []string
	)
	for {
		keys, next, err := r.redis.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan metrics keys: %w", err)
		}
		for _, key := range keys {
			names = append(names, key[len(KeyPrefix):])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(names)
	return names, nil
}
