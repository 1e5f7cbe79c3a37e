package publisher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix = "quake-alerts:published:"

	// DefaultLedgerTTL bounds how long a publish claim is remembered. It
	// should exceed the poll window so overlapping windows are covered.
	DefaultLedgerTTL = 24 * time.Hour
)

// Ledger remembers which events were already published to which topic.
type Ledger interface {
	// Claim returns true if the caller may publish eventID to topicARN.
	Claim(ctx context.Context, topicARN string, eventID int) (bool, error)
	// Release forgets a claim whose publish failed.
	Release(ctx context.Context, topicARN string, eventID int) error
}

// NoOpLedger grants every claim.
type NoOpLedger struct{}

func (NoOpLedger) Claim(context.Context, string, int) (bool, error) { return true, nil }
func (NoOpLedger) Release(context.Context, string, int) error       { return nil }

// RedisLedger stores claims as Redis keys written with SET NX and a TTL.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a ledger on client. A non-positive ttl uses DefaultLedgerTTL.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func ledgerKey(topicARN string, eventID int) string {
	return ledgerKeyPrefix + topicARN + ":" + strconv.Itoa(eventID)
}

// Claim implements Ledger.
func (l *RedisLedger) Claim(ctx context.Context, topicARN string, eventID int) (bool, error) {
	ok, err := l.client.SetNX(ctx, ledgerKey(topicARN, eventID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event %d: %w", eventID, err)
	}
	return ok, nil
}

// Release implements Ledger.
func (l *RedisLedger) Release(ctx context.Context, topicARN string, eventID int) error {
	if err := l.client.Del(ctx, ledgerKey(topicARN, eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release event %d: %w", eventID, err)
	}
	return nil
}
