package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quake-alerts/internal/broker"
)

// FakeSender is a test fake for Sender.
type FakeSender struct {
	Messages []broker.Message
	Err      error
}

func (f *FakeSender) Publish(ctx context.Context, msg broker.Message) (string, error) {
	f.Messages = append(f.Messages, msg)
	if f.Err != nil {
		return "", f.Err
	}
	return "m-1", nil
}

func newTestLedger(t *testing.T) (*miniredis.Miniredis, *RedisLedger) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLedger(client, time.Hour)
}

func TestPublisher_Publish(t *testing.T) {
	s := &FakeSender{}
	p := New(s)

	published, err := p.Publish(context.Background(), "arn:topic", japanQuake())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !published {
		t.Error("Publish() = false, want true")
	}
	if len(s.Messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(s.Messages))
	}
	msg := s.Messages[0]
	if msg.TopicARN != "arn:topic" || msg.Subject != Subject(japanQuake()) || len(msg.Attributes) != 2 {
		t.Errorf("message = %+v", msg)
	}
}

func TestPublisher_NoLedgerPublishesEveryCall(t *testing.T) {
	s := &FakeSender{}
	p := New(s)
	for i := 0; i < 2; i++ {
		if _, err := p.Publish(context.Background(), "arn:topic", japanQuake()); err != nil {
			t.Fatal(err)
		}
	}
	if len(s.Messages) != 2 {
		t.Errorf("sent %d messages, want 2", len(s.Messages))
	}
}

func TestPublisher_LedgerSkipsRepeat(t *testing.T) {
	_, ledger := newTestLedger(t)
	s := &FakeSender{}
	p := New(s, WithLedger(ledger))
	ctx := context.Background()

	first, err := p.Publish(ctx, "arn:topic", japanQuake())
	if err != nil || !first {
		t.Fatalf("first Publish() = %v, %v", first, err)
	}
	second, err := p.Publish(ctx, "arn:topic", japanQuake())
	if err != nil || second {
		t.Fatalf("second Publish() = %v, %v; want false, nil", second, err)
	}
	other, err := p.Publish(ctx, "arn:other", japanQuake())
	if err != nil || !other {
		t.Fatalf("other topic Publish() = %v, %v", other, err)
	}
	if len(s.Messages) != 2 {
		t.Errorf("sent %d messages, want 2", len(s.Messages))
	}
}

func TestPublisher_FailedPublishReleasesClaim(t *testing.T) {
	mr, ledger := newTestLedger(t)
	boom := errors.New("boom")
	s := &FakeSender{Err: boom}
	p := New(s, WithLedger(ledger))
	ctx := context.Background()

	if _, err := p.Publish(ctx, "arn:topic", japanQuake()); !errors.Is(err, boom) {
		t.Fatalf("Publish() error = %v, want boom", err)
	}
	if mr.Exists(ledgerKey("arn:topic", 42)) {
		t.Error("claim kept after failed publish")
	}

	s.Err = nil
	published, err := p.Publish(ctx, "arn:topic", japanQuake())
	if err != nil || !published {
		t.Errorf("retry Publish() = %v, %v; want true, nil", published, err)
	}
}

func TestPublisher_LedgerUnavailable(t *testing.T) {
	mr, ledger := newTestLedger(t)
	mr.Close()
	s := &FakeSender{}
	p := New(s, WithLedger(ledger))

	if _, err := p.Publish(context.Background(), "arn:topic", japanQuake()); err == nil {
		t.Error("Publish() expected error when the ledger is down")
	}
	if len(s.Messages) != 0 {
		t.Error("nothing should be sent without a claim")
	}
}

func TestRedisLedger_TTL(t *testing.T) {
	mr, ledger := newTestLedger(t)
	ctx := context.Background()

	ok, err := ledger.Claim(ctx, "arn:topic", 7)
	if err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	if ttl := mr.TTL(ledgerKey("arn:topic", 7)); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	ok, err = ledger.Claim(ctx, "arn:topic", 7)
	if err != nil || !ok {
		t.Errorf("Claim() after expiry = %v, %v; want true", ok, err)
	}
}

func TestNewRedisLedger_DefaultTTL(t *testing.T) {
	l := NewRedisLedger(nil, 0)
	if l.ttl != DefaultLedgerTTL {
		t.Errorf("ttl = %v, want %v", l.ttl, DefaultLedgerTTL)
	}
}
