package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"quake-alerts/internal/alert"
	"quake-alerts/internal/events"
	"quake-alerts/internal/retry"
)

// MessageReader reads earthquake requests from a message queue.
type MessageReader interface {
	// ReadMessage returns the next decoded request and the raw message for
	// offset tracking. A decode failure returns a nil request, the raw
	// message and an error.
	ReadMessage(ctx context.Context) (*events.Request, *kafka.Message, error)

	// CommitMessage commits the offset for the given message.
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

// EventHandler handles one earthquake.
type EventHandler interface {
	HandleEvent(ctx context.Context, req events.Request) (*alert.Result, error)
}

// Processor runs the consume, handle, commit loop.
type Processor struct {
	reader  MessageReader
	handler EventHandler
	retry   retry.Config
	timeout time.Duration
}

// NewProcessor creates a Processor. Each handling attempt gets its own
// deadline of invocationTimeout.
func NewProcessor(reader MessageReader, handler EventHandler, retryCfg retry.Config, invocationTimeout time.Duration) *Processor {
	return &Processor{
		reader:  reader,
		handler: handler,
		retry:   retryCfg,
		timeout: invocationTimeout,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed after a message
// is handled or found to be unprocessable. A message whose handling still
// fails after retries blocks the partition and is tried again every
// MaxBackoff; it is never skipped.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Starting earthquake consumer loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Earthquake consumer loop stopped")
			return nil
		default:
		}

		req, msg, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if msg == nil {
				slog.Error("Failed to read earthquake event", "error", err)
				continue
			}
			slog.Warn("Dropping undecodable earthquake event",
				"offset", msg.Offset,
				"partition", msg.Partition,
				"error", err,
			)
			p.commit(ctx, msg)
			continue
		}

		if p.handle(ctx, req) {
			p.commit(ctx, msg)
		}
	}
}

// handle processes req until its offset may be committed or ctx ends.
// Offsets are committed in order, so moving past a failed message would
// commit over it and lose it.
func (p *Processor) handle(ctx context.Context, req *events.Request) bool {
	var id int
	if req.EarthquakeID != nil {
		id = *req.EarthquakeID
	}
	for round := 1; ; round++ {
		if p.process(ctx, req) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		slog.Warn("Holding earthquake event until it can be handled",
			"earthquake_id", id,
			"round", round,
			"wait", p.retry.MaxBackoff,
		)
		timer := time.NewTimer(p.retry.MaxBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// process handles one request and reports whether its offset may be committed.
func (p *Processor) process(ctx context.Context, req *events.Request) bool {
	var res *alert.Result
	err := retry.WithRetry(ctx, p.retry, "handle_earthquake", func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		var err error
		res, err = p.handler.HandleEvent(attemptCtx, *req)
		return err
	})

	var verr *events.ValidationError
	switch {
	case err == nil:
		slog.Debug("Handled earthquake event",
			"earthquake_id", res.EarthquakeID,
			"invocation_id", res.InvocationID,
			"published", res.Published,
		)
		return true

	case errors.As(err, &verr), errors.Is(err, alert.ErrConfiguration):
		slog.Warn("Dropping unprocessable earthquake event", "error", err)
		return true

	default:
		if ctx.Err() == nil {
			slog.Error("Failed to handle earthquake event", "error", err)
		}
		return false
	}
}

func (p *Processor) commit(ctx context.Context, msg *kafka.Message) {
	if err := p.reader.CommitMessage(ctx, msg); err != nil {
		slog.Error("Failed to commit offset",
			"offset", msg.Offset,
			"partition", msg.Partition,
			"error", err,
		)
	}
}
