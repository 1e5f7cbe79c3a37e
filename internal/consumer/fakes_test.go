package consumer

import (
	"context"

	"github.com/segmentio/kafka-go"

	"quake-alerts/internal/alert"
	"quake-alerts/internal/events"
)

type readItem struct {
	req *events.Request
	msg *kafka.Message
	err error
}

// FakeReader is a test fake for MessageReader. It cancels the run once its
// items are exhausted.
type FakeReader struct {
	Items     []readItem
	Cancel    context.CancelFunc
	CommitErr error
	Committed []int64
}

func (f *FakeReader) ReadMessage(ctx context.Context) (*events.Request, *kafka.Message, error) {
	if len(f.Items) == 0 {
		f.Cancel()
		return nil, nil, ctx.Err()
	}
	item := f.Items[0]
	f.Items = f.Items[1:]
	return item.req, item.msg, item.err
}

func (f *FakeReader) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = append(f.Committed, msg.Offset)
	return nil
}

// FakeHandler is a test fake for EventHandler. Errs are returned in order,
// one per call, then nil. When CancelAfter is set, Cancel is called on that
// call.
type FakeHandler struct {
	Errs        []error
	Calls       int
	Deadlines   int
	Handled     []int
	CancelAfter int
	Cancel      context.CancelFunc
}

func (f *FakeHandler) HandleEvent(ctx context.Context, req events.Request) (*alert.Result, error) {
	f.Calls++
	if f.CancelAfter > 0 && f.Calls == f.CancelAfter {
		f.Cancel()
	}
	if _, ok := ctx.Deadline(); ok {
		f.Deadlines++
	}
	if len(f.Errs) > 0 {
		err := f.Errs[0]
		f.Errs = f.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.Handled = append(f.Handled, *req.EarthquakeID)
	return &alert.Result{EarthquakeID: *req.EarthquakeID, Counts: alert.Counts{Published: 1}}, nil
}
