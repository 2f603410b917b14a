package givebus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/givebus/givebus/pkg/givebus/dlq"
	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/idempotency"
	"github.com/givebus/givebus/pkg/givebus/processor"
)

// RegisterProcessors subscribes each processor to the hybrid bus under
// every pattern it declares. When a dead-letter manager is supplied,
// write failures are captured for later reprocessing before the error
// propagates; business rejections (validation, authorization) are not
// dead-lettered because retrying them cannot succeed. The returned
// closure unsubscribes everything.
func RegisterProcessors(h *HybridBus, manager *dlq.Manager, processors ...processor.Processor) func() {
	var unsubs []func()
	for _, p := range processors {
		p := p
		handle := func(ctx context.Context, evt *event.Event) error {
			err := p.Handle(ctx, evt)
			if err != nil && manager != nil && retryable(err) {
				if addErr := manager.Add(ctx, evt, p.Name(), err); addErr != nil {
					h.logger.Error("dead-letter capture failed",
						slog.String("event_id", evt.ID),
						slog.String("processor", p.Name()),
						slog.String("error", addErr.Error()),
					)
				}
			}
			return err
		}
		for _, pattern := range p.EventTypes() {
			unsubs = append(unsubs, h.Subscribe(pattern, handle))
		}
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// ReprocessAll drains the dead-letter queue for one processor by
// handing each entry back to that processor alone; other subscribers of
// the same patterns never see the retry. The event's idempotency marker
// is cleared first so the retry is not skipped as a duplicate.
func ReprocessAll(ctx context.Context, manager *dlq.Manager, tracker *idempotency.Tracker, p processor.Processor) (dlq.Result, error) {
	return manager.ReprocessAll(ctx, p.Name(), func(ctx context.Context, evt *event.Event) error {
		if tracker != nil {
			tracker.Clear(evt.ID, p.Name())
		}
		return p.Handle(ctx, evt)
	})
}

// retryable reports whether a processor failure could succeed on a
// later attempt. Malformed events and authorization rejections are
// permanent.
func retryable(err error) bool {
	var verr *event.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var aerr *processor.AuthorizationError
	return !errors.As(err, &aerr)
}
