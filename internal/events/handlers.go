package events

import (
	"context"
	"errors"
	"fmt"
)

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// Fanout delivers each entry to every handler. All handlers run even when one
// fails; the entry counts as delivered only if every handler succeeded.
type Fanout []DeliveryHandler

func (f Fanout) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// Idempotent skips entries the named consumer already handled, so a retried
// entry is not re-sent to handlers that succeeded on an earlier attempt.
func Idempotent(consumer string, tracker processedTracker, next DeliveryHandler) DeliveryHandler {
	if tracker == nil {
		return next
	}
	return HandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		eventID := entry.ID.String()
		done, err := tracker.AlreadyProcessed(ctx, consumer, eventID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := next.Handle(ctx, entry); err != nil {
			return fmt.Errorf("%s: %w", consumer, err)
		}
		if _, err := tracker.MarkProcessed(ctx, consumer, eventID); err != nil {
			return err
		}
		return nil
	})
}

// OnlyTypes passes through entries whose type is listed and acknowledges the rest.
func OnlyTypes(next DeliveryHandler, types ...string) DeliveryHandler {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return HandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		if _, ok := allowed[entry.Type]; !ok {
			return nil
		}
		return next.Handle(ctx, entry)
	})
}
