package eventing

import (
	"context"

	"serramenti/internal/eventing/eventbus"
)

// ProcessedStore provides idempotency checks.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// On registers a typed handler. With a store, an event redelivered from the
// outbox reaches the consumer at most once after a success.
func On[T any](bus *eventbus.InMemoryBus, consumerName string, store ProcessedStore, handler func(ctx context.Context, event T) error) {
	if store == nil {
		eventbus.On(bus, handler)
		return
	}
	eventbus.On(bus, func(ctx context.Context, event T) error {
		return once(ctx, consumerName, store, func(ctx context.Context) error {
			return handler(ctx, event)
		})
	})
}

func once(ctx context.Context, consumerName string, store ProcessedStore, run func(context.Context) error) error {
	env, ok := EnvelopeFromContext(ctx)
	if !ok || env.EventID == "" {
		return run(ctx)
	}
	processed, err := store.HasProcessed(ctx, env.EventID, consumerName)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}
	if err := run(ctx); err != nil {
		return err
	}
	return store.MarkProcessed(ctx, env.EventID, consumerName)
}
