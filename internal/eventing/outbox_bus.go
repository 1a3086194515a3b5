package eventing

import (
	"context"
)

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher stores events in the outbox and delivers them right away. A
// failed delivery stays in the outbox for the dispatcher to retry.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher) *Publisher {
	return &Publisher{outbox: outbox, dispatch: dispatch}
}

// Publish writes the event to the outbox and attempts delivery. Only the
// outbox write can fail the call.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		return err
	}
	id, err := p.outbox.Insert(ctx, env)
	if err != nil {
		return err
	}
	if p.dispatch != nil {
		_ = p.dispatch.Deliver(ctx, OutboxRecord{ID: id, Envelope: env})
	}
	return nil
}
