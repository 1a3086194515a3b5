package eventing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBatch       = 50
	defaultMaxAttempts = 5
)

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit, maxAttempts int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	MarkDead(ctx context.Context, id string) error
}

// DLQStore records events that will not be retried.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents an undelivered outbox entry.
type OutboxRecord struct {
	ID       string
	Attempts int
	Envelope Envelope
}

// Dispatcher delivers outbox records to the in-process bus.
type Dispatcher struct {
	bus         EventBus
	outbox      OutboxStore
	registry    *Registry
	dlq         DLQStore
	maxAttempts int
	logger      zerolog.Logger
}

// DispatcherOption configures a dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts bounds redelivery before an event is dead-lettered.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		bus:         bus,
		outbox:      outbox,
		registry:    registry,
		dlq:         dlq,
		maxAttempts: defaultMaxAttempts,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch pulls undelivered records and delivers them. It returns how many
// were delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (int, error) {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultBatch
	}
	records, err := d.outbox.ListPending(ctx, limit, d.maxAttempts)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, record := range records {
		if d.Deliver(ctx, record) == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Deliver publishes one record and updates its outbox state.
func (d *Dispatcher) Deliver(ctx context.Context, record OutboxRecord) error {
	env := record.Envelope
	payload, err := d.registry.DecodePayload(env)
	if err != nil {
		d.bury(ctx, record, err)
		return err
	}
	if err := d.bus.Publish(WithEnvelope(ctx, env), payload); err != nil {
		if record.Attempts+1 >= d.maxAttempts {
			d.bury(ctx, record, err)
			return err
		}
		if markErr := d.outbox.MarkFailed(ctx, record.ID, err); markErr != nil {
			d.logger.Error().Err(markErr).Str("outbox_id", record.ID).Msg("outbox mark failed")
		}
		d.logger.Warn().Err(err).Str("event_id", env.EventID).Int("attempt", record.Attempts+1).Msg("event delivery failed")
		return err
	}
	if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
		d.logger.Error().Err(err).Str("outbox_id", record.ID).Msg("outbox mark sent")
	}
	return nil
}

func (d *Dispatcher) bury(ctx context.Context, record OutboxRecord, cause error) {
	d.logger.Error().Err(cause).Str("event_id", record.Envelope.EventID).Str("event_type", record.Envelope.EventType).Msg("event dead-lettered")
	if err := d.outbox.MarkDead(ctx, record.ID); err != nil {
		d.logger.Error().Err(err).Str("outbox_id", record.ID).Msg("outbox mark dead")
	}
	if d.dlq != nil {
		if err := d.dlq.RecordFailure(ctx, record.Envelope, cause); err != nil {
			d.logger.Error().Err(err).Str("event_id", record.Envelope.EventID).Msg("dead letter write")
		}
	}
}

// Run redelivers pending records every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.Dispatch(ctx, defaultBatch); err != nil {
				d.logger.Error().Err(err).Msg("outbox dispatch")
			} else if n > 0 {
				d.logger.Info().Int("delivered", n).Msg("outbox redelivered events")
			}
		}
	}
}
