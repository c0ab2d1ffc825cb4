package eventing

import "context"

const defaultDispatchBatch = 50

// OutboxStore drains and settles durable outbox rows.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore keeps events that could not be delivered.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord is one pending outbox row.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// Dispatcher drains the outbox onto the in-process bus. A row that
// fails to decode or that a consumer rejects is parked in the dead
// letter table with its error preserved.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq}
}

// Dispatch delivers up to limit pending rows, oldest first. A single
// bad row parks and the batch moves on; only an unreadable outbox
// fails the whole call.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultDispatchBatch
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := d.relay(ctx, record); err != nil {
			d.park(ctx, record, err)
			continue
		}
		_ = d.outbox.MarkSent(ctx, record.ID)
	}
	return nil
}

// relay decodes one row and publishes it with its envelope on the
// context so idempotent consumers see the original event id.
func (d *Dispatcher) relay(ctx context.Context, record OutboxRecord) error {
	event, err := d.registry.Decode(record.Envelope)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, record.Envelope), event)
}

func (d *Dispatcher) park(ctx context.Context, record OutboxRecord, cause error) {
	_ = d.outbox.MarkFailed(ctx, record.ID)
	if d.dlq == nil {
		return
	}
	_ = d.dlq.RecordFailure(ctx, record.Envelope, cause)
}
