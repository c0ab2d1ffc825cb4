package events

import (
	"context"

	"go.uber.org/zap"

	alertapp "coldchain-cloud/internal/alerts/application"
)

// Publisher writes events to the durable outbox.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// OutboxNotifier mirrors alert lifecycle transitions into the event
// outbox so downstream consumers replay them reliably.
type OutboxNotifier struct {
	publisher Publisher
	log       *zap.Logger
}

// NewOutboxNotifier constructs an outbox notifier.
func NewOutboxNotifier(publisher Publisher, log *zap.Logger) *OutboxNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxNotifier{publisher: publisher, log: log}
}

// Notify implements alertapp.Notifier.
func (n *OutboxNotifier) Notify(ctx context.Context, event alertapp.Event) {
	if n == nil || n.publisher == nil {
		return
	}
	payload := AlertStateChanged{
		AlertID:         event.Alert.ID,
		UnitID:          event.Alert.UnitID,
		SiteID:          event.Alert.SiteID,
		Type:            event.Alert.Type,
		Severity:        event.Alert.Severity,
		Status:          event.Alert.Status,
		Transition:      event.Type,
		EscalationLevel: event.Alert.EscalationLevel,
		OccurredAt:      event.Alert.UpdatedAt,
	}
	if err := n.publisher.Publish(ctx, payload); err != nil {
		n.log.Error("alert event publish failed",
			zap.String("alert_id", event.Alert.ID),
			zap.String("transition", event.Type),
			zap.Error(err))
	}
}
