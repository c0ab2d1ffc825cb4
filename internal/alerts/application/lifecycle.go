package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/observability/metrics"
)

// systemActor stamps audit entries for transitions nobody clicked.
const systemActor = "system"

// Notifier publishes alert lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Event represents a lifecycle update.
type Event struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Lifecycle event types.
const (
	EventTriggered    = "triggered"
	EventEscalated    = "escalated"
	EventAcknowledged = "acknowledged"
	EventResolved     = "resolved"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Lifecycle is the sole writer of alert records. Evaluator intents,
// scheduler escalations, and operator actions all funnel through it.
type Lifecycle struct {
	repo     *alertrepo.AlertRepository
	auditor  audit.Logger
	notifier Notifier
	clock    Clock
	log      *zap.Logger
}

// LifecycleOption customizes the lifecycle manager.
type LifecycleOption func(*Lifecycle)

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) LifecycleOption {
	return func(l *Lifecycle) {
		l.notifier = notifier
	}
}

// WithAuditor assigns an audit logger.
func WithAuditor(auditor audit.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		l.auditor = auditor
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) LifecycleOption {
	return func(l *Lifecycle) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLifecycle constructs the lifecycle manager.
func NewLifecycle(repo *alertrepo.AlertRepository, log *zap.Logger, opts ...LifecycleOption) (*Lifecycle, error) {
	if repo == nil {
		return nil, errors.New("alerts lifecycle: nil repository")
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Lifecycle{repo: repo, clock: systemClock{}, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Apply executes one evaluator intent. Opening an already open alert
// refreshes it instead of duplicating it; resolving an alert that is
// not open is a no-op. Both make intent delivery safely retryable.
func (l *Lifecycle) Apply(ctx context.Context, intent alerts.Intent) error {
	if l == nil {
		return errors.New("alerts lifecycle: nil lifecycle")
	}
	switch intent.Action {
	case alerts.IntentOpen:
		return l.open(ctx, intent)
	case alerts.IntentResolve:
		return l.autoResolve(ctx, intent)
	default:
		return errors.New("alerts lifecycle: unknown intent action")
	}
}

func (l *Lifecycle) open(ctx context.Context, intent alerts.Intent) error {
	open, err := l.repo.FindOpen(ctx, intent.UnitID, intent.Type)
	if err != nil {
		return err
	}
	if open == nil {
		now := l.clock.Now().UTC()
		triggeredAt := intent.ObservedAt
		if triggeredAt.IsZero() {
			triggeredAt = now
		}
		alert := &alerts.Alert{
			ID:          uuid.NewString(),
			UnitID:      intent.UnitID,
			SiteID:      intent.SiteID,
			Type:        intent.Type,
			Severity:    intent.Severity,
			Status:      alerts.StatusTriggered,
			LastValue:   intent.Value,
			Message:     intent.Message,
			TriggeredAt: triggeredAt.UTC(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := l.repo.Create(ctx, alert)
		if err != nil {
			return err
		}
		if created {
			metrics.IncAlertEvent(EventTriggered)
			metrics.IncAlertOpened(alert.Type, alert.Severity)
			l.audit(ctx, systemActor, "alert.trigger", *alert)
			l.notify(ctx, EventTriggered, *alert)
			return nil
		}
		// Lost the race; the winner's row is the one to refresh.
		open, err = l.repo.FindOpen(ctx, intent.UnitID, intent.Type)
		if err != nil {
			return err
		}
		if open == nil {
			return alerts.ErrLifecycleConflict
		}
	}

	severity := open.Severity
	escalated := alerts.SeverityRank(intent.Severity) > alerts.SeverityRank(severity)
	if escalated {
		severity = intent.Severity
	}
	at := intent.ObservedAt
	if at.IsZero() {
		at = l.clock.Now()
	}
	if err := l.repo.UpdateObservation(ctx, open.ID, severity, intent.Message, intent.Value, at.UTC()); err != nil {
		return err
	}
	if escalated {
		open.Severity = severity
		open.LastValue = intent.Value
		open.Message = intent.Message
		open.UpdatedAt = at.UTC()
		metrics.IncAlertEvent(EventEscalated)
		l.audit(ctx, systemActor, "alert.escalate", *open)
		l.notify(ctx, EventEscalated, *open)
	}
	return nil
}

func (l *Lifecycle) autoResolve(ctx context.Context, intent alerts.Intent) error {
	open, err := l.repo.FindOpen(ctx, intent.UnitID, intent.Type)
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	at := intent.ObservedAt
	if at.IsZero() {
		at = l.clock.Now()
	}
	done, err := l.repo.MarkResolved(ctx, open.ID, alerts.ResolveAuto, "", at.UTC())
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	open.Status = alerts.StatusResolved
	open.ResolvedAt = at.UTC()
	open.ResolveReason = alerts.ResolveAuto
	open.UpdatedAt = at.UTC()
	metrics.IncAlertEvent(EventResolved)
	l.audit(ctx, systemActor, "alert.resolve", *open)
	l.notify(ctx, EventResolved, *open)
	return nil
}

// Acknowledge marks a triggered alert as seen by an operator. Already
// acknowledged alerts return unchanged; resolved ones are an error.
func (l *Lifecycle) Acknowledge(ctx context.Context, id, actorID string) (*alerts.Alert, error) {
	if l == nil {
		return nil, errors.New("alerts lifecycle: nil lifecycle")
	}
	if id == "" {
		return nil, errors.New("alerts lifecycle: alert id required")
	}
	alert, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if alert.Status == alerts.StatusResolved {
		return nil, alerts.ErrAlreadyResolved
	}
	if alert.Status == alerts.StatusAcknowledged {
		return alert, nil
	}
	ackedAt := l.clock.Now().UTC()
	done, err := l.repo.MarkAcknowledged(ctx, id, actorID, ackedAt)
	if err != nil {
		return nil, err
	}
	if !done {
		return l.repo.GetByID(ctx, id)
	}
	alert.Status = alerts.StatusAcknowledged
	alert.AcknowledgedAt = ackedAt
	alert.ActorID = actorID
	alert.UpdatedAt = ackedAt
	metrics.IncAlertEvent(EventAcknowledged)
	l.audit(ctx, actorID, "alert.acknowledge", *alert)
	l.notify(ctx, EventAcknowledged, *alert)
	return alert, nil
}

// Resolve closes an alert on an operator's say-so.
func (l *Lifecycle) Resolve(ctx context.Context, id, actorID string) (*alerts.Alert, error) {
	if l == nil {
		return nil, errors.New("alerts lifecycle: nil lifecycle")
	}
	if id == "" {
		return nil, errors.New("alerts lifecycle: alert id required")
	}
	alert, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if alert.Status == alerts.StatusResolved {
		return alert, nil
	}
	resolvedAt := l.clock.Now().UTC()
	done, err := l.repo.MarkResolved(ctx, id, alerts.ResolveManual, actorID, resolvedAt)
	if err != nil {
		return nil, err
	}
	if !done {
		return l.repo.GetByID(ctx, id)
	}
	alert.Status = alerts.StatusResolved
	alert.ResolvedAt = resolvedAt
	alert.ResolveReason = alerts.ResolveManual
	alert.ActorID = actorID
	alert.UpdatedAt = resolvedAt
	metrics.IncAlertEvent(EventResolved)
	l.audit(ctx, actorID, "alert.resolve", *alert)
	l.notify(ctx, EventResolved, *alert)
	return alert, nil
}

// Escalate raises an open alert to the given level. It reports false
// when the alert already passed the level or is no longer open, which
// is how concurrent schedulers keep each level at-most-once.
func (l *Lifecycle) Escalate(ctx context.Context, id string, level int) (bool, error) {
	if l == nil {
		return false, errors.New("alerts lifecycle: nil lifecycle")
	}
	at := l.clock.Now().UTC()
	advanced, err := l.repo.AdvanceEscalation(ctx, id, level, at)
	if err != nil || !advanced {
		return false, err
	}
	alert, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return true, err
	}
	if alert != nil {
		metrics.IncAlertEvent(EventEscalated)
		l.audit(ctx, systemActor, "alert.escalate", *alert)
		l.notify(ctx, EventEscalated, *alert)
	}
	return true, nil
}

// Get fetches an alert by id.
func (l *Lifecycle) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if l == nil {
		return nil, errors.New("alerts lifecycle: nil lifecycle")
	}
	if id == "" {
		return nil, errors.New("alerts lifecycle: alert id required")
	}
	return l.repo.GetByID(ctx, id)
}

// List returns alerts matching the filter.
func (l *Lifecycle) List(ctx context.Context, filter alertrepo.Filter) ([]alerts.Alert, error) {
	if l == nil {
		return nil, errors.New("alerts lifecycle: nil lifecycle")
	}
	return l.repo.List(ctx, filter)
}

// ListOpen returns every open alert, oldest first.
func (l *Lifecycle) ListOpen(ctx context.Context) ([]alerts.Alert, error) {
	if l == nil {
		return nil, errors.New("alerts lifecycle: nil lifecycle")
	}
	return l.repo.ListOpen(ctx)
}

func (l *Lifecycle) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, Event{Type: eventType, Alert: alert})
}

func (l *Lifecycle) audit(ctx context.Context, actorID, action string, alert alerts.Alert) {
	if l.auditor == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"type":     alert.Type,
		"severity": alert.Severity,
		"status":   alert.Status,
	})
	entry := audit.Entry{
		Actor:        actorID,
		Action:       action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		UnitID:       alert.UnitID,
		SiteID:       alert.SiteID,
		Metadata:     meta,
		CreatedAt:    l.clock.Now().UTC(),
	}
	if err := l.auditor.Log(ctx, entry); err != nil {
		l.log.Warn("audit write failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}
