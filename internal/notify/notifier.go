package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
	org "coldchain-cloud/internal/org/domain"
)

// UnitReader loads unit metadata for message rendering.
type UnitReader interface {
	Get(ctx context.Context, id string) (*org.Unit, error)
}

// Clock provides time for dedupe bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert lifecycle events and sends them on one
// channel. Escalation ladders are the scheduler's business; this is
// the immediate "something changed" path.
type Notifier struct {
	units        UnitReader
	channel      Channel
	channelName  string
	template     *Template
	clock        Clock
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the
// same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the
// window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(units UnitReader, channel Channel, channelName string, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, fmt.Errorf("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	if channelName == "" {
		channelName = "push"
	}
	n := &Notifier{
		units:       units,
		channel:     channel,
		channelName: channelName,
		template:    template,
		clock:       systemClock{},
		sent:        make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements the alert lifecycle Notifier.
func (n *Notifier) Notify(ctx context.Context, event alertapp.Event) {
	if n == nil || n.channel == nil {
		return
	}
	data := n.buildTemplateData(ctx, event)
	content, err := n.template.Render(data)
	if err != nil {
		return
	}
	if !n.shouldSend(event.Alert.ID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, "", content); err != nil {
		metrics.IncNotification(n.channelName, metrics.ResultError)
		return
	}
	metrics.IncNotification(n.channelName, metrics.ResultSuccess)
	n.markSent(event.Alert.ID, event.Type, content)
}

func (n *Notifier) buildTemplateData(ctx context.Context, event alertapp.Event) TemplateData {
	alert := event.Alert
	unitName := alert.UnitID
	if n.units != nil {
		if unit, err := n.units.Get(ctx, alert.UnitID); err == nil && unit != nil && unit.Name != "" {
			unitName = unit.Name
		}
	}
	triggeredAt := alert.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = alert.CreatedAt
	}
	return TemplateData{
		Unit:        unitName,
		UnitID:      alert.UnitID,
		SiteID:      alert.SiteID,
		Condition:   conditionLabel(alert.Type),
		Severity:    alert.Severity,
		Value:       fmt.Sprintf("%.2f", alert.LastValue),
		TriggeredAt: triggeredAt.UTC().Format(time.RFC3339),
		Status:      alert.Status,
		Detail:      alert.Message,
		Event:       event.Type,
		EventLabel:  eventLabel(event.Type),
		Level:       alert.EscalationLevel,
	}
}

func conditionLabel(alertType string) string {
	switch alertType {
	case alerts.TypeTempExcursion:
		return "Temperature excursion"
	case alerts.TypeTempRisingFast:
		return "Temperature rising fast"
	case alerts.TypeTempDrift:
		return "Temperature drift"
	case alerts.TypeTempSustainedDanger:
		return "Sustained temperature breach"
	case alerts.TypeHumidityExcursion:
		return "Humidity excursion"
	case alerts.TypeDoorOpenWarning, alerts.TypeDoorOpenCritical:
		return "Door left open"
	case alerts.TypeDoorRapidCycle:
		return "Door cycling rapidly"
	case alerts.TypeSensorOffline:
		return "Sensor offline"
	case alerts.TypeMonitoringInterrupt:
		return "Monitoring interrupted"
	case alerts.TypeLowBattery, alerts.TypeBatteryCritical:
		return "Sensor battery low"
	case alerts.TypeSignalPoor:
		return "Poor radio signal"
	case alerts.TypeReadingImpossible:
		return "Probe fault"
	case alerts.TypeSiteWideTempRise:
		return "Site-wide temperature rise"
	case alerts.TypeIsolatedUnitFailure:
		return "Isolated unit failure"
	case alerts.TypeGasketLeak:
		return "Suspected gasket leak"
	default:
		return strings.ReplaceAll(alertType, "_", " ")
	}
}

func eventLabel(event string) string {
	switch event {
	case alertapp.EventTriggered:
		return "Triggered"
	case alertapp.EventEscalated:
		return "Escalated"
	case alertapp.EventAcknowledged:
		return "Acknowledged"
	case alertapp.EventResolved:
		return "Resolved"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
