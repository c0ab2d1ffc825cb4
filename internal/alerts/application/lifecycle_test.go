package application

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/audit"
)

var lifecycleNow = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type captureNotifier struct {
	events []Event
}

func (n *captureNotifier) Notify(_ context.Context, event Event) {
	n.events = append(n.events, event)
}

var alertColumns = []string{
	"id", "unit_id", "site_id", "type", "severity", "status", "escalation_level",
	"last_value", "message", "triggered_at", "acknowledged_at", "resolved_at",
	"actor_id", "resolve_reason", "created_at", "updated_at",
}

func newTestLifecycle(t *testing.T) (*Lifecycle, sqlmock.Sqlmock, *captureNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notifier := &captureNotifier{}
	lifecycle, err := NewLifecycle(
		alertrepo.NewAlertRepository(db),
		zap.NewNop(),
		WithNotifier(notifier),
		WithClock(fixedClock{at: lifecycleNow}),
	)
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	return lifecycle, mock, notifier
}

func openAlertRow(severity string) *sqlmock.Rows {
	return sqlmock.NewRows(alertColumns).AddRow(
		"alert-1", "unit-1", "site-1", alerts.TypeTempExcursion,
		severity, alerts.StatusTriggered, 0,
		41.5, "msg", lifecycleNow, nil, nil, "", "", lifecycleNow, lifecycleNow,
	)
}

func TestLifecycle_OpenCreatesAndNotifies(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(sqlmock.NewRows(alertColumns))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentOpen,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		Severity:   alerts.SeverityWarning,
		Value:      41.5,
		ObservedAt: lifecycleNow,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != EventTriggered {
		t.Fatalf("unexpected events: %+v", notifier.events)
	}
	if notifier.events[0].Alert.Status != alerts.StatusTriggered {
		t.Fatalf("alert status = %s", notifier.events[0].Alert.Status)
	}
}

func TestLifecycle_OpenRefreshesExisting(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(openAlertRow(alerts.SeverityWarning))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentOpen,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		Severity:   alerts.SeverityWarning,
		Value:      42.0,
		ObservedAt: lifecycleNow.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
	// Same severity is a silent refresh.
	if len(notifier.events) != 0 {
		t.Fatalf("refresh must not notify: %+v", notifier.events)
	}
}

func TestLifecycle_OpenEscalatesSeverity(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(openAlertRow(alerts.SeverityWarning))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentOpen,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		Severity:   alerts.SeverityCritical,
		Value:      46.0,
		ObservedAt: lifecycleNow.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != EventEscalated {
		t.Fatalf("unexpected events: %+v", notifier.events)
	}
	if notifier.events[0].Alert.Severity != alerts.SeverityCritical {
		t.Fatalf("severity = %s", notifier.events[0].Alert.Severity)
	}
}

func TestLifecycle_OpenLostRaceRefreshesWinner(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	// No open row, insert swallowed by the partial index, second lookup
	// finds the winner's row.
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(sqlmock.NewRows(alertColumns))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(openAlertRow(alerts.SeverityWarning))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentOpen,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		Severity:   alerts.SeverityWarning,
		Value:      41.5,
		ObservedAt: lifecycleNow,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("losing the race must not double-notify: %+v", notifier.events)
	}
}

func TestLifecycle_AutoResolveWithoutOpenAlertIsNoop(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(sqlmock.NewRows(alertColumns))

	err := lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentResolve,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		ObservedAt: lifecycleNow,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("no-op resolve must not notify: %+v", notifier.events)
	}
}

func TestLifecycle_AutoResolveClosesOpenAlert(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(openAlertRow(alerts.SeverityWarning))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentResolve,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		ObservedAt: lifecycleNow.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != EventResolved {
		t.Fatalf("unexpected events: %+v", notifier.events)
	}
	resolved := notifier.events[0].Alert
	if resolved.Status != alerts.StatusResolved || resolved.ResolveReason != alerts.ResolveAuto {
		t.Fatalf("unexpected resolved alert: %+v", resolved)
	}
}

func TestLifecycle_AcknowledgeIsIdempotent(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	acked := sqlmock.NewRows(alertColumns).AddRow(
		"alert-1", "unit-1", "site-1", alerts.TypeTempExcursion,
		alerts.SeverityWarning, alerts.StatusAcknowledged, 0,
		41.5, "msg", lifecycleNow, lifecycleNow, nil, "tech-7", "", lifecycleNow, lifecycleNow,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(acked)

	alert, err := lifecycle.Acknowledge(context.Background(), "alert-1", "tech-7")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if alert.Status != alerts.StatusAcknowledged {
		t.Fatalf("status = %s", alert.Status)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("repeat ack must not notify: %+v", notifier.events)
	}
}

func TestLifecycle_AcknowledgeResolvedFails(t *testing.T) {
	lifecycle, mock, _ := newTestLifecycle(t)

	resolved := sqlmock.NewRows(alertColumns).AddRow(
		"alert-1", "unit-1", "site-1", alerts.TypeTempExcursion,
		alerts.SeverityWarning, alerts.StatusResolved, 0,
		41.5, "msg", lifecycleNow, nil, lifecycleNow, "", alerts.ResolveAuto, lifecycleNow, lifecycleNow,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(resolved)

	if _, err := lifecycle.Acknowledge(context.Background(), "alert-1", "tech-7"); err != alerts.ErrAlreadyResolved {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestLifecycle_EscalateSkipsStaleLevel(t *testing.T) {
	lifecycle, mock, notifier := newTestLifecycle(t)

	mock.ExpectExec(regexp.QuoteMeta("escalation_level < $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	advanced, err := lifecycle.Escalate(context.Background(), "alert-1", 1)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if advanced {
		t.Fatal("stale level must not advance")
	}
	if len(notifier.events) != 0 {
		t.Fatalf("stale escalation must not notify: %+v", notifier.events)
	}
}

type captureAuditor struct {
	entries []audit.Entry
}

func (a *captureAuditor) Log(_ context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func TestLifecycle_SystemTransitionsAreAudited(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	auditor := &captureAuditor{}
	lifecycle, err := NewLifecycle(
		alertrepo.NewAlertRepository(db),
		zap.NewNop(),
		WithClock(fixedClock{at: lifecycleNow}),
		WithAuditor(auditor),
	)
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(sqlmock.NewRows(alertColumns))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentOpen,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		Severity:   alerts.SeverityWarning,
		ObservedAt: lifecycleNow,
	})
	if err != nil {
		t.Fatalf("Apply open: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(openAlertRow(alerts.SeverityWarning))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = lifecycle.Apply(context.Background(), alerts.Intent{
		Action:     alerts.IntentResolve,
		UnitID:     "unit-1",
		Type:       alerts.TypeTempExcursion,
		ObservedAt: lifecycleNow.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Apply resolve: %v", err)
	}

	if len(auditor.entries) != 2 {
		t.Fatalf("entries = %+v", auditor.entries)
	}
	if auditor.entries[0].Action != "alert.trigger" || auditor.entries[1].Action != "alert.resolve" {
		t.Fatalf("actions = %q, %q", auditor.entries[0].Action, auditor.entries[1].Action)
	}
	for _, entry := range auditor.entries {
		if entry.Actor != "system" {
			t.Fatalf("actor = %q", entry.Actor)
		}
		if entry.UnitID != "unit-1" || entry.ResourceType != "alert" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	}
}
