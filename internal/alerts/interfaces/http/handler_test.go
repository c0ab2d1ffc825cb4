package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/auth"
)

var handlerNow = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

var alertColumns = []string{
	"id", "unit_id", "site_id", "type", "severity", "status", "escalation_level",
	"last_value", "message", "triggered_at", "acknowledged_at", "resolved_at",
	"actor_id", "resolve_reason", "created_at", "updated_at",
}

type allowAllChecker struct{ err error }

func (c allowAllChecker) EnsureUnitOrganization(context.Context, string, string) error {
	return c.err
}

func newTestHandler(t *testing.T, checker auth.UnitOrganizationChecker) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lifecycle, err := alertapp.NewLifecycle(alertrepo.NewAlertRepository(db), zap.NewNop())
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	handler, err := NewHandler(lifecycle, checker)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler, mock
}

func triggeredRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(alertColumns).AddRow(
		"alert-1", "unit-1", "site-1", alerts.TypeTempExcursion,
		alerts.SeverityWarning, status, 0,
		41.5, "msg", handlerNow, nil, nil, "", "", handlerNow, handlerNow,
	)
}

func doRequest(handler http.Handler, method, target string, identity bool) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, target, nil)
	if identity {
		request = request.WithContext(auth.WithIdentity(request.Context(), "org-1", auth.RoleOperator, "tech-7"))
	}
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestHandler_ListReturnsEmptyArray(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(sqlmock.NewRows(alertColumns))

	recorder := doRequest(handler, http.MethodGet, "/api/v1/alerts", true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if body := recorder.Body.String(); body != "[]\n" {
		t.Fatalf("empty list must encode as [], got %q", body)
	}
}

func TestHandler_ListRejectsBadTimeRange(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	recorder := doRequest(handler, http.MethodGet, "/api/v1/alerts?from=yesterday", true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet,
		"/api/v1/alerts?from=2026-02-10T09:00:00Z&to=2026-02-10T08:00:00Z", true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: status = %d", recorder.Code)
	}

	recorder = doRequest(handler, http.MethodGet, "/api/v1/alerts?limit=0", true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("zero limit: status = %d", recorder.Code)
	}
}

func TestHandler_GetUnknownAlertIs404(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows(alertColumns))

	recorder := doRequest(handler, http.MethodGet, "/api/v1/alerts/absent", true)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestHandler_GetEnforcesOrganization(t *testing.T) {
	handler, mock := newTestHandler(t, allowAllChecker{err: auth.ErrOrganizationMismatch})
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(triggeredRow(alerts.StatusTriggered))

	recorder := doRequest(handler, http.MethodGet, "/api/v1/alerts/alert-1", true)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestHandler_AckTriggeredAlert(t *testing.T) {
	handler, mock := newTestHandler(t, allowAllChecker{})

	// Action handler loads the alert for the org check, the lifecycle
	// loads it again before the status move.
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(triggeredRow(alerts.StatusTriggered))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(triggeredRow(alerts.StatusTriggered))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recorder := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/ack", true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var alert alerts.Alert
	if err := json.Unmarshal(recorder.Body.Bytes(), &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.Status != alerts.StatusAcknowledged || alert.ActorID != "tech-7" {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestHandler_AckResolvedAlertIs409(t *testing.T) {
	handler, mock := newTestHandler(t, allowAllChecker{})

	resolved := func() *sqlmock.Rows {
		return sqlmock.NewRows(alertColumns).AddRow(
			"alert-1", "unit-1", "site-1", alerts.TypeTempExcursion,
			alerts.SeverityWarning, alerts.StatusResolved, 0,
			41.5, "msg", handlerNow, nil, handlerNow, "", alerts.ResolveAuto, handlerNow, handlerNow,
		)
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(resolved())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(resolved())

	recorder := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/ack", true)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestHandler_UnknownActionIs404(t *testing.T) {
	handler, mock := newTestHandler(t, allowAllChecker{})
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("alert-1").
		WillReturnRows(triggeredRow(alerts.StatusTriggered))

	recorder := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/escalate", true)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestHandler_ListMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	recorder := doRequest(handler, http.MethodDelete, "/api/v1/alerts", true)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
}
