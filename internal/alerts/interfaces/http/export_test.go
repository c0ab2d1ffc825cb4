package http

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
)

func newTestExportHandler(t *testing.T) (*ExportHandler, sqlmock.Sqlmock) {
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
	handler, err := NewExportHandler(lifecycle)
	if err != nil {
		t.Fatalf("NewExportHandler: %v", err)
	}
	return handler, mock
}

func TestExport_CSV(t *testing.T) {
	handler, mock := newTestExportHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(triggeredRow(alerts.StatusTriggered))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/exports/alerts.csv", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %s", ct)
	}

	records, err := csv.NewReader(bytes.NewReader(recorder.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(records))
	}
	if records[0][0] != "id" || records[1][0] != "alert-1" {
		t.Fatalf("unexpected rows: %v", records)
	}
	// Unset timestamps export as empty, not zero time.
	if records[1][9] != "" || records[1][10] != "" {
		t.Fatalf("zero timestamps should be empty: %v", records[1])
	}
}

func TestExport_XLSXHasContentType(t *testing.T) {
	handler, mock := newTestExportHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(sqlmock.NewRows(alertColumns))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/exports/alerts.xlsx", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %s", ct)
	}
	if recorder.Body.Len() == 0 {
		t.Fatal("empty workbook body")
	}
}

func TestExport_PDFHasContentType(t *testing.T) {
	handler, mock := newTestExportHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WillReturnRows(triggeredRow(alerts.StatusTriggered))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/exports/alerts.pdf", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %s", ct)
	}
	if !bytes.HasPrefix(recorder.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("body is not a PDF document")
	}
}

func TestExport_UnknownFormatIs404(t *testing.T) {
	handler, _ := newTestExportHandler(t)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/exports/alerts.xml", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestExport_BadFilterIs400(t *testing.T) {
	handler, _ := newTestExportHandler(t)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/exports/alerts.csv?from=lately", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}
