package http

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
)

// ExportHandler serves alert history downloads for compliance reviews.
type ExportHandler struct {
	lifecycle *alertapp.Lifecycle
}

// NewExportHandler constructs an export handler.
func NewExportHandler(lifecycle *alertapp.Lifecycle) (*ExportHandler, error) {
	if lifecycle == nil {
		return nil, errors.New("alerts export: nil lifecycle")
	}
	return &ExportHandler{lifecycle: lifecycle}, nil
}

// ServeHTTP handles /api/v1/exports/alerts.{csv,xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var format string
	switch r.URL.Path {
	case "/api/v1/exports/alerts.csv":
		format = "csv"
	case "/api/v1/exports/alerts.xlsx":
		format = "xlsx"
	case "/api/v1/exports/alerts.pdf":
		format = "pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	started := time.Now()

	filter, err := parseFilter(r)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.lifecycle.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case "csv":
		payload, err = buildAlertsCSV(list)
		contentType = "text/csv"
	case "xlsx":
		payload, err = buildAlertsXLSX(list)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		payload, err = buildAlertsPDF(list)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "export build failed", http.StatusInternalServerError)
		return
	}

	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=alerts."+format)
	_, _ = w.Write(payload)
}

func buildAlertsCSV(list []alerts.Alert) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{
		"id", "unit_id", "site_id", "type", "severity", "status",
		"escalation_level", "last_value", "triggered_at", "acknowledged_at",
		"resolved_at", "resolve_reason",
	}); err != nil {
		return nil, err
	}
	for _, alert := range list {
		if err := writer.Write([]string{
			alert.ID,
			alert.UnitID,
			alert.SiteID,
			alert.Type,
			alert.Severity,
			alert.Status,
			strconv.Itoa(alert.EscalationLevel),
			strconv.FormatFloat(alert.LastValue, 'f', 2, 64),
			formatExportTime(alert.TriggeredAt),
			formatExportTime(alert.AcknowledgedAt),
			formatExportTime(alert.ResolvedAt),
			alert.ResolveReason,
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildAlertsXLSX(list []alerts.Alert) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "alerts"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{
		"ID", "Unit", "Site", "Type", "Severity", "Status",
		"Escalation Level", "Last Value", "Triggered", "Acknowledged",
		"Resolved", "Resolve Reason",
	}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, alert := range list {
		row := i + 2
		values := []any{
			alert.ID, alert.UnitID, alert.SiteID, alert.Type,
			alert.Severity, alert.Status, alert.EscalationLevel,
			alert.LastValue, formatExportTime(alert.TriggeredAt),
			formatExportTime(alert.AcknowledgedAt),
			formatExportTime(alert.ResolvedAt), alert.ResolveReason,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildAlertsPDF(list []alerts.Alert) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 5, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 5, fmt.Sprintf("Alerts: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(32, 6, "Unit", "1", 0, "C", false, 0, "")
	pdf.CellFormat(42, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(26, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(42, 6, "Triggered", "1", 0, "C", false, 0, "")
	pdf.CellFormat(42, 6, "Resolved", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, alert := range list {
		pdf.CellFormat(32, 6, alert.UnitID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(42, 6, alert.Type, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(26, 6, alert.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, strconv.Itoa(alert.EscalationLevel), "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, fmt.Sprintf("%.2f", alert.LastValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(42, 6, formatExportTime(alert.TriggeredAt), "1", 0, "C", false, 0, "")
		pdf.CellFormat(42, 6, formatExportTime(alert.ResolvedAt), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatExportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
