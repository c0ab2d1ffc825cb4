package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "coldchain_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	readingsReceived prometheus.Counter
	readingsRejected prometheus.Counter

	evaluationLatency prometheus.Histogram
	statusTransitions *prometheus.CounterVec
	sweepRuns         prometheus.Counter

	alertEventsTotal *prometheus.CounterVec
	alertsOpened     *prometheus.CounterVec

	escalationDispatches *prometheus.CounterVec
	escalationLatency    *prometheus.HistogramVec

	notificationsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		readingsReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_received_total",
				Help: "Total readings accepted for evaluation",
			},
		)
		readingsRejected = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_rejected_total",
				Help: "Total readings rejected before evaluation",
			},
		)

		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Per-reading evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		statusTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "unit_status_transitions_total",
				Help: "Total unit status transitions by new status",
			},
			[]string{"status"},
		)
		sweepRuns = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "liveness_sweeps_total",
				Help: "Total liveness sweep passes",
			},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		alertsOpened = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_opened_total",
				Help: "Total alerts opened by type and severity",
			},
			[]string{"type", "severity"},
		)

		escalationDispatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "escalation_dispatches_total",
				Help: "Total escalation dispatches by level and result",
			},
			[]string{"level", "result"},
		)
		escalationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "escalation_latency_seconds",
				Help:    "Escalation dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_export_total",
				Help: "Total alert export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_export_latency_seconds",
				Help:    "Alert export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			readingsReceived,
			readingsRejected,
			evaluationLatency,
			statusTransitions,
			sweepRuns,
			alertEventsTotal,
			alertsOpened,
			escalationDispatches,
			escalationLatency,
			notificationsTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncReadingsReceived increments the accepted reading counter.
func IncReadingsReceived() {
	if readingsReceived != nil {
		readingsReceived.Inc()
	}
}

// IncReadingsRejected increments the rejected reading counter.
func IncReadingsRejected() {
	if readingsRejected != nil {
		readingsRejected.Inc()
	}
}

// ObserveEvaluation records one reading's evaluation latency.
func ObserveEvaluation(duration time.Duration) {
	if evaluationLatency != nil {
		evaluationLatency.Observe(duration.Seconds())
	}
}

// IncStatusTransitions counts a unit entering a new status.
func IncStatusTransitions(status string) {
	if status == "" {
		status = "unknown"
	}
	if statusTransitions != nil {
		statusTransitions.WithLabelValues(status).Inc()
	}
}

// IncSweeps counts completed liveness sweep passes.
func IncSweeps() {
	if sweepRuns != nil {
		sweepRuns.Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncAlertOpened counts a newly opened alert.
func IncAlertOpened(alertType, severity string) {
	if alertType == "" {
		alertType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}
	if alertsOpened != nil {
		alertsOpened.WithLabelValues(alertType, severity).Inc()
	}
}

// ObserveEscalation records a dispatch attempt for an escalation level.
func ObserveEscalation(level, result string, duration time.Duration) {
	if level == "" {
		level = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if escalationDispatches != nil {
		escalationDispatches.WithLabelValues(level, result).Inc()
	}
	if escalationLatency != nil {
		escalationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncNotification counts one delivery attempt on a channel.
func IncNotification(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(channel, result).Inc()
	}
}

// ObserveExport records alert export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
