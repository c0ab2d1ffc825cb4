package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for alerts. The alerts table
// carries a partial unique index on (unit_id, type) over open statuses,
// so at most one open row per unit and type can exist no matter how
// many writers race.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert unless an open row for the same unit and
// type already exists. It reports whether the row was inserted; the
// loser of a concurrent open race gets false with no error.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	if alert == nil {
		return false, errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.UnitID == "" || alert.Type == "" {
		return false, errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, unit_id, site_id, type, severity, status, escalation_level,
	last_value, message, triggered_at, acknowledged_at, resolved_at,
	actor_id, resolve_reason, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12,
	$13, $14, $15, $16
)
ON CONFLICT (unit_id, type) WHERE status IN ('triggered', 'acknowledged')
DO NOTHING`,
		alert.ID,
		alert.UnitID,
		alert.SiteID,
		alert.Type,
		alert.Severity,
		alert.Status,
		alert.EscalationLevel,
		sql.NullFloat64{Float64: alert.LastValue, Valid: true},
		alert.Message,
		alert.TriggeredAt,
		nullableTime(alert.AcknowledgedAt),
		nullableTime(alert.ResolvedAt),
		alert.ActorID,
		alert.ResolveReason,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectAlert+`
WHERE id = $1`, id)
	return scanAlert(row)
}

// FindOpen returns the open alert for a unit and type, if any.
func (r *AlertRepository) FindOpen(ctx context.Context, unitID, alertType string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if unitID == "" || alertType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, selectAlert+`
WHERE unit_id = $1 AND type = $2 AND status IN ('triggered', 'acknowledged')
ORDER BY created_at DESC
LIMIT 1`, unitID, alertType)
	return scanAlert(row)
}

// UpdateObservation refreshes an open alert with the latest value,
// message, and severity. Severity only moves upward.
func (r *AlertRepository) UpdateObservation(ctx context.Context, id, severity, message string, value float64, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET severity = $1, message = $2, last_value = $3, updated_at = $4
WHERE id = $5 AND status IN ('triggered', 'acknowledged')`,
		severity, message, value, updatedAt, id)
	return err
}

// MarkAcknowledged moves a triggered alert to acknowledged. It reports
// false when the row already left the triggered state.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id, actorID string, ackedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, acknowledged_at = $2, actor_id = $3, updated_at = $4
WHERE id = $5 AND status = $6`,
		alerts.StatusAcknowledged, ackedAt, actorID, ackedAt, id, alerts.StatusTriggered)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkResolved closes an open alert. It reports false when the row was
// already resolved by a concurrent writer.
func (r *AlertRepository) MarkResolved(ctx context.Context, id, reason, actorID string, resolvedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, resolved_at = $2, resolve_reason = $3, actor_id = $4, updated_at = $5
WHERE id = $6 AND status IN ('triggered', 'acknowledged')`,
		alerts.StatusResolved, resolvedAt, reason, actorID, resolvedAt, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AdvanceEscalation raises the escalation level of an open alert. The
// level guard makes the step idempotent: only one of several racing
// schedulers observes true for a given level.
func (r *AlertRepository) AdvanceEscalation(ctx context.Context, id string, level int, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET escalation_level = $1, updated_at = $2
WHERE id = $3 AND escalation_level < $1 AND status IN ('triggered', 'acknowledged')`,
		level, at, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListOpen returns all open alerts, oldest trigger first. The
// escalation scheduler feeds on this.
func (r *AlertRepository) ListOpen(ctx context.Context) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, selectAlert+`
WHERE status IN ('triggered', 'acknowledged')
ORDER BY triggered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	UnitID string
	SiteID string
	Status string
	Type   string
	From   time.Time
	To     time.Time
	Limit  int
}

// List returns alerts matching the filter, newest trigger first.
func (r *AlertRepository) List(ctx context.Context, filter Filter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := selectAlert + `
WHERE 1=1`
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.UnitID != "" {
		query += " AND unit_id = " + arg(filter.UnitID)
	}
	if filter.SiteID != "" {
		query += " AND site_id = " + arg(filter.SiteID)
	}
	if filter.Status != "" {
		query += " AND status = " + arg(filter.Status)
	}
	if filter.Type != "" {
		query += " AND type = " + arg(filter.Type)
	}
	if !filter.From.IsZero() {
		query += " AND triggered_at >= " + arg(filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND triggered_at < " + arg(filter.To.UTC())
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

const selectAlert = `
SELECT id, unit_id, site_id, type, severity, status, escalation_level,
	last_value, message, triggered_at, acknowledged_at, resolved_at,
	actor_id, resolve_reason, created_at, updated_at
FROM alerts`

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var lastValue sql.NullFloat64
	var acknowledgedAt sql.NullTime
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.UnitID,
		&alert.SiteID,
		&alert.Type,
		&alert.Severity,
		&alert.Status,
		&alert.EscalationLevel,
		&lastValue,
		&alert.Message,
		&alert.TriggeredAt,
		&acknowledgedAt,
		&resolvedAt,
		&alert.ActorID,
		&alert.ResolveReason,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if lastValue.Valid {
		alert.LastValue = lastValue.Float64
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	return &alert, nil
}

func collectAlerts(rows *sql.Rows) ([]alerts.Alert, error) {
	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
