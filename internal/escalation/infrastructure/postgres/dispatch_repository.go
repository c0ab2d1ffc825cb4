package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	escalation "coldchain-cloud/internal/escalation/domain"
)

// DispatchRepository records escalation dispatch attempts. The durable
// log is what on-call review and retry accounting read.
type DispatchRepository struct {
	db *sql.DB
}

// NewDispatchRepository constructs a repository.
func NewDispatchRepository(db *sql.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// Record appends one dispatch attempt.
func (r *DispatchRepository) Record(ctx context.Context, d *escalation.Dispatch) error {
	if r == nil || r.db == nil {
		return errors.New("dispatch repo: nil db")
	}
	if d == nil {
		return errors.New("dispatch repo: nil dispatch")
	}
	if d.ID == "" || d.AlertID == "" {
		return errors.New("dispatch repo: missing fields")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO escalation_dispatches (
	id, alert_id, level, channel, target, result, attempts, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`,
		d.ID, d.AlertID, d.Level, d.Channel, d.Target, d.Result, d.Attempts, d.CreatedAt)
	return err
}

// ListByAlert returns dispatch attempts for an alert, oldest first.
func (r *DispatchRepository) ListByAlert(ctx context.Context, alertID string) ([]escalation.Dispatch, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("dispatch repo: nil db")
	}
	if alertID == "" {
		return nil, errors.New("dispatch repo: alert id required")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, alert_id, level, channel, target, result, attempts, created_at
FROM escalation_dispatches
WHERE alert_id = $1
ORDER BY created_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []escalation.Dispatch
	for rows.Next() {
		var d escalation.Dispatch
		if err := rows.Scan(&d.ID, &d.AlertID, &d.Level, &d.Channel, &d.Target, &d.Result, &d.Attempts, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
