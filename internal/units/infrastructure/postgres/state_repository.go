package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

// StateRepository persists per-unit runtime state. One row per unit,
// written only by the unit's partition worker.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get fetches a unit's runtime state, nil when the unit has none yet.
func (r *StateRepository) Get(ctx context.Context, unitID string) (*units.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("state repo: unit id required")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT unit_id, current_status, status_entered_at, excursion_started_at,
	consecutive_good_readings, last_reading_at, last_door_open, door_open_since,
	last_known_good_f, last_known_good_at, updated_at
FROM unit_states
WHERE unit_id = $1`, unitID)
	return scanState(row)
}

// Save upserts a unit's runtime state.
func (r *StateRepository) Save(ctx context.Context, state units.State) error {
	if r == nil || r.db == nil {
		return errors.New("state repo: nil db")
	}
	if state.UnitID == "" {
		return errors.New("state repo: unit id required")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO unit_states (
	unit_id, current_status, status_entered_at, excursion_started_at,
	consecutive_good_readings, last_reading_at, last_door_open, door_open_since,
	last_known_good_f, last_known_good_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (unit_id) DO UPDATE SET
	current_status = EXCLUDED.current_status,
	status_entered_at = EXCLUDED.status_entered_at,
	excursion_started_at = EXCLUDED.excursion_started_at,
	consecutive_good_readings = EXCLUDED.consecutive_good_readings,
	last_reading_at = EXCLUDED.last_reading_at,
	last_door_open = EXCLUDED.last_door_open,
	door_open_since = EXCLUDED.door_open_since,
	last_known_good_f = EXCLUDED.last_known_good_f,
	last_known_good_at = EXCLUDED.last_known_good_at,
	updated_at = EXCLUDED.updated_at`,
		state.UnitID,
		state.CurrentStatus,
		state.StatusEnteredAt,
		nullableTime(state.ExcursionStartedAt),
		state.ConsecutiveGoodReadings,
		nullableTime(state.LastReadingAt),
		state.LastDoorOpen,
		nullableTime(state.DoorOpenSince),
		sql.NullFloat64{Float64: state.LastKnownGoodF, Valid: !state.LastKnownGoodAt.IsZero()},
		nullableTime(state.LastKnownGoodAt),
		state.UpdatedAt,
	)
	return err
}

// ListByStatus returns unit ids currently in the given status.
func (r *StateRepository) ListByStatus(ctx context.Context, status string) ([]units.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT unit_id, current_status, status_entered_at, excursion_started_at,
	consecutive_good_readings, last_reading_at, last_door_open, door_open_since,
	last_known_good_f, last_known_good_at, updated_at
FROM unit_states
WHERE current_status = $1
ORDER BY unit_id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []units.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type stateScanner interface {
	Scan(dest ...any) error
}

func scanState(row stateScanner) (*units.State, error) {
	var state units.State
	var excursionStartedAt sql.NullTime
	var lastReadingAt sql.NullTime
	var doorOpenSince sql.NullTime
	var lastKnownGoodF sql.NullFloat64
	var lastKnownGoodAt sql.NullTime
	if err := row.Scan(
		&state.UnitID,
		&state.CurrentStatus,
		&state.StatusEnteredAt,
		&excursionStartedAt,
		&state.ConsecutiveGoodReadings,
		&lastReadingAt,
		&state.LastDoorOpen,
		&doorOpenSince,
		&lastKnownGoodF,
		&lastKnownGoodAt,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	state.StatusEnteredAt = state.StatusEnteredAt.UTC()
	state.UpdatedAt = state.UpdatedAt.UTC()
	if excursionStartedAt.Valid {
		state.ExcursionStartedAt = excursionStartedAt.Time.UTC()
	}
	if lastReadingAt.Valid {
		state.LastReadingAt = lastReadingAt.Time.UTC()
	}
	if doorOpenSince.Valid {
		state.DoorOpenSince = doorOpenSince.Time.UTC()
	}
	if lastKnownGoodF.Valid {
		state.LastKnownGoodF = lastKnownGoodF.Float64
	}
	if lastKnownGoodAt.Valid {
		state.LastKnownGoodAt = lastKnownGoodAt.Time.UTC()
	}
	return &state, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
