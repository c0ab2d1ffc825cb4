package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	org "coldchain-cloud/internal/org/domain"
)

// UnitRepository reads unit records from the shared organizational schema.
type UnitRepository struct {
	db *sql.DB
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db *sql.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

// Get fetches one unit with its assigned sensors.
func (r *UnitRepository) Get(ctx context.Context, id string) (*org.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, area_id, site_id, organization_id, expected_checkin_seconds
FROM units
WHERE id = $1`, id)
	unit, err := scanUnit(row)
	if err != nil || unit == nil {
		return unit, err
	}
	sensors, err := r.listSensors(ctx, unit.ID)
	if err != nil {
		return nil, err
	}
	unit.SensorIDs = sensors
	return unit, nil
}

// ListAll returns every unit, used by the liveness sweeper.
func (r *UnitRepository) ListAll(ctx context.Context) ([]org.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, area_id, site_id, organization_id, expected_checkin_seconds
FROM units
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []org.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		sensors, err := r.listSensors(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].SensorIDs = sensors
	}
	return result, nil
}

// ListBySite returns units belonging to a site, used by pattern detection.
func (r *UnitRepository) ListBySite(ctx context.Context, siteID string) ([]org.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("unit repo: empty site id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, area_id, site_id, organization_id, expected_checkin_seconds
FROM units
WHERE site_id = $1
ORDER BY id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []org.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *unit)
	}
	return result, rows.Err()
}

// UnitIDForSensor resolves which unit a sensor is assigned to. Empty
// when the sensor is unknown.
func (r *UnitRepository) UnitIDForSensor(ctx context.Context, sensorID string) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("unit repo: nil db")
	}
	if sensorID == "" {
		return "", errors.New("unit repo: empty sensor id")
	}
	var unitID string
	err := r.db.QueryRowContext(ctx, `
SELECT unit_id
FROM unit_sensors
WHERE sensor_id = $1`, sensorID).Scan(&unitID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return unitID, nil
}

func (r *UnitRepository) listSensors(ctx context.Context, unitID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT sensor_id
FROM unit_sensors
WHERE unit_id = $1
ORDER BY sensor_id`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sensors = append(sensors, id)
	}
	return sensors, rows.Err()
}

type unitScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row unitScanner) (*org.Unit, error) {
	var unit org.Unit
	var checkinSeconds sql.NullInt64
	if err := row.Scan(
		&unit.ID,
		&unit.Name,
		&unit.AreaID,
		&unit.SiteID,
		&unit.OrganizationID,
		&checkinSeconds,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if checkinSeconds.Valid {
		unit.ExpectedCheckin = time.Duration(checkinSeconds.Int64) * time.Second
	}
	return &unit, nil
}
