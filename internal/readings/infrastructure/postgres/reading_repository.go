package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	readings "coldchain-cloud/internal/readings/domain"
)

// ReadingRepository persists raw sensor readings. Rows are append-only;
// the evaluator's in-memory windows are rebuilt from here after a
// restart.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Append stores one reading.
func (r *ReadingRepository) Append(ctx context.Context, reading readings.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO readings (
	unit_id, sensor_id, at, temperature_c, humidity, door_open, battery_voltage, rssi
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`,
		reading.UnitID,
		reading.SensorID,
		reading.At,
		nullableFloat(reading.TemperatureC),
		nullableFloat(reading.Humidity),
		nullableBool(reading.DoorOpen),
		nullableFloat(reading.BatteryVoltage),
		nullableInt(reading.RSSI),
	)
	return err
}

// ListSince returns a unit's readings at or after the cutoff, oldest
// first.
func (r *ReadingRepository) ListSince(ctx context.Context, unitID string, since time.Time) ([]readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("reading repo: unit id required")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT unit_id, sensor_id, at, temperature_c, humidity, door_open, battery_voltage, rssi
FROM readings
WHERE unit_id = $1 AND at >= $2
ORDER BY at ASC`, unitID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.Reading
	for rows.Next() {
		var reading readings.Reading
		var temperature sql.NullFloat64
		var humidity sql.NullFloat64
		var doorOpen sql.NullBool
		var battery sql.NullFloat64
		var rssi sql.NullInt64
		if err := rows.Scan(
			&reading.UnitID,
			&reading.SensorID,
			&reading.At,
			&temperature,
			&humidity,
			&doorOpen,
			&battery,
			&rssi,
		); err != nil {
			return nil, err
		}
		reading.At = reading.At.UTC()
		if temperature.Valid {
			v := temperature.Float64
			reading.TemperatureC = &v
		}
		if humidity.Valid {
			v := humidity.Float64
			reading.Humidity = &v
		}
		if doorOpen.Valid {
			v := doorOpen.Bool
			reading.DoorOpen = &v
		}
		if battery.Valid {
			v := battery.Float64
			reading.BatteryVoltage = &v
		}
		if rssi.Valid {
			v := int(rssi.Int64)
			reading.RSSI = &v
		}
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullableBool(value *bool) sql.NullBool {
	if value == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *value, Valid: true}
}

func nullableInt(value *int) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}
