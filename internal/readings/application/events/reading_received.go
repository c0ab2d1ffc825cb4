package events

import "time"

// ReadingReceived is raised after a sensor uplink is accepted for
// evaluation.
type ReadingReceived struct {
	EventID        string    `json:"event_id"`
	UnitID         string    `json:"unit_id"`
	SensorID       string    `json:"sensor_id"`
	TemperatureC   *float64  `json:"temperature_c,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	DoorOpen       *bool     `json:"door_open,omitempty"`
	BatteryVoltage *float64  `json:"battery_voltage,omitempty"`
	RSSI           *int      `json:"rssi,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
