package readings

import (
	"errors"
	"time"
)

// DisconnectCode is the raw value LoRaWAN temperature probes report when
// the external probe is disconnected (0x7FFF / 100 in Celsius).
const DisconnectCode = 327.67

// Plausible physical range for cold-chain probes, in Celsius.
const (
	MinPlausibleC = -90.0
	MaxPlausibleC = 70.0
)

// Reading is one normalized sensor observation for a monitored unit.
// Temperatures arrive in native Celsius; rule comparisons happen in
// Fahrenheit via TemperatureF.
type Reading struct {
	UnitID         string    `json:"unit_id"`
	SensorID       string    `json:"sensor_id"`
	At             time.Time `json:"at"`
	TemperatureC   *float64  `json:"temperature_c,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	DoorOpen       *bool     `json:"door_open,omitempty"`
	BatteryVoltage *float64  `json:"battery_voltage,omitempty"`
	RSSI           *int      `json:"rssi,omitempty"`
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.UnitID == "" {
		return errors.New("reading: empty unit id")
	}
	if r.SensorID == "" {
		return errors.New("reading: empty sensor id")
	}
	if r.At.IsZero() {
		return errors.New("reading: zero timestamp")
	}
	return nil
}

// HasTemperature reports whether the reading carries a usable temperature.
// Disconnect codes and physically impossible values are excluded.
func (r Reading) HasTemperature() bool {
	return r.TemperatureC != nil && !r.TemperatureImpossible()
}

// TemperatureImpossible reports whether the raw temperature is a
// disconnect error code or outside the plausible physical range.
func (r Reading) TemperatureImpossible() bool {
	if r.TemperatureC == nil {
		return false
	}
	c := *r.TemperatureC
	if c == DisconnectCode || c == -DisconnectCode {
		return true
	}
	return c < MinPlausibleC || c > MaxPlausibleC
}

// TemperatureF returns the Fahrenheit-resolved temperature.
// Callers must check HasTemperature first.
func (r Reading) TemperatureF() float64 {
	if r.TemperatureC == nil {
		return 0
	}
	return CToF(*r.TemperatureC)
}

// CToF converts Celsius to Fahrenheit.
func CToF(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}
