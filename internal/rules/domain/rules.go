package rules

import (
	"errors"
	"time"
)

// Scope levels for rule overrides, least specific first.
const (
	ScopeOrganization = "organization"
	ScopeSite         = "site"
	ScopeArea         = "area"
	ScopeUnit         = "unit"
)

// ErrConfigurationMissing signals that no rules resolve for a unit.
// The evaluator must flag monitoring_interrupted instead of passing.
var ErrConfigurationMissing = errors.New("rules: no configuration for unit")

// EffectiveAlertRules are the fully resolved thresholds and timing
// parameters for one unit. All temperatures are Fahrenheit.
type EffectiveAlertRules struct {
	TempHighWarnF float64
	TempHighCritF float64
	TempLowWarnF  float64
	TempLowCritF  float64

	HumidityHighWarn float64
	HumidityHighCrit float64

	ConfirmTimeDoorClosed time.Duration
	ConfirmTimeDoorOpen   time.Duration
	HysteresisF           float64
	RecoveryReadings      int

	RapidRiseF      float64
	RapidRiseWindow time.Duration
	DriftRiseF      float64
	DriftWindow     time.Duration

	DoorWarnAfter   time.Duration
	DoorCritAfter   time.Duration
	DoorCycleCount  int
	DoorCycleWindow time.Duration

	SustainedCheckpoints []time.Duration

	BatteryWarnVolts float64
	BatteryCritVolts float64
	RSSIFloor        int

	OfflineWarnAfter time.Duration
	OfflineCritAfter time.Duration

	CorrelationWindow  time.Duration
	SiteRiseMinSensors int
	SiteRiseDeltaF     float64
	IsolatedDeltaF     float64
	GasketHumidityRise float64
}

// Defaults returns the baseline rule set applied when no override
// carries a value.
func Defaults() EffectiveAlertRules {
	return EffectiveAlertRules{
		TempHighWarnF:         40,
		TempHighCritF:         45,
		TempLowWarnF:          -20,
		TempLowCritF:          -30,
		HumidityHighWarn:      65,
		HumidityHighCrit:      80,
		ConfirmTimeDoorClosed: 600 * time.Second,
		ConfirmTimeDoorOpen:   1200 * time.Second,
		HysteresisF:           2,
		RecoveryReadings:      3,
		RapidRiseF:            6,
		RapidRiseWindow:       20 * time.Minute,
		DriftRiseF:            4,
		DriftWindow:           50 * time.Minute,
		DoorWarnAfter:         5 * time.Minute,
		DoorCritAfter:         10 * time.Minute,
		DoorCycleCount:        3,
		DoorCycleWindow:       2 * time.Minute,
		SustainedCheckpoints: []time.Duration{
			5 * time.Minute,
			10 * time.Minute,
			15 * time.Minute,
			30 * time.Minute,
			60 * time.Minute,
		},
		BatteryWarnVolts:   2.4,
		BatteryCritVolts:   2.2,
		RSSIFloor:          -110,
		OfflineWarnAfter:   15 * time.Minute,
		OfflineCritAfter:   60 * time.Minute,
		CorrelationWindow:  15 * time.Minute,
		SiteRiseMinSensors: 2,
		SiteRiseDeltaF:     4,
		IsolatedDeltaF:     8,
		GasketHumidityRise: 10,
	}
}

// Override carries optional parameter values for one scope level.
// Nil fields fall through to the next less specific scope.
type Override struct {
	Scope   string
	ScopeID string

	TempHighWarnF *float64 `yaml:"temp_high_warn_f" json:"temp_high_warn_f,omitempty"`
	TempHighCritF *float64 `yaml:"temp_high_crit_f" json:"temp_high_crit_f,omitempty"`
	TempLowWarnF  *float64 `yaml:"temp_low_warn_f" json:"temp_low_warn_f,omitempty"`
	TempLowCritF  *float64 `yaml:"temp_low_crit_f" json:"temp_low_crit_f,omitempty"`

	HumidityHighWarn *float64 `yaml:"humidity_high_warn" json:"humidity_high_warn,omitempty"`
	HumidityHighCrit *float64 `yaml:"humidity_high_crit" json:"humidity_high_crit,omitempty"`

	ConfirmTimeDoorClosedSeconds *int     `yaml:"confirm_door_closed_seconds" json:"confirm_door_closed_seconds,omitempty"`
	ConfirmTimeDoorOpenSeconds   *int     `yaml:"confirm_door_open_seconds" json:"confirm_door_open_seconds,omitempty"`
	HysteresisF                  *float64 `yaml:"hysteresis_f" json:"hysteresis_f,omitempty"`
	RecoveryReadings             *int     `yaml:"recovery_readings" json:"recovery_readings,omitempty"`

	RapidRiseF             *float64 `yaml:"rapid_rise_f" json:"rapid_rise_f,omitempty"`
	RapidRiseWindowMinutes *int     `yaml:"rapid_rise_window_minutes" json:"rapid_rise_window_minutes,omitempty"`
	DriftRiseF             *float64 `yaml:"drift_rise_f" json:"drift_rise_f,omitempty"`
	DriftWindowMinutes     *int     `yaml:"drift_window_minutes" json:"drift_window_minutes,omitempty"`

	DoorWarnAfterMinutes *int `yaml:"door_warn_after_minutes" json:"door_warn_after_minutes,omitempty"`
	DoorCritAfterMinutes *int `yaml:"door_crit_after_minutes" json:"door_crit_after_minutes,omitempty"`

	BatteryWarnVolts *float64 `yaml:"battery_warn_volts" json:"battery_warn_volts,omitempty"`
	BatteryCritVolts *float64 `yaml:"battery_crit_volts" json:"battery_crit_volts,omitempty"`
	RSSIFloor        *int     `yaml:"rssi_floor" json:"rssi_floor,omitempty"`

	OfflineWarnAfterMinutes *int `yaml:"offline_warn_after_minutes" json:"offline_warn_after_minutes,omitempty"`
	OfflineCritAfterMinutes *int `yaml:"offline_crit_after_minutes" json:"offline_crit_after_minutes,omitempty"`
}

// Resolve merges overrides onto the defaults. The slice must be ordered
// least specific first (organization, site, area, unit); later entries
// win field by field.
func Resolve(overrides []Override) EffectiveAlertRules {
	resolved := Defaults()
	for _, override := range overrides {
		apply(&resolved, override)
	}
	return resolved
}

func apply(rules *EffectiveAlertRules, o Override) {
	setFloat(&rules.TempHighWarnF, o.TempHighWarnF)
	setFloat(&rules.TempHighCritF, o.TempHighCritF)
	setFloat(&rules.TempLowWarnF, o.TempLowWarnF)
	setFloat(&rules.TempLowCritF, o.TempLowCritF)
	setFloat(&rules.HumidityHighWarn, o.HumidityHighWarn)
	setFloat(&rules.HumidityHighCrit, o.HumidityHighCrit)
	setSeconds(&rules.ConfirmTimeDoorClosed, o.ConfirmTimeDoorClosedSeconds)
	setSeconds(&rules.ConfirmTimeDoorOpen, o.ConfirmTimeDoorOpenSeconds)
	setFloat(&rules.HysteresisF, o.HysteresisF)
	setInt(&rules.RecoveryReadings, o.RecoveryReadings)
	setFloat(&rules.RapidRiseF, o.RapidRiseF)
	setMinutes(&rules.RapidRiseWindow, o.RapidRiseWindowMinutes)
	setFloat(&rules.DriftRiseF, o.DriftRiseF)
	setMinutes(&rules.DriftWindow, o.DriftWindowMinutes)
	setMinutes(&rules.DoorWarnAfter, o.DoorWarnAfterMinutes)
	setMinutes(&rules.DoorCritAfter, o.DoorCritAfterMinutes)
	setFloat(&rules.BatteryWarnVolts, o.BatteryWarnVolts)
	setFloat(&rules.BatteryCritVolts, o.BatteryCritVolts)
	setInt(&rules.RSSIFloor, o.RSSIFloor)
	setMinutes(&rules.OfflineWarnAfter, o.OfflineWarnAfterMinutes)
	setMinutes(&rules.OfflineCritAfter, o.OfflineCritAfterMinutes)
}

func setFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func setInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func setSeconds(target *time.Duration, value *int) {
	if value != nil {
		*target = time.Duration(*value) * time.Second
	}
}

func setMinutes(target *time.Duration, value *int) {
	if value != nil {
		*target = time.Duration(*value) * time.Minute
	}
}
