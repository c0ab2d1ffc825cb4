package alerts

import "time"

// Alert statuses.
const (
	StatusTriggered    = "triggered"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Resolution reasons.
const (
	ResolveAuto   = "auto"
	ResolveManual = "manual"
)

// Alert types.
const (
	TypeTempExcursion       = "temp_excursion"
	TypeTempRisingFast      = "temp_rising_fast"
	TypeTempDrift           = "temp_drift"
	TypeTempSustainedDanger = "temp_sustained_danger"
	TypeHumidityExcursion   = "humidity_excursion"
	TypeDoorOpenWarning     = "door_open_warning"
	TypeDoorOpenCritical    = "door_open_critical"
	TypeDoorRapidCycle      = "door_rapid_cycle"
	TypeSensorOffline       = "sensor_offline"
	TypeMonitoringInterrupt = "monitoring_interrupted"
	TypeLowBattery          = "low_battery"
	TypeBatteryCritical     = "battery_critical"
	TypeSignalPoor          = "signal_poor"
	TypeReadingImpossible   = "reading_impossible"
	TypeSiteWideTempRise    = "site_wide_temp_rise"
	TypeIsolatedUnitFailure = "isolated_unit_failure"
	TypeGasketLeak          = "gasket_leak_infer"
)

// Alert is a durable, severity-ranked alarm condition for a unit.
// Rows are never hard-deleted; resolution is a soft lifecycle step.
type Alert struct {
	ID              string    `json:"id"`
	UnitID          string    `json:"unit_id"`
	SiteID          string    `json:"site_id"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	EscalationLevel int       `json:"escalation_level"`
	LastValue       float64   `json:"last_value"`
	Message         string    `json:"message,omitempty"`
	TriggeredAt     time.Time `json:"triggered_at"`
	AcknowledgedAt  time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt      time.Time `json:"resolved_at,omitempty"`
	ActorID         string    `json:"actor_id,omitempty"`
	ResolveReason   string    `json:"resolve_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the alert still demands attention.
func (a Alert) Open() bool {
	return a.Status == StatusTriggered || a.Status == StatusAcknowledged
}

// IntentAction distinguishes open and resolve intents.
type IntentAction string

const (
	IntentOpen    IntentAction = "open"
	IntentResolve IntentAction = "resolve"
)

// Intent is the evaluator's instruction to the lifecycle manager.
// The evaluator never touches alert storage directly.
type Intent struct {
	Action     IntentAction
	UnitID     string
	SiteID     string
	Type       string
	Severity   string
	Value      float64
	ObservedAt time.Time
	Message    string
}

// SeverityRank orders severities for escalation and tie-breaking.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// TypePriority orders alert types for tie-breaking among candidates of
// equal severity on the same reading. Lower is more actionable.
func TypePriority(alertType string) int {
	switch alertType {
	case TypeTempSustainedDanger:
		return 0
	case TypeTempExcursion:
		return 1
	case TypeTempRisingFast:
		return 2
	case TypeTempDrift:
		return 3
	case TypeHumidityExcursion:
		return 4
	case TypeDoorOpenCritical:
		return 5
	case TypeDoorOpenWarning:
		return 6
	case TypeDoorRapidCycle:
		return 7
	case TypeReadingImpossible:
		return 8
	case TypeBatteryCritical:
		return 9
	case TypeLowBattery:
		return 10
	case TypeSignalPoor:
		return 11
	case TypeGasketLeak:
		return 12
	case TypeIsolatedUnitFailure:
		return 13
	case TypeSiteWideTempRise:
		return 14
	case TypeSensorOffline:
		return 15
	case TypeMonitoringInterrupt:
		return 16
	default:
		return 99
	}
}
