package units

import (
	"fmt"
	"time"
)

// Unit statuses. Status is derived by the evaluator only; external
// callers never set it directly.
const (
	StatusOK                  = "ok"
	StatusExcursion           = "excursion"
	StatusAlarmActive         = "alarm_active"
	StatusRestoring           = "restoring"
	StatusOffline             = "offline"
	StatusMonitoringInterrupt = "monitoring_interrupted"
	StatusManualRequired      = "manual_required"
)

// State is the per-unit runtime record mutated only by the evaluator.
type State struct {
	UnitID                  string    `json:"unit_id"`
	CurrentStatus           string    `json:"current_status"`
	StatusEnteredAt         time.Time `json:"status_entered_at"`
	ExcursionStartedAt      time.Time `json:"excursion_started_at,omitempty"`
	ConsecutiveGoodReadings int       `json:"consecutive_good_readings"`
	LastReadingAt           time.Time `json:"last_reading_at,omitempty"`
	LastDoorOpen            bool      `json:"last_door_open"`
	DoorOpenSince           time.Time `json:"door_open_since,omitempty"`
	LastKnownGoodF          float64   `json:"last_known_good_f"`
	LastKnownGoodAt         time.Time `json:"last_known_good_at,omitempty"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// NewState lazily initializes runtime state on a unit's first reading.
func NewState(unitID string, at time.Time) State {
	return State{
		UnitID:          unitID,
		CurrentStatus:   StatusOK,
		StatusEnteredAt: at,
		UpdatedAt:       at,
	}
}

var allowedTransitions = map[string]map[string]bool{
	StatusOK: {
		StatusExcursion:           true,
		StatusOffline:             true,
		StatusMonitoringInterrupt: true,
		StatusManualRequired:      true,
	},
	StatusExcursion: {
		StatusAlarmActive:         true,
		StatusRestoring:           true,
		StatusOffline:             true,
		StatusMonitoringInterrupt: true,
		StatusManualRequired:      true,
	},
	StatusAlarmActive: {
		StatusRestoring:           true,
		StatusOffline:             true,
		StatusMonitoringInterrupt: true,
		StatusManualRequired:      true,
	},
	StatusRestoring: {
		StatusOK:                  true,
		StatusExcursion:           true,
		StatusAlarmActive:         true,
		StatusOffline:             true,
		StatusMonitoringInterrupt: true,
		StatusManualRequired:      true,
	},
	StatusOffline: {
		StatusOK:                  true,
		StatusExcursion:           true,
		StatusAlarmActive:         true,
		StatusRestoring:           true,
		StatusMonitoringInterrupt: true,
		StatusManualRequired:      true,
	},
	StatusMonitoringInterrupt: {
		StatusOK:             true,
		StatusExcursion:      true,
		StatusAlarmActive:    true,
		StatusRestoring:      true,
		StatusManualRequired: true,
	},
	StatusManualRequired: {
		StatusOK:                  true,
		StatusExcursion:           true,
		StatusAlarmActive:         true,
		StatusRestoring:           true,
		StatusOffline:             true,
		StatusMonitoringInterrupt: true,
	},
}

// CanTransition reports whether from→to follows the documented graph.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	return allowedTransitions[from][to]
}

// Transition moves the state to a new status, stamping StatusEnteredAt.
// Illegal moves return an error and leave the state untouched.
func (s *State) Transition(to string, at time.Time) error {
	if s == nil {
		return fmt.Errorf("unit state: nil state")
	}
	if s.CurrentStatus == to {
		return nil
	}
	if !CanTransition(s.CurrentStatus, to) {
		return fmt.Errorf("unit state: illegal transition %s -> %s", s.CurrentStatus, to)
	}
	s.CurrentStatus = to
	s.StatusEnteredAt = at
	return nil
}

// Offline reports whether the unit is in a liveness-degraded status.
func (s State) Offline() bool {
	return s.CurrentStatus == StatusOffline || s.CurrentStatus == StatusMonitoringInterrupt
}
