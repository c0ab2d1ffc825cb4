package application

import (
	"fmt"
	"sort"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	readings "coldchain-cloud/internal/readings/domain"
	rules "coldchain-cloud/internal/rules/domain"
	units "coldchain-cloud/internal/units/domain"
)

// Evaluator is the pure decision core. It owns no storage and performs
// no I/O; the service layer feeds it state, rules, and history and
// persists whatever it returns.
type Evaluator struct{}

// NewEvaluator constructs the decision core.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate folds one reading into the unit's runtime state and returns
// the updated state plus the alert intents the reading produced. The
// input state is not mutated. Readings older than the last processed
// one are ignored so replays and duplicates stay harmless.
func (e *Evaluator) Evaluate(state units.State, reading readings.Reading, r rules.EffectiveAlertRules, window *readings.Window, peers []PeerSample) (units.State, []alerts.Intent) {
	if !state.LastReadingAt.IsZero() && reading.At.Before(state.LastReadingAt) {
		return state, nil
	}
	next := state
	window.Add(reading)

	var opens []Candidate
	var resolves []string

	healthOpens, healthClears := detectDeviceHealth(reading, r)
	opens = append(opens, healthOpens...)
	resolves = append(resolves, healthClears...)

	trackDoor(&next, reading, &resolves)

	// A live reading contradicts any standing liveness alarm.
	if next.Offline() {
		resolves = append(resolves, alerts.TypeSensorOffline, alerts.TypeMonitoringInterrupt)
		if !reading.TemperatureImpossible() {
			// Any uplink proves the sensor is back. The confirm clock
			// restarts because the silent gap broke breach continuity;
			// the breach machine recomputes from this reading.
			transition(&next, units.StatusOK, reading.At)
			next.ExcursionStartedAt = time.Time{}
			next.ConsecutiveGoodReadings = 0
		}
	}

	if reading.TemperatureImpossible() {
		// Readings cannot be trusted until the sensor is fixed, so the
		// temperature machine is frozen and a human takes over.
		transition(&next, units.StatusManualRequired, reading.At)
	} else {
		breach, humidityOpens := detectThreshold(reading, r)
		opens = append(opens, humidityOpens...)
		if reading.Humidity != nil && *reading.Humidity <= r.HumidityHighWarn {
			resolves = append(resolves, alerts.TypeHumidityExcursion)
		}
		if reading.HasTemperature() {
			opens = append(opens, e.stepTemperature(&next, reading, breach, r, &resolves)...)

			rateOpens, rapidClear, driftClear := detectRate(window, r)
			opens = append(opens, rateOpens...)
			if rapidClear {
				resolves = append(resolves, alerts.TypeTempRisingFast)
			}
			if driftClear {
				resolves = append(resolves, alerts.TypeTempDrift)
			}
			opens = append(opens, detectPattern(reading, window, peers, r)...)
		}
	}

	opens = append(opens, detectDuration(next, reading, window, r)...)
	if reading.DoorOpen != nil && window.DoorTransitions(r.DoorCycleWindow) < r.DoorCycleCount {
		resolves = append(resolves, alerts.TypeDoorRapidCycle)
	}

	next.LastReadingAt = reading.At
	next.UpdatedAt = reading.At
	return next, buildIntents(reading.UnitID, reading.At, opens, resolves)
}

// EvaluateAbsence is the sweeper path. It reacts to uplink silence with
// the offline and monitoring-interrupted ladders and never touches the
// temperature machine.
func (e *Evaluator) EvaluateAbsence(state units.State, now time.Time, r rules.EffectiveAlertRules) (units.State, []alerts.Intent) {
	if state.LastReadingAt.IsZero() {
		return state, nil
	}
	silence := now.Sub(state.LastReadingAt)
	next := state

	switch {
	case silence >= r.OfflineCritAfter:
		if next.CurrentStatus == units.StatusMonitoringInterrupt {
			return state, nil
		}
		transition(&next, units.StatusMonitoringInterrupt, now)
		next.UpdatedAt = now
		return next, []alerts.Intent{{
			Action:     alerts.IntentOpen,
			UnitID:     state.UnitID,
			Type:       alerts.TypeMonitoringInterrupt,
			Severity:   alerts.SeverityCritical,
			Value:      silence.Minutes(),
			ObservedAt: now,
			Message:    fmt.Sprintf("no readings for %s; monitoring blind", r.OfflineCritAfter),
		}}
	case silence >= r.OfflineWarnAfter:
		if next.Offline() {
			return state, nil
		}
		transition(&next, units.StatusOffline, now)
		next.UpdatedAt = now
		return next, []alerts.Intent{{
			Action:     alerts.IntentOpen,
			UnitID:     state.UnitID,
			Type:       alerts.TypeSensorOffline,
			Severity:   alerts.SeverityWarning,
			Value:      silence.Minutes(),
			ObservedAt: now,
			Message:    fmt.Sprintf("no readings for %s", r.OfflineWarnAfter),
		}}
	default:
		return state, nil
	}
}

// stepTemperature advances the breach machine for one usable reading.
func (e *Evaluator) stepTemperature(next *units.State, reading readings.Reading, breach Breach, r rules.EffectiveAlertRules, resolves *[]string) []Candidate {
	var opens []Candidate

	if breach.Present {
		if next.ExcursionStartedAt.IsZero() {
			next.ExcursionStartedAt = reading.At
		}
		next.ConsecutiveGoodReadings = 0

		if reading.At.Sub(next.ExcursionStartedAt) >= confirmWindow(next, r) {
			transition(next, units.StatusAlarmActive, reading.At)
		} else {
			transition(next, units.StatusExcursion, reading.At)
		}

		direction := "above"
		bound := r.TempHighWarnF
		if !breach.High {
			direction = "below"
			bound = r.TempLowWarnF
		}
		opens = append(opens, Candidate{
			Type:     alerts.TypeTempExcursion,
			Severity: breach.Severity,
			Value:    breach.ValueF,
			Message:  fmt.Sprintf("temperature %.1f°F %s %.1f°F", breach.ValueF, direction, bound),
		})
		return opens
	}

	next.LastKnownGoodF = breach.ValueF
	next.LastKnownGoodAt = reading.At

	// The hysteresis band keeps units hovering near a threshold from
	// flapping between excursion and recovery.
	safe := breach.ValueF <= r.TempHighWarnF-r.HysteresisF &&
		breach.ValueF >= r.TempLowWarnF+r.HysteresisF

	if !safe {
		next.ConsecutiveGoodReadings = 0
		if next.CurrentStatus == units.StatusRestoring {
			// Recovery stalled before the value cleared the band; back
			// to the breach machine, confirming from this reading.
			if next.ExcursionStartedAt.IsZero() {
				next.ExcursionStartedAt = reading.At
			}
			if reading.At.Sub(next.ExcursionStartedAt) >= confirmWindow(next, r) {
				transition(next, units.StatusAlarmActive, reading.At)
			} else {
				transition(next, units.StatusExcursion, reading.At)
			}
		}
		return opens
	}

	// Fully clear of the band: the confirm clock resets so a later
	// breach is measured from its own start, never the previous one.
	next.ExcursionStartedAt = time.Time{}

	switch next.CurrentStatus {
	case units.StatusExcursion, units.StatusAlarmActive, units.StatusRestoring:
		transition(next, units.StatusRestoring, reading.At)
		next.ConsecutiveGoodReadings++
		if next.ConsecutiveGoodReadings < r.RecoveryReadings {
			return opens
		}
		transition(next, units.StatusOK, reading.At)
		next.ConsecutiveGoodReadings = 0
		*resolves = append(*resolves,
			alerts.TypeTempExcursion,
			alerts.TypeTempSustainedDanger,
			alerts.TypeSiteWideTempRise,
			alerts.TypeIsolatedUnitFailure,
			alerts.TypeGasketLeak,
		)
	default:
		transition(next, units.StatusOK, reading.At)
		next.ConsecutiveGoodReadings = 0
	}
	return opens
}

// confirmWindow picks the confirm time for the door contact position.
func confirmWindow(state *units.State, r rules.EffectiveAlertRules) time.Duration {
	if state.LastDoorOpen {
		return r.ConfirmTimeDoorOpen
	}
	return r.ConfirmTimeDoorClosed
}

// trackDoor maintains door contact state and clears door alarms when
// the door closes.
func trackDoor(next *units.State, reading readings.Reading, resolves *[]string) {
	if reading.DoorOpen == nil {
		return
	}
	open := *reading.DoorOpen
	if open && !next.LastDoorOpen {
		next.DoorOpenSince = reading.At
	}
	if !open {
		if next.LastDoorOpen {
			*resolves = append(*resolves, alerts.TypeDoorOpenWarning, alerts.TypeDoorOpenCritical)
		}
		next.DoorOpenSince = time.Time{}
	}
	next.LastDoorOpen = open
}

// transition applies a status change when the graph allows it. The
// evaluator only requests legal moves; an illegal request is a bug and
// is dropped rather than corrupting the record.
func transition(next *units.State, to string, at time.Time) {
	_ = next.Transition(to, at)
}

// buildIntents converts detector candidates into ordered lifecycle
// intents. Opens come first, highest severity first, ties broken by a
// fixed type order so dispatch is deterministic per reading. Duplicate
// types keep only the strongest candidate.
func buildIntents(unitID string, at time.Time, opens []Candidate, resolves []string) []alerts.Intent {
	if len(opens) == 0 && len(resolves) == 0 {
		return nil
	}

	strongest := make(map[string]Candidate, len(opens))
	for _, candidate := range opens {
		if held, ok := strongest[candidate.Type]; ok && alerts.SeverityRank(held.Severity) >= alerts.SeverityRank(candidate.Severity) {
			continue
		}
		strongest[candidate.Type] = candidate
	}
	deduped := make([]Candidate, 0, len(strongest))
	for _, candidate := range strongest {
		deduped = append(deduped, candidate)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		ri, rj := alerts.SeverityRank(deduped[i].Severity), alerts.SeverityRank(deduped[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return alerts.TypePriority(deduped[i].Type) < alerts.TypePriority(deduped[j].Type)
	})

	intents := make([]alerts.Intent, 0, len(deduped)+len(resolves))
	for _, candidate := range deduped {
		intents = append(intents, alerts.Intent{
			Action:     alerts.IntentOpen,
			UnitID:     unitID,
			Type:       candidate.Type,
			Severity:   candidate.Severity,
			Value:      candidate.Value,
			ObservedAt: at,
			Message:    candidate.Message,
		})
	}

	seen := make(map[string]bool, len(resolves))
	for _, alertType := range resolves {
		if seen[alertType] || strongest[alertType].Type != "" {
			continue
		}
		seen[alertType] = true
		intents = append(intents, alerts.Intent{
			Action:     alerts.IntentResolve,
			UnitID:     unitID,
			Type:       alertType,
			ObservedAt: at,
		})
	}
	return intents
}
