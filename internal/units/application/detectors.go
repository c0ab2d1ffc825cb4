package application

import (
	"fmt"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	readings "coldchain-cloud/internal/readings/domain"
	rules "coldchain-cloud/internal/rules/domain"
	units "coldchain-cloud/internal/units/domain"
)

// Candidate is one detector's vote for an alarm condition.
type Candidate struct {
	Type     string
	Severity string
	Value    float64
	Message  string
}

// Breach describes a temperature threshold violation for the state machine.
type Breach struct {
	Present  bool
	High     bool
	Severity string
	ValueF   float64
}

// PeerSample summarizes a sibling unit's recent temperature movement for
// cross-unit correlation. DeltaF is the rise over the correlation window.
type PeerSample struct {
	UnitID   string
	CurrentF float64
	DeltaF   float64
}

// detectThreshold checks single-reading warning/critical bounds (tier 1).
// Temperature breaches feed the state machine; humidity breaches become
// candidates directly.
func detectThreshold(reading readings.Reading, r rules.EffectiveAlertRules) (Breach, []Candidate) {
	var breach Breach
	var candidates []Candidate

	if reading.HasTemperature() {
		value := reading.TemperatureF()
		switch {
		case value > r.TempHighCritF:
			breach = Breach{Present: true, High: true, Severity: alerts.SeverityCritical, ValueF: value}
		case value > r.TempHighWarnF:
			breach = Breach{Present: true, High: true, Severity: alerts.SeverityWarning, ValueF: value}
		case value < r.TempLowCritF:
			breach = Breach{Present: true, High: false, Severity: alerts.SeverityCritical, ValueF: value}
		case value < r.TempLowWarnF:
			breach = Breach{Present: true, High: false, Severity: alerts.SeverityWarning, ValueF: value}
		default:
			breach = Breach{ValueF: value}
		}
	}

	if reading.Humidity != nil {
		humidity := *reading.Humidity
		switch {
		case humidity > r.HumidityHighCrit:
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeHumidityExcursion,
				Severity: alerts.SeverityCritical,
				Value:    humidity,
				Message:  fmt.Sprintf("humidity %.1f%% above critical %.1f%%", humidity, r.HumidityHighCrit),
			})
		case humidity > r.HumidityHighWarn:
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeHumidityExcursion,
				Severity: alerts.SeverityWarning,
				Value:    humidity,
				Message:  fmt.Sprintf("humidity %.1f%% above warning %.1f%%", humidity, r.HumidityHighWarn),
			})
		}
	}
	return breach, candidates
}

// detectRate distinguishes fast rises from gradual drift (tier 2).
// Fast change implies equipment failure, slow drift implies degradation.
func detectRate(window *readings.Window, r rules.EffectiveAlertRules) (candidates []Candidate, rapidClear, driftClear bool) {
	rapidClear = true
	driftClear = true
	newest, ok := window.Newest()
	if !ok || !newest.HasTemperature() {
		return nil, rapidClear, driftClear
	}
	current := newest.TemperatureF()

	if rise, _, ok := riseOver(window, newest.At, r.RapidRiseWindow); ok {
		if rise >= r.RapidRiseF {
			rapidClear = false
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeTempRisingFast,
				Severity: alerts.SeverityCritical,
				Value:    current,
				Message:  fmt.Sprintf("temperature rose %.1f°F within %s", rise, r.RapidRiseWindow),
			})
		}
	}

	// Drift only means something over most of its window; a short burst
	// of history is the rapid detector's territory.
	if rise, span, ok := riseOver(window, newest.At, r.DriftWindow); ok && span >= r.DriftWindow/2 {
		if rise >= r.DriftRiseF {
			driftClear = false
			if rapidClear {
				candidates = append(candidates, Candidate{
					Type:     alerts.TypeTempDrift,
					Severity: alerts.SeverityWarning,
					Value:    current,
					Message:  fmt.Sprintf("temperature drifted %.1f°F over %s", rise, r.DriftWindow),
				})
			}
		}
	}
	return candidates, rapidClear, driftClear
}

// riseOver computes the temperature rise between the oldest usable reading
// within the lookback interval and the newest one, plus the span covered.
func riseOver(window *readings.Window, newestAt time.Time, lookback time.Duration) (float64, time.Duration, bool) {
	recent := window.Since(newestAt.Add(-lookback))
	var first, last *readings.Reading
	for i := range recent {
		if !recent[i].HasTemperature() {
			continue
		}
		if first == nil {
			first = &recent[i]
		}
		last = &recent[i]
	}
	if first == nil || last == nil || first == last {
		return 0, 0, false
	}
	return last.TemperatureF() - first.TemperatureF(), last.At.Sub(first.At), true
}

// detectDuration handles sustained breaches, door-open duration tiers,
// and door rapid cycling (tier 3).
func detectDuration(state units.State, reading readings.Reading, window *readings.Window, r rules.EffectiveAlertRules) []Candidate {
	var candidates []Candidate

	if !state.ExcursionStartedAt.IsZero() {
		elapsed := reading.At.Sub(state.ExcursionStartedAt)
		if checkpoint, ok := passedCheckpoint(elapsed, r.SustainedCheckpoints); ok {
			severity := alerts.SeverityWarning
			if checkpoint >= 15*time.Minute {
				severity = alerts.SeverityCritical
			}
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeTempSustainedDanger,
				Severity: severity,
				Value:    elapsed.Minutes(),
				Message:  fmt.Sprintf("breach sustained for %s", checkpoint),
			})
		}
	}

	if state.LastDoorOpen && !state.DoorOpenSince.IsZero() {
		openFor := reading.At.Sub(state.DoorOpenSince)
		if openFor >= r.DoorCritAfter {
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeDoorOpenCritical,
				Severity: alerts.SeverityCritical,
				Value:    openFor.Minutes(),
				Message:  fmt.Sprintf("door open for %s", r.DoorCritAfter),
			})
		}
		if openFor >= r.DoorWarnAfter {
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeDoorOpenWarning,
				Severity: alerts.SeverityWarning,
				Value:    openFor.Minutes(),
				Message:  fmt.Sprintf("door open for %s", r.DoorWarnAfter),
			})
		}
	}

	if r.DoorCycleCount > 0 && window.DoorTransitions(r.DoorCycleWindow) >= r.DoorCycleCount {
		candidates = append(candidates, Candidate{
			Type:     alerts.TypeDoorRapidCycle,
			Severity: alerts.SeverityWarning,
			Value:    float64(window.DoorTransitions(r.DoorCycleWindow)),
			Message:  fmt.Sprintf("door cycled %d+ times within %s", r.DoorCycleCount, r.DoorCycleWindow),
		})
	}
	return candidates
}

// passedCheckpoint returns the largest checkpoint the elapsed duration
// has reached.
func passedCheckpoint(elapsed time.Duration, checkpoints []time.Duration) (time.Duration, bool) {
	var passed time.Duration
	for _, checkpoint := range checkpoints {
		if elapsed >= checkpoint {
			passed = checkpoint
		}
	}
	return passed, passed > 0
}

// detectPattern correlates this unit's movement with its site peers
// (tier 4). Requires at least two sensors reporting inside the window.
func detectPattern(reading readings.Reading, window *readings.Window, peers []PeerSample, r rules.EffectiveAlertRules) []Candidate {
	if !reading.HasTemperature() || len(peers) == 0 {
		return nil
	}
	var candidates []Candidate
	current := reading.TemperatureF()

	ownRise, _, ok := riseOver(window, reading.At, r.CorrelationWindow)
	if !ok {
		ownRise = 0
	}

	risingPeers := 0
	var peerSum float64
	for _, peer := range peers {
		peerSum += peer.CurrentF
		if peer.DeltaF >= r.SiteRiseDeltaF {
			risingPeers++
		}
	}
	peerMean := peerSum / float64(len(peers))

	if ownRise >= r.SiteRiseDeltaF && risingPeers+1 >= r.SiteRiseMinSensors {
		candidates = append(candidates, Candidate{
			Type:     alerts.TypeSiteWideTempRise,
			Severity: alerts.SeverityWarning,
			Value:    current,
			Message:  fmt.Sprintf("%d sensors rising together; shared cause suspected", risingPeers+1),
		})
	}

	if risingPeers == 0 && current-peerMean >= r.IsolatedDeltaF {
		candidates = append(candidates, Candidate{
			Type:     alerts.TypeIsolatedUnitFailure,
			Severity: alerts.SeverityWarning,
			Value:    current,
			Message:  fmt.Sprintf("unit %.1f°F above site peers; sensor fault or localized leak", current-peerMean),
		})
	}

	if reading.Humidity != nil && reading.DoorOpen != nil && !*reading.DoorOpen {
		if humidityRise, ok := humidityRiseOver(window, reading.At, r.CorrelationWindow); ok {
			if ownRise >= r.SiteRiseDeltaF && humidityRise >= r.GasketHumidityRise {
				candidates = append(candidates, Candidate{
					Type:     alerts.TypeGasketLeak,
					Severity: alerts.SeverityWarning,
					Value:    *reading.Humidity,
					Message:  "temperature and humidity rising with door closed",
				})
			}
		}
	}
	return candidates
}

func humidityRiseOver(window *readings.Window, newestAt time.Time, lookback time.Duration) (float64, bool) {
	recent := window.Since(newestAt.Add(-lookback))
	var first, last *float64
	for i := range recent {
		if recent[i].Humidity == nil {
			continue
		}
		value := *recent[i].Humidity
		if first == nil {
			v := value
			first = &v
		}
		v := value
		last = &v
	}
	if first == nil || last == nil {
		return 0, false
	}
	return *last - *first, true
}

// detectDeviceHealth checks battery, signal, and impossible raw values
// (tier 5). Uplink absence belongs to the liveness sweeper, not here.
func detectDeviceHealth(reading readings.Reading, r rules.EffectiveAlertRules) (candidates []Candidate, clears []string) {
	if reading.TemperatureImpossible() {
		candidates = append(candidates, Candidate{
			Type:     alerts.TypeReadingImpossible,
			Severity: alerts.SeverityCritical,
			Value:    *reading.TemperatureC,
			Message:  fmt.Sprintf("raw value %.2f outside physical range", *reading.TemperatureC),
		})
	} else if reading.TemperatureC != nil {
		clears = append(clears, alerts.TypeReadingImpossible)
	}

	if reading.BatteryVoltage != nil {
		volts := *reading.BatteryVoltage
		switch {
		case volts < r.BatteryCritVolts:
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeBatteryCritical,
				Severity: alerts.SeverityCritical,
				Value:    volts,
				Message:  fmt.Sprintf("battery %.2fV below critical %.2fV", volts, r.BatteryCritVolts),
			})
		case volts < r.BatteryWarnVolts:
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeLowBattery,
				Severity: alerts.SeverityWarning,
				Value:    volts,
				Message:  fmt.Sprintf("battery %.2fV below warning %.2fV", volts, r.BatteryWarnVolts),
			})
		default:
			clears = append(clears, alerts.TypeLowBattery, alerts.TypeBatteryCritical)
		}
	}

	if reading.RSSI != nil {
		if *reading.RSSI < r.RSSIFloor {
			candidates = append(candidates, Candidate{
				Type:     alerts.TypeSignalPoor,
				Severity: alerts.SeverityWarning,
				Value:    float64(*reading.RSSI),
				Message:  fmt.Sprintf("rssi %ddBm below floor %ddBm", *reading.RSSI, r.RSSIFloor),
			})
		} else {
			clears = append(clears, alerts.TypeSignalPoor)
		}
	}
	return candidates, clears
}
