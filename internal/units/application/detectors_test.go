package application

import (
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	readings "coldchain-cloud/internal/readings/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

func TestPassedCheckpoint(t *testing.T) {
	checkpoints := rules.Defaults().SustainedCheckpoints

	cases := []struct {
		elapsed time.Duration
		want    time.Duration
		ok      bool
	}{
		{2 * time.Minute, 0, false},
		{5 * time.Minute, 5 * time.Minute, true},
		{12 * time.Minute, 10 * time.Minute, true},
		{45 * time.Minute, 30 * time.Minute, true},
		{2 * time.Hour, 60 * time.Minute, true},
	}
	for _, tc := range cases {
		got, ok := passedCheckpoint(tc.elapsed, checkpoints)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("passedCheckpoint(%v) = %v, %v; want %v, %v", tc.elapsed, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRiseOver_NeedsTwoUsableReadings(t *testing.T) {
	window := readings.NewWindow(readings.DefaultWindowSpan)
	window.Add(tempReading(evalStart, 36))

	if _, _, ok := riseOver(window, evalStart, 20*time.Minute); ok {
		t.Fatal("single reading cannot establish a rise")
	}

	window.Add(tempReading(evalStart.Add(10*time.Minute), 41))
	rise, span, ok := riseOver(window, evalStart.Add(10*time.Minute), 20*time.Minute)
	if !ok {
		t.Fatal("two readings should establish a rise")
	}
	if rise != 5 {
		t.Fatalf("rise = %v", rise)
	}
	if span != 10*time.Minute {
		t.Fatalf("span = %v", span)
	}
}

func TestRiseOver_LookbackBoundsTheComparison(t *testing.T) {
	window := readings.NewWindow(readings.DefaultWindowSpan)
	window.Add(tempReading(evalStart, 20))
	window.Add(tempReading(evalStart.Add(30*time.Minute), 36))
	window.Add(tempReading(evalStart.Add(40*time.Minute), 38))

	// Only the last two readings fall inside a 15 minute lookback.
	rise, _, ok := riseOver(window, evalStart.Add(40*time.Minute), 15*time.Minute)
	if !ok || rise != 2 {
		t.Fatalf("rise = %v, ok = %v", rise, ok)
	}
}

func TestDetectPattern_GasketLeakNeedsClosedDoor(t *testing.T) {
	r := rules.Defaults()
	window := readings.NewWindow(readings.DefaultWindowSpan)
	peers := []PeerSample{{UnitID: "unit-2", CurrentF: 36}}

	humidity := func(at time.Time, f, h float64, doorOpen bool) readings.Reading {
		reading := doorReading(at, f, doorOpen)
		reading.Humidity = &h
		return reading
	}

	window.Add(humidity(evalStart, 34, 50, false))
	closed := humidity(evalStart.Add(10*time.Minute), 39, 62, false)
	window.Add(closed)

	candidates := detectPattern(closed, window, peers, r)
	found := false
	for _, candidate := range candidates {
		if candidate.Type == alerts.TypeGasketLeak {
			found = true
		}
	}
	if !found {
		t.Fatalf("temp and humidity rising with door closed should infer a gasket leak: %+v", candidates)
	}

	// The same movement with the door open is just a door event.
	window = readings.NewWindow(readings.DefaultWindowSpan)
	window.Add(humidity(evalStart, 34, 50, true))
	open := humidity(evalStart.Add(10*time.Minute), 39, 62, true)
	window.Add(open)
	for _, candidate := range detectPattern(open, window, peers, r) {
		if candidate.Type == alerts.TypeGasketLeak {
			t.Fatal("open door must suppress the gasket inference")
		}
	}
}

func TestDetectDeviceHealth_BatteryTiers(t *testing.T) {
	r := rules.Defaults()

	reading := tempReading(evalStart, 36)
	volts := 2.3
	reading.BatteryVoltage = &volts
	candidates, _ := detectDeviceHealth(reading, r)
	if len(candidates) != 1 || candidates[0].Type != alerts.TypeLowBattery {
		t.Fatalf("2.3V should warn: %+v", candidates)
	}

	volts = 2.1
	candidates, _ = detectDeviceHealth(reading, r)
	if len(candidates) != 1 || candidates[0].Type != alerts.TypeBatteryCritical {
		t.Fatalf("2.1V should be critical: %+v", candidates)
	}

	volts = 3.0
	_, clears := detectDeviceHealth(reading, r)
	wantCleared := map[string]bool{}
	for _, alertType := range clears {
		wantCleared[alertType] = true
	}
	if !wantCleared[alerts.TypeLowBattery] || !wantCleared[alerts.TypeBatteryCritical] {
		t.Fatalf("healthy battery should clear both tiers: %v", clears)
	}
}

func TestDetectDeviceHealth_SignalFloor(t *testing.T) {
	r := rules.Defaults()

	reading := tempReading(evalStart, 36)
	rssi := -115
	reading.RSSI = &rssi
	candidates, _ := detectDeviceHealth(reading, r)
	found := false
	for _, candidate := range candidates {
		if candidate.Type == alerts.TypeSignalPoor {
			found = true
		}
	}
	if !found {
		t.Fatalf("-115dBm is below the floor: %+v", candidates)
	}

	rssi = -90
	_, clears := detectDeviceHealth(reading, r)
	cleared := false
	for _, alertType := range clears {
		if alertType == alerts.TypeSignalPoor {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("-90dBm should clear signal_poor: %v", clears)
	}
}
