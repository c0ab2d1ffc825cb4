package readings

import (
	"testing"
	"time"
)

func boolPtr(v bool) *bool { return &v }

func windowReading(at time.Time, tempC float64) Reading {
	return Reading{UnitID: "unit-1", SensorID: "sensor-1", At: at, TemperatureC: floatPtr(tempC)}
}

func TestWindow_AddEvictsBeyondSpan(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	w := NewWindow(30 * time.Minute)

	w.Add(windowReading(base, 2))
	w.Add(windowReading(base.Add(10*time.Minute), 2.1))
	w.Add(windowReading(base.Add(45*time.Minute), 2.2))

	if w.Len() != 2 {
		t.Fatalf("expected eviction to 2 readings, got %d", w.Len())
	}
	newest, ok := w.Newest()
	if !ok || !newest.At.Equal(base.Add(45*time.Minute)) {
		t.Fatalf("newest = %+v", newest)
	}
}

func TestWindow_AddKeepsTimestampOrder(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	w := NewWindow(time.Hour)

	w.Add(windowReading(base.Add(20*time.Minute), 3))
	w.Add(windowReading(base, 2))
	w.Add(windowReading(base.Add(10*time.Minute), 2.5))

	all := w.Since(time.Time{})
	if len(all) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].At.Before(all[i-1].At) {
			t.Fatal("readings out of order")
		}
	}
}

func TestWindow_Since(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	w := NewWindow(time.Hour)
	for i := 0; i < 6; i++ {
		w.Add(windowReading(base.Add(time.Duration(i)*10*time.Minute), 2))
	}
	recent := w.Since(base.Add(30 * time.Minute))
	if len(recent) != 3 {
		t.Fatalf("expected 3 readings since cutoff, got %d", len(recent))
	}
	if !recent[0].At.Equal(base.Add(30 * time.Minute)) {
		t.Fatalf("cutoff should be inclusive, first = %v", recent[0].At)
	}
}

func TestWindow_DoorTransitions(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	w := NewWindow(time.Hour)

	states := []bool{false, true, false, true, false}
	for i, open := range states {
		w.Add(Reading{
			UnitID:   "unit-1",
			SensorID: "sensor-1",
			At:       base.Add(time.Duration(i) * 20 * time.Second),
			DoorOpen: boolPtr(open),
		})
	}

	if got := w.DoorTransitions(2 * time.Minute); got != 4 {
		t.Fatalf("DoorTransitions = %d, want 4", got)
	}
	if got := w.DoorTransitions(30 * time.Second); got != 1 {
		t.Fatalf("DoorTransitions narrow lookback = %d, want 1", got)
	}
}

func TestWindow_Restore(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	w := NewWindow(time.Hour)
	w.Add(windowReading(base, 2))

	history := []Reading{
		windowReading(base.Add(time.Minute), 3),
		windowReading(base.Add(2*time.Minute), 4),
	}
	w.Restore(history)

	if w.Len() != 2 {
		t.Fatalf("Restore should replace contents, len = %d", w.Len())
	}
	newest, _ := w.Newest()
	if newest.TemperatureC == nil || *newest.TemperatureC != 4 {
		t.Fatalf("newest after restore = %+v", newest)
	}
}
