package readings

import (
	"sort"
	"time"
)

// DefaultWindowSpan bounds how much history detectors can see.
const DefaultWindowSpan = 90 * time.Minute

// Window is a bounded, time-ordered slice of readings for one unit.
// The evaluator owns one window per unit and feeds it to detectors.
type Window struct {
	span     time.Duration
	readings []Reading
}

// NewWindow constructs a window with the given retention span.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = DefaultWindowSpan
	}
	return &Window{span: span}
}

// Add inserts a reading preserving timestamp order and evicts entries
// older than the retention span relative to the newest reading.
func (w *Window) Add(reading Reading) {
	if w == nil || reading.At.IsZero() {
		return
	}
	w.readings = append(w.readings, reading)
	sort.SliceStable(w.readings, func(i, j int) bool {
		return w.readings[i].At.Before(w.readings[j].At)
	})
	newest := w.readings[len(w.readings)-1].At
	cutoff := newest.Add(-w.span)
	idx := sort.Search(len(w.readings), func(i int) bool {
		return !w.readings[i].At.Before(cutoff)
	})
	if idx > 0 {
		w.readings = append([]Reading(nil), w.readings[idx:]...)
	}
}

// Len returns the number of retained readings.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return len(w.readings)
}

// Since returns readings at or after the cutoff, oldest first.
func (w *Window) Since(cutoff time.Time) []Reading {
	if w == nil {
		return nil
	}
	idx := sort.Search(len(w.readings), func(i int) bool {
		return !w.readings[i].At.Before(cutoff)
	})
	return append([]Reading(nil), w.readings[idx:]...)
}

// Newest returns the most recent reading, or false when empty.
func (w *Window) Newest() (Reading, bool) {
	if w == nil || len(w.readings) == 0 {
		return Reading{}, false
	}
	return w.readings[len(w.readings)-1], true
}

// DoorTransitions counts open/close flips within the lookback interval
// ending at the newest reading.
func (w *Window) DoorTransitions(lookback time.Duration) int {
	if w == nil || len(w.readings) == 0 {
		return 0
	}
	newest := w.readings[len(w.readings)-1].At
	recent := w.Since(newest.Add(-lookback))
	transitions := 0
	var last *bool
	for _, reading := range recent {
		if reading.DoorOpen == nil {
			continue
		}
		if last != nil && *last != *reading.DoorOpen {
			transitions++
		}
		last = reading.DoorOpen
	}
	return transitions
}

// Restore replaces window contents from persisted history, oldest first.
func (w *Window) Restore(history []Reading) {
	if w == nil {
		return
	}
	w.readings = w.readings[:0]
	for _, reading := range history {
		w.Add(reading)
	}
}
