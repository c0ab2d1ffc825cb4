package alerts

import "errors"

// ErrNotFound is returned when an alert id does not exist.
var ErrNotFound = errors.New("alerts: not found")

// ErrAlreadyResolved is returned when acknowledging a resolved alert.
var ErrAlreadyResolved = errors.New("alerts: already resolved")

// ErrLifecycleConflict is returned to the loser of a concurrent
// transition race. Non-fatal; the record already reached the state.
var ErrLifecycleConflict = errors.New("alerts: already transitioned")
