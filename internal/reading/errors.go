package reading

import "errors"

// Domain errors for the reading package.
var (
	// ErrInvalidReading is returned for readings without a sensor or timestamp.
	ErrInvalidReading = errors.New("reading: invalid")

	// ErrSentinel is returned when a failed-sample marker reaches the engine.
	ErrSentinel = errors.New("reading: sentinel value")

	// ErrStore wraps any persistence failure surfaced by the engine.
	ErrStore = errors.New("reading: store failure")
)
