package device

import "errors"

// Registry errors; match with errors.Is.
var (
	// ErrDeviceNotFound is returned when an address is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrSensorNotFound is returned when a sensor id is not registered.
	ErrSensorNotFound = errors.New("device: sensor not found")

	// ErrInvalidParameters is returned when pushed parameters are outside
	// the range a node accepts.
	ErrInvalidParameters = errors.New("device: invalid parameters")
)
