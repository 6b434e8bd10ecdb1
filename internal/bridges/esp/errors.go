package esp

import (
	"errors"
	"fmt"
)

// Domain errors for the ESP bridge package.
var (
	// ErrTransport is returned when a node could not be reached or answered
	// with a server-side failure. Callers may retry.
	ErrTransport = errors.New("esp: transport failure")

	// ErrProtocol is returned when a node answered with a body that is not
	// the expected JSON document. Retrying will not help.
	ErrProtocol = errors.New("esp: malformed response")

	// ErrRejected is returned when a node refused a request as invalid (4xx).
	ErrRejected = errors.New("esp: request rejected")

	// ErrMalformedAnnouncement is returned when a discovery reply does not
	// match the DEVICE announcement format.
	ErrMalformedAnnouncement = errors.New("esp: malformed announcement")
)

// StatusError reports an unexpected HTTP status from a node.
//
// It unwraps to ErrRejected for 4xx codes and to ErrTransport otherwise, so
// callers can branch with errors.Is.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("esp: %s returned status %d", e.Path, e.StatusCode)
}

// Unwrap classifies the status.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return ErrRejected
	}
	return ErrTransport
}
