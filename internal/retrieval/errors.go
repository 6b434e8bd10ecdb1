package retrieval

import "errors"

// Domain errors for the retrieval package.
var (
	// ErrRetriesExhausted is returned when every attempt of a request failed.
	ErrRetriesExhausted = errors.New("retrieval: retries exhausted")
)
