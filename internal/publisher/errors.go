package publisher

import "errors"

// Domain errors for the publisher package.
var (
	// ErrInvalidRequest is returned for malformed issue parameters.
	ErrInvalidRequest = errors.New("publisher: invalid request")

	// ErrPublishFailed is returned when the broker publish fails; the
	// pending entry has been rolled back by then.
	ErrPublishFailed = errors.New("publisher: publish failed")
)
