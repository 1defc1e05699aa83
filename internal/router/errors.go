package router

import "errors"

// Domain errors for the router package.
var (
	// ErrUnroutableTopic is returned when no routing rule matches a topic.
	ErrUnroutableTopic = errors.New("router: unroutable topic")

	// ErrMalformedPayload is returned when a payload fails the structural
	// gate (must be a non-empty JSON object).
	ErrMalformedPayload = errors.New("router: malformed payload")
)
