package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrDomainRejected is returned when a well-formed response is
	// refused by the state machine (device refused an operation, guard
	// failed). A domain rejection is a recorded outcome, not a system
	// fault.
	ErrDomainRejected = errors.New("engine: response rejected by state machine")

	// ErrUnexpectedResponse is returned for response bodies the engine
	// has no transition for.
	ErrUnexpectedResponse = errors.New("engine: unexpected response type")
)
