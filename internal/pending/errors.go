package pending

import "errors"

// Domain errors for the pending package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, pending.ErrNoPendingRequest) {
//	    // response expired or carries an unknown request id
//	}
var (
	// ErrNoPendingRequest is returned when no entry exists for a request id.
	// Expired entries and forged/unknown ids are indistinguishable.
	ErrNoPendingRequest = errors.New("pending: no pending request found")

	// ErrInvalidRequest is returned when registering a request with no id
	// or a non-positive TTL.
	ErrInvalidRequest = errors.New("pending: invalid request")

	// ErrStoreUnavailable is returned when the backing Redis store cannot
	// be reached.
	ErrStoreUnavailable = errors.New("pending: store unavailable")
)
