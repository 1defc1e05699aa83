package response

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amin2ace/fleet-core/internal/router"
)

// Domain errors for the response package.
var (
	// ErrUnsupportedKind is returned when no schema exists for a message
	// kind.
	ErrUnsupportedKind = errors.New("response: unsupported message kind")

	// ErrCorrelationFailed is returned when a response carries a request
	// id with no pending entry (expired, retired, or forged).
	ErrCorrelationFailed = errors.New("response: no pending request for response")

	// ErrDeviceMismatch is returned when the response's device id differs
	// from the device the pending request targeted.
	ErrDeviceMismatch = errors.New("response: device id mismatch with pending request")

	// ErrRequestEcho is returned when a payload is one of our own
	// outbound requests echoed back on the shared device topic.
	ErrRequestEcho = errors.New("response: payload is an echoed outbound request")
)

// FieldError describes one failing field in a structural validation.
type FieldError struct {
	// Field is the JSON path of the failing field, e.g. "readings.0.value".
	Field string

	// Description explains the failure.
	Description string
}

// ValidationError reports a structural validation failure with every
// failing field, not just the first.
type ValidationError struct {
	Kind   router.Kind
	Fields []FieldError
}

// Error renders all field failures on one line.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "response: %s payload invalid:", e.Kind)
	for _, fe := range e.Fields {
		fmt.Fprintf(&b, " [%s: %s]", fe.Field, fe.Description)
	}
	return b.String()
}
