package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/router"
)

// Logger is the minimal logging interface the validator needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Validator turns raw routed payloads into typed, correlated responses.
//
// Order of checks:
//  1. Structural validation against the kind's JSON schema; failures
//     report every failing field and the message is dropped.
//  2. Decode into the kind's typed struct.
//  3. Correlation lookup in the pending store; a miss is a correlation
//     error (expired/forged ids are indistinguishable).
//  4. Device id cross-check against the cached request; a mismatch is
//     rejected, never forwarded.
//
// The pending entry is NOT retired here; the state engine retires it
// after the transition commits, so a persistence failure leaves the
// entry available for a retried message.
type Validator struct {
	store  *pending.Store
	logger Logger
}

// NewValidator creates a validator over a pending-request store.
func NewValidator(store *pending.Store, logger Logger) *Validator {
	return &Validator{
		store:  store,
		logger: logger,
	}
}

// Validate processes one routed payload.
//
// Parameters:
//   - ctx: Context for the correlation lookup
//   - kind: The routed message kind
//   - payload: Raw JSON payload, already past the router's structural gate
//
// Returns:
//   - *Validated: Typed, correlated response for the state engine
//   - error: *ValidationError, ErrUnsupportedKind, ErrCorrelationFailed
//     or ErrDeviceMismatch
func (v *Validator) Validate(ctx context.Context, kind router.Kind, payload []byte) (*Validated, error) {
	// Requests and responses share the same device topics, so every
	// request we publish echoes straight back through our own
	// subscription. Echoes carry the request's "action" field, which no
	// response schema defines; drop them quietly before schema checks.
	var echo struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &echo); err == nil && echo.Action != "" {
		v.logger.Debug("dropping echoed outbound request",
			"kind", string(kind),
			"action", echo.Action,
		)
		return nil, fmt.Errorf("%w: %s", ErrRequestEcho, echo.Action)
	}

	if err := checkSchema(kind, payload); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			v.logger.Error("response failed structural validation",
				"kind", string(kind),
				"failing_fields", len(verr.Fields),
				"detail", verr.Error(),
			)
		}
		return nil, err
	}

	body, requestID, deviceID, err := decode(kind, payload)
	if err != nil {
		return nil, err
	}

	cached, err := v.store.Lookup(ctx, requestID)
	if err != nil {
		if errors.Is(err, pending.ErrNoPendingRequest) {
			v.logger.Warn("response has no pending request",
				"kind", string(kind),
				"request_id", requestID,
				"device_id", deviceID,
			)
			return nil, fmt.Errorf("%w: %s", ErrCorrelationFailed, requestID)
		}
		return nil, fmt.Errorf("looking up pending request %s: %w", requestID, err)
	}

	if cached.DeviceID != deviceID {
		v.logger.Warn("response device id does not match pending request",
			"request_id", requestID,
			"expected_device", cached.DeviceID,
			"actual_device", deviceID,
		)
		return nil, fmt.Errorf("%w: expected %s, got %s",
			ErrDeviceMismatch, cached.DeviceID, deviceID)
	}

	return &Validated{
		Kind:      kind,
		RequestID: requestID,
		DeviceID:  deviceID,
		Pending:   cached,
		Body:      body,
	}, nil
}

// decode unmarshals a schema-valid payload into its typed struct and
// extracts the correlation identifiers.
func decode(kind router.Kind, payload []byte) (body any, requestID, deviceID string, err error) {
	switch kind {
	case router.KindDiscovery:
		var r Discovery
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindAssignmentAck:
		var r AssignmentAck
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindHeartbeat:
		var r Heartbeat
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindTelemetry:
		var r Telemetry
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindHardwareStatus:
		var r HardwareStatus
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindConfigAck:
		var r ConfigAck
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindRebootAck:
		var r RebootAck
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	case router.KindUpgradeAck:
		var r UpgradeAck
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, "", "", fmt.Errorf("decoding %s: %w", kind, err)
		}
		return &r, r.RequestID, r.DeviceID, nil
	default:
		return nil, "", "", fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}
