package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown or soft-deleted device
//	}
var (
	// ErrDeviceNotFound is returned when no matching, non-deleted device
	// exists.
	ErrDeviceNotFound = errors.New("device: device not found")

	// ErrDeviceExists is returned when creating a device whose id is
	// already taken. Soft-deleted rows count; device ids are never reused.
	ErrDeviceExists = errors.New("device: device already exists")

	// ErrInvalidDevice is returned for malformed device data.
	ErrInvalidDevice = errors.New("device: invalid device")
)
