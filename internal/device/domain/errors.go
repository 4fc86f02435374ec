package domain

import "errors"

var (
	// ErrDeviceNotFound is returned when no device matches the id, exactly or case-insensitively.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceExists is returned when registering an id that is already taken.
	ErrDeviceExists = errors.New("device already registered")
	// ErrAlreadyDeactivated is returned when deactivation is requested for a deactivated device.
	ErrAlreadyDeactivated = errors.New("device already deactivated")
)
