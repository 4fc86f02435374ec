package repository

import (
	"context"
	"time"

	"fleet-control-plane/internal/management/domain"
)

// Transition describes a lock state change.
type Transition struct {
	DeviceID string
	Reason   string
	Actor    string
	At       time.Time
}

// Repository defines persistence for device management state. Lock and unlock
// update the device row and the management row in one transaction.
type Repository interface {
	// Get returns the management state, or nil if the device has none yet.
	Get(ctx context.Context, deviceID string) (*domain.State, error)
	// LockIfUnlocked locks the device unless it is locked already. locked reports whether this call transitioned it.
	LockIfUnlocked(ctx context.Context, t Transition) (locked bool, err error)
	// UnlockIfLocked unlocks a locked device. unlocked reports whether this call transitioned it.
	UnlockIfLocked(ctx context.Context, t Transition) (unlocked bool, err error)
}
