package repository

import (
	"context"
	"encoding/json"
	"time"

	"fleet-control-plane/internal/device/domain"
)

// Repository defines persistence for devices.
type Repository interface {
	// GetByID matches id exactly, then case-insensitively. Returns nil if neither matches.
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	Create(ctx context.Context, d *domain.Device) error
	// TouchHeartbeat marks the device online and records when and from where it was last seen.
	TouchHeartbeat(ctx context.Context, id string, at time.Time, ip string) error
	// RequestDeactivation sets deactivate_requested unless it is already set or the
	// device was deactivated. changed reports whether the row was updated.
	RequestDeactivation(ctx context.Context, id string) (changed bool, err error)
	// ConfirmDeactivation clears the request flag and records deactivated_at.
	ConfirmDeactivation(ctx context.Context, id string, at time.Time) error
	SetRecoveryKey(ctx context.Context, id string, key json.RawMessage) error
	// SetInstallation stores the installation outcome. at and key are left
	// unchanged when nil.
	SetInstallation(ctx context.Context, id string, completed bool, at *time.Time, key json.RawMessage) error
}
