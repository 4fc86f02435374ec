package repository

import (
	"context"

	"fleet-control-plane/internal/heartbeat/domain"
)

// Repository persists heartbeat snapshots.
type Repository interface {
	Create(ctx context.Context, s *domain.Snapshot) error
	// MarkAutoLocked sets auto_locked and lock_reason on a snapshot that is not yet marked.
	MarkAutoLocked(ctx context.Context, id, reason string) error
	// LatestForDevice returns the newest snapshot, or nil if the device never sent one.
	LatestForDevice(ctx context.Context, deviceID string) (*domain.Snapshot, error)
}
