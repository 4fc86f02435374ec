package repository

import (
	"context"

	"fleet-control-plane/internal/tamper/domain"
)

// Repository defines persistence for tamper signals.
type Repository interface {
	Create(ctx context.Context, s *domain.Signal) error
	// ListByDevice returns the most recent signals first, at most limit (0 means no limit).
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.Signal, error)
}
