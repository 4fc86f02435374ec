package repository

import (
	"context"
	"time"

	"fleet-control-plane/internal/history/domain"
)

// ListFilter narrows ListByDevice. Zero values mean no constraint.
type ListFilter struct {
	Action string
	Since  time.Time
	Limit  int
}

// Repository defines persistence for the device audit trail. Entries are never updated.
type Repository interface {
	Create(ctx context.Context, e *domain.Entry) error
	// FirstByAction returns the oldest entry for deviceID with the given action, or nil if none.
	FirstByAction(ctx context.Context, deviceID, action string) (*domain.Entry, error)
	// ListByDevice returns entries newest first.
	ListByDevice(ctx context.Context, deviceID string, f ListFilter) ([]*domain.Entry, error)
}
